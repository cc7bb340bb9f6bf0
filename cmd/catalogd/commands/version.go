package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/catalogd/internal/output"
	"github.com/jmylchreest/catalogd/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().String("format", "", "structured output: json, jsonl, yaml")

	// version works without a readable config.
	versionCmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
}

func runVersion(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("format")
	if name == "" {
		fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		return nil
	}
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}
	return output.WriteOne(cmd.OutOrStdout(), format, version.Get())
}
