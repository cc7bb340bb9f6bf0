// Package commands implements the catalogd CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/catalogd/internal/config"
	"github.com/jmylchreest/catalogd/internal/logger"
)

var (
	v   = config.New()
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "catalogd",
	Short: "Scrape a product listing and reconcile it into a catalog",
	Long: `catalogd renders a third-party product listing page, extracts every
product on it and upserts them into a catalog keyed by the product's
detail-page URL. Items that cannot be extracted are skipped.

Examples:
  # Run the HTTP service (POST /api/update-products/ starts a run)
  catalogd serve --config catalogd.yaml

  # One run in the foreground, without a browser
  catalogd scrape --engine static --format yaml

  # Inspect the catalog
  catalogd catalog list --limit 20
  catalogd catalog stale --older-than 72h`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./catalogd.yaml, then $HOME/.catalogd.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.Bool("log-json", false, "log as JSON")

	_ = v.BindPFlag("log.json", flags.Lookup("log-json"))
}

// initConfig loads the configuration and sets up logging before any
// subcommand runs.
func initConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, path); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	debug, _ := cmd.Flags().GetBool("debug")
	quiet, _ := cmd.Flags().GetBool("quiet")
	logger.Init(logger.Options{
		Level: cfg.Log.Level,
		Debug: debug,
		Quiet: quiet,
		JSON:  cfg.Log.JSON,
	})
	logger.Debug("config loaded",
		"file", v.ConfigFileUsed(),
		"database", cfg.Database.Driver,
		"engine", cfg.Render.Engine,
		"target_url", cfg.Scraper.TargetURL)
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
