package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/catalogd/internal/catalog"
	"github.com/jmylchreest/catalogd/internal/logger"
	"github.com/jmylchreest/catalogd/internal/output"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the stored catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries ordered by id",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogShow,
}

var catalogStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List entries not seen by a run recently",
	Long: `List catalog entries whose last successful reconciliation is older than
--older-than. Entries are reported only; nothing is deleted.`,
	Args: cobra.NoArgs,
	RunE: runCatalogStale,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogShowCmd, catalogStaleCmd)

	catalogCmd.PersistentFlags().String("format", "json", "output format: json, jsonl, yaml")

	catalogListCmd.Flags().Int("limit", 0, "max entries (0 = all)")
	catalogListCmd.Flags().Int("offset", 0, "entries to skip")

	catalogStaleCmd.Flags().Duration("older-than", 72*time.Hour, "report entries last seen before now minus this")
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	if limit < 0 || offset < 0 {
		return fmt.Errorf("--limit and --offset must not be negative")
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, catalog.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	logger.Debug("catalog listed", "shown", len(entries), "total", total)
	return writeProducts(cmd, format, entries)
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return fmt.Errorf("invalid id %q", args[0])
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("entry %d: %w", id, err)
	}
	return output.WriteOne(cmd.OutOrStdout(), format, output.ProductFromEntry(entry))
}

func runCatalogStale(cmd *cobra.Command, _ []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().Add(-olderThan)
	entries, err := store.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("stale entries", "count", len(entries), "not_seen_since", humanize.Time(cutoff))
	return writeProducts(cmd, format, entries)
}

func writeProducts(cmd *cobra.Command, format output.Format, entries []catalog.Entry) error {
	w, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}
	for _, p := range output.Products(entries) {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return w.Close()
}
