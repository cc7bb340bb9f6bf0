package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/catalogd/internal/output"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one catalog reconciliation in the foreground",
	Long: `Render the configured listing page, extract every product and upsert it
into the catalog, then print the run report.

Examples:
  catalogd scrape
  catalogd scrape --engine rod --settle 5s
  catalogd scrape --engine static --url "https://shop.example/tv/" --format yaml`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	flags := scrapeCmd.Flags()
	flags.StringP("url", "u", "", "listing page URL (default from scraper.target_url)")
	flags.String("engine", "", "render engine: chromedp, rod, static")
	flags.Duration("settle", 0, "wait after the page is ready before reading it")
	flags.Int("max-pages", 0, "listing pages to follow via scraper.selectors.next_page")
	flags.String("format", "json", "report format: json, jsonl, yaml")

	_ = v.BindPFlag("scraper.target_url", flags.Lookup("url"))
	_ = v.BindPFlag("render.engine", flags.Lookup("engine"))
	_ = v.BindPFlag("scraper.settle_delay", flags.Lookup("settle"))
	_ = v.BindPFlag("scraper.max_pages", flags.Lookup("max-pages"))
}

func runScrape(cmd *cobra.Command, _ []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, err := newRunner(cfg, store)
	if err != nil {
		return err
	}

	report, runErr := runner.Run(ctx)
	if err := output.WriteOne(cmd.OutOrStdout(), format, report); err != nil {
		return err
	}
	return runErr
}

func formatFlag(cmd *cobra.Command) (output.Format, error) {
	name, _ := cmd.Flags().GetString("format")
	return output.ParseFormat(name)
}
