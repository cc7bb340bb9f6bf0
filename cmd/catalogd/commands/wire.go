package commands

import (
	"context"
	"fmt"

	"github.com/jmylchreest/catalogd/internal/catalog"
	"github.com/jmylchreest/catalogd/internal/config"
	"github.com/jmylchreest/catalogd/internal/extract"
	"github.com/jmylchreest/catalogd/internal/pipeline"
	"github.com/jmylchreest/catalogd/internal/render"
)

func openStore(ctx context.Context, c config.Config) (catalog.Store, error) {
	return catalog.Open(ctx, catalog.Config{
		Driver:   c.Database.Driver,
		DSN:      c.Database.DSN,
		MaxConns: c.Database.MaxConns,
	})
}

func renderConfig(c config.Config) (render.Config, error) {
	maxBytes, err := c.Render.MaxDocumentBytes()
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{
		Engine:           c.Render.Engine,
		Headless:         c.Render.Headless,
		Stealth:          c.Render.Stealth,
		UserAgent:        c.Render.UserAgent,
		ChromePath:       c.Render.ChromePath,
		ProxyURL:         c.Render.ProxyURL,
		Timeout:          c.Scraper.NavigationTimeout,
		MaxDocumentBytes: maxBytes,
	}, nil
}

func extractConfig(c config.Config) extract.Config {
	sel := c.Scraper.Selectors
	return extract.Config{
		Roles: render.Roles{
			render.RoleTitleLink: sel.TitleLink,
			render.RoleImage:     sel.Image,
			render.RolePrice:     sel.Price,
		},
		CurrencySuffix: c.Scraper.CurrencySuffix,
	}
}

func pipelineConfig(c config.Config) pipeline.Config {
	return pipeline.Config{
		TargetURL:         c.Scraper.TargetURL,
		SettleDelay:       c.Scraper.SettleDelay,
		NavigationTimeout: c.Scraper.NavigationTimeout,
		ItemSelector:      c.Scraper.Selectors.Item,
		NextPageSelector:  c.Scraper.Selectors.NextPage,
		MaxPages:          c.Scraper.MaxPages,
	}
}

// newRunner builds a pipeline.Runner writing to store.
func newRunner(c config.Config, store catalog.Store) (*pipeline.Runner, error) {
	rc, err := renderConfig(c)
	if err != nil {
		return nil, err
	}
	launcher, err := render.NewLauncher(rc)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return pipeline.New(pipelineConfig(c), launcher, extract.New(extractConfig(c)), store), nil
}
