package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/catalogd/internal/httpapi"
	"github.com/jmylchreest/catalogd/internal/jobs"
	"github.com/jmylchreest/catalogd/internal/logger"
	"github.com/jmylchreest/catalogd/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Serve the catalog API. Each POST /api/update-products/ schedules one
catalog run on a background worker and returns 202 immediately.

On SIGINT or SIGTERM the server stops accepting requests and new runs,
then waits up to server.shutdown_timeout for queued runs to finish.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", "", "listen address (default from server.addr)")
	flags.Bool("update-on-start", false, "schedule one catalog run at startup")

	_ = v.BindPFlag("server.addr", flags.Lookup("addr"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close catalog", "error", err)
		}
	}()

	runner, err := newRunner(cfg, store)
	if err != nil {
		return err
	}

	executor := jobs.New(jobs.Config{Workers: cfg.Jobs.Workers, QueueSize: cfg.Jobs.QueueSize})
	update := jobs.Task{
		Name: "catalog-update",
		Run: func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		},
	}

	if onStart, _ := cmd.Flags().GetBool("update-on-start"); onStart {
		if _, err := executor.Submit(update); err != nil {
			logger.Warn("startup update not scheduled", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg.Server, httpapi.NewRouter(httpapi.Options{
		Jobs:   executor,
		Store:  store,
		Update: update,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("catalogd listening",
			"addr", srv.Addr,
			"version", version.String(),
			"database", cfg.Database.Driver,
			"engine", cfg.Render.Engine)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := executor.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("catalogd stopped")
	return nil
}
