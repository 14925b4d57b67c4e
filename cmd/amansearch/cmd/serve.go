package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/async"
	"github.com/Aman-CERP/amansearch/internal/daemon"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/httpapi"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/logging"
	"github.com/Aman-CERP/amansearch/internal/mcp"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr       string
		rateLimit  int
		withDaemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve search, autocomplete, indexing and status over HTTP:

  GET  /healthz
  GET  /indexes
  GET  /indexes/:id/status
  POST /indexes/:id/search
  GET  /indexes/:id/autocomplete?q=&limit=
  POST /indexes/:id/index

With --daemon, the daemon (scheduled indexing, file watching and the
local socket) runs in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, addr, rateLimit, withDaemon)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: http.addr of the configuration)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per minute allowed per client IP (0 disables)")
	cmd.Flags().BoolVar(&withDaemon, "daemon", false, "Also run the daemon in this process")
	return cmd
}

func runServe(ctx context.Context, g *globalOptions, addr string, rateLimit int, withDaemon bool) error {
	return g.withApp(ctx, app.Options{}, func(a *app.App) error {
		if addr == "" {
			addr = a.Config.HTTP.Addr
		}
		srv := httpapi.NewServer(addr, a, httpapi.Options{
			Mode:      a.Config.HTTP.Mode,
			RateLimit: rateLimit,
			Logger:    slog.Default(),
		})

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error { return srv.ListenAndServe(ctx) })
		if withDaemon {
			d, err := daemon.NewDaemon(daemon.FromConfig(a.Config), a, daemon.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			eg.Go(func() error { return d.Start(ctx) })
		}
		return eg.Wait()
	})
}

func newMCPCmd(g *globalOptions) *cobra.Command {
	var (
		level        string
		indexOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the indexes to AI clients over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the
search, autocomplete, index_status and index_items tools.

With --index-on-start, pending items are indexed in the background while
the server answers; index_status reports the progress of that run.

stdout carries JSON-RPC only; logs go to the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := logging.SetupMCPMode(level)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			return g.withApp(ctx, app.Options{Logger: slog.Default()}, func(a *app.App) error {
				srv, err := mcp.NewServer(a, slog.Default())
				if err != nil {
					return err
				}
				srv.SetMetrics(a.Metrics)
				if indexOnStart {
					bg := startBackgroundIndexing(ctx, a)
					defer bg.Stop()
					srv.SetIndexingProgress(bg.Progress())
				}
				return srv.Serve(ctx, "stdio")
			})
		},
	}
	cmd.Flags().StringVar(&level, "log-level", "info", "Log level (debug|info|warn|error)")
	cmd.Flags().BoolVar(&indexOnStart, "index-on-start", false, "Index pending items in the background")
	return cmd
}

// startBackgroundIndexing drains every enabled index while the caller keeps
// serving. The caller stops the returned job.
func startBackgroundIndexing(ctx context.Context, a *app.App) *async.Job {
	if async.Interrupted(a.Config.DataDir) {
		slog.Warn("previous_background_indexing_interrupted", slog.String("data_dir", a.Config.DataDir))
	}
	return async.Go(ctx, a.Config.DataDir, func(ctx context.Context, p *async.IndexProgress) error {
		res, err := a.IndexItems(ctx, p, nil, index.RunnerConfig{})
		if err != nil {
			slog.Error("background_indexing_failed", amanerrors.LogAttr(err))
			return err
		}
		slog.Info("background_indexing_complete",
			slog.Int("items", res.Items),
			slog.Int("remaining", res.Remaining),
			slog.Duration("duration", res.Duration))
		return nil
	})
}
