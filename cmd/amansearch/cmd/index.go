package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/internal/ui"
)

type indexOptions struct {
	indexes    []string
	limit      int
	batchSize  int
	datasource string
	noTUI      bool
	delay      time.Duration
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the items queued in the trackers",
		Long: `Index pending items of every enabled index, or of the indexes given
with --index, in batches of the index batch size.

Examples:
  amansearch index
  amansearch index --index content --limit 500
  amansearch index --no-tui`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, g, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.indexes, "index", "i", nil, "Index to process (repeatable, default: all enabled)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of items per index (0 drains the queue)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Override the batch size of the indexes")
	cmd.Flags().StringVar(&opts.datasource, "datasource", "", "Only index items of this datasource")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Pause between batches")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, opts indexOptions) error {
	if opts.limit < 0 || opts.batchSize < 0 {
		return fmt.Errorf("--limit and --batch-size must not be negative")
	}
	return g.withApp(ctx, app.Options{}, func(a *app.App) error {
		uiCfg := ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(opts.noTUI),
			ui.WithNoColor(g.noColor || ui.DetectNoColor()),
			ui.WithTitle("amansearch index"))
		renderer := ui.NewRenderer(uiCfg)
		if err := renderer.Start(ctx); err != nil {
			slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
		}
		defer func() { _ = renderer.Stop() }()

		res, err := a.IndexItems(ctx, renderer, opts.indexes, index.RunnerConfig{
			Limit:           opts.limit,
			BatchSize:       opts.batchSize,
			DatasourceID:    opts.datasource,
			InterBatchDelay: opts.delay,
		})
		if err != nil {
			return err
		}
		slog.Info("index_complete",
			slog.Int("items", res.Items),
			slog.Int("remaining", res.Remaining),
			slog.Duration("duration", res.Duration))
		return nil
	})
}

// indexAction runs fn on each named index.
func indexAction(g *globalOptions, verb string, fn func(ctx context.Context, idx *index.Index) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := output.New(cmd.OutOrStdout())
		return g.withApp(ctx, app.Options{NoTelemetry: true}, func(a *app.App) error {
			for _, id := range args {
				idx, err := a.Index(id)
				if err != nil {
					return err
				}
				if err := fn(ctx, idx); err != nil {
					return err
				}
				out.Successf("%s %s", verb, id)
			}
			return nil
		})
	}
}

func newReindexCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <index>...",
		Short: "Mark all items of an index for reindexing",
		Long: `Queue every tracked item of the given indexes again. The items stay
searchable until they are indexed anew.`,
		Args: cobra.MinimumNArgs(1),
		RunE: indexAction(g, "Scheduled reindexing of", func(ctx context.Context, idx *index.Index) error {
			return idx.Reindex(ctx)
		}),
	}
}

func newClearCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <index>...",
		Short: "Delete all indexed data of an index",
		Long: `Delete the data of the given indexes from their servers and queue all
items for indexing again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: indexAction(g, "Cleared", func(ctx context.Context, idx *index.Index) error {
			return idx.Clear(ctx)
		}),
	}
}

func newRebuildTrackerCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-tracker <index>...",
		Short: "Rebuild the tracking information of an index",
		Long: `Drop the tracker of the given indexes and track every item of their
datasources again. Indexed data is kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: indexAction(g, "Rebuilt tracker of", func(ctx context.Context, idx *index.Index) error {
			return idx.RebuildTracker(ctx)
		}),
	}
}

func newCronCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cron",
		Short: "Run one cron pass",
		Long: `Index up to the cron limit of every enabled index, the same pass the
daemon runs on its schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			return g.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				counts, err := a.RunCron(cmd.Context())
				ids := make([]string, 0, len(counts))
				for id := range counts {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					out.Successf("%s: indexed %d items", id, counts[id])
				}
				if len(ids) == 0 && err == nil {
					out.Status("", "Nothing to index")
				}
				return err
			})
		},
	}
}

func newCheckCmd(g *globalOptions) *cobra.Command {
	var repair, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check [index]...",
		Short: "Compare trackers with the stored index data",
		Long: `Report items stored on a server but no longer tracked (orphans) and
items tracked as indexed but missing on the server. With --repair, orphans
are deleted and missing items are queued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			return g.withApp(cmd.Context(), app.Options{NoTelemetry: true}, func(a *app.App) error {
				results, err := a.Check(cmd.Context(), args, repair)
				if err != nil {
					return err
				}
				if jsonOutput {
					return out.JSON(results)
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{r.Index,
						fmt.Sprint(r.Orphans), fmt.Sprint(r.Missing), fmt.Sprint(r.Repaired)})
				}
				out.Table([]string{"INDEX", "ORPHANS", "MISSING", "REPAIRED"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Fix the inconsistencies found")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
