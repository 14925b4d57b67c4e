package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/ui"
)

// DefaultConcurrency bounds the number of indexes processed in parallel by
// RunAll. Each index is still processed one batch at a time.
const DefaultConcurrency = 2

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// Limit is the maximum number of items to process per index. Zero or
	// a negative value drains the queue.
	Limit int

	// BatchSize overrides the batch size of the index.
	BatchSize int

	// DatasourceID restricts the run to one datasource.
	DatasourceID string

	// Concurrency bounds parallel indexes in RunAll.
	Concurrency int

	// InterBatchDelay is a pause between batches, to reduce load on the
	// database.
	InterBatchDelay time.Duration
}

// RunnerResult contains the outcome of an indexing run.
type RunnerResult struct {
	// Indexes is the number of indexes processed.
	Indexes int

	// Items is the number of items processed, including items rejected by
	// processors.
	Items int

	// Remaining is the number of items still pending afterwards.
	Remaining int

	// Batches is the number of batches executed.
	Batches int

	// Duration is the total indexing time.
	Duration time.Duration

	// Errors is the count of failed batches.
	Errors int
}

// Runner drains the tracker queue of indexes in batches, with progress
// reporting. A batch error ends the run of that index; tracker state stays
// consistent because items are only marked indexed after they are stored.
type Runner struct {
	renderer ui.Renderer
	logger   *slog.Logger
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	Logger *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{renderer: deps.Renderer, logger: deps.Logger}, nil
}

// Run indexes one index.
func (r *Runner) Run(ctx context.Context, idx *Index, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	res, err := r.run(ctx, idx, cfg)
	res.Indexes = 1
	res.Duration = time.Since(start)
	r.complete(res)
	return res, err
}

// RunAll indexes several indexes concurrently.
func (r *Runner) RunAll(ctx context.Context, indexes []*Index, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var mu sync.Mutex
	total := &RunnerResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, idx := range indexes {
		idx := idx
		g.Go(func() error {
			res, err := r.run(gctx, idx, cfg)
			mu.Lock()
			total.Indexes++
			total.Items += res.Items
			total.Remaining += res.Remaining
			total.Batches += res.Batches
			total.Errors += res.Errors
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	total.Duration = time.Since(start)
	r.complete(total)
	return total, err
}

func (r *Runner) run(ctx context.Context, idx *Index, cfg RunnerConfig) (*RunnerResult, error) {
	res := &RunnerResult{}
	logger := r.logger.With(slog.String("index", idx.ID()))

	remaining, err := idx.Tracker().RemainingItemsCount(ctx, cfg.DatasourceID)
	if err != nil {
		return res, err
	}
	if !idx.Status() || idx.IsReadOnly() {
		res.Remaining = remaining
		r.renderer.AddError(ui.ErrorEvent{
			Index:  idx.ID(),
			Err:    fmt.Errorf("index %s is disabled or read-only", idx.ID()),
			IsWarn: true,
		})
		return res, nil
	}

	total := remaining
	if cfg.Limit > 0 && cfg.Limit < total {
		total = cfg.Limit
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = idx.Config().Options.BatchSize
	}
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: idx.ID(), Current: 0, Total: total})

	for res.Items < total {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		size := batchSize
		if left := total - res.Items; left < size {
			size = left
		}
		n, err := idx.IndexItems(ctx, size, cfg.DatasourceID)
		res.Batches++
		if err != nil {
			res.Errors++
			r.renderer.AddError(ui.ErrorEvent{Index: idx.ID(), Err: err})
			logger.Error("index_batch_failed", amanerrors.LogAttr(err))
			break
		}
		if n == 0 {
			// Everything left failed to index; retried on the next run.
			break
		}
		res.Items += n
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageIndexing,
			Index:   idx.ID(),
			Current: res.Items,
			Total:   total,
			Message: fmt.Sprintf("batch %d", res.Batches),
		})
		if cfg.InterBatchDelay > 0 && res.Items < total {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(cfg.InterBatchDelay):
			}
		}
	}

	if res.Remaining, err = idx.Tracker().RemainingItemsCount(ctx, cfg.DatasourceID); err != nil {
		return res, err
	}
	logger.Info("index_run_finished",
		slog.Int("items", res.Items),
		slog.Int("batches", res.Batches),
		slog.Int("remaining", res.Remaining))
	return res, nil
}

func (r *Runner) complete(res *RunnerResult) {
	r.renderer.Complete(ui.CompletionStats{
		Indexes:   res.Indexes,
		Items:     res.Items,
		Remaining: res.Remaining,
		Batches:   res.Batches,
		Duration:  res.Duration,
		Errors:    res.Errors,
	})
}
