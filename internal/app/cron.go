package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Aman-CERP/amansearch/internal/index"
)

// RunCron indexes up to the cron limit of every enabled index. An index
// failing does not stop the others; the errors are joined.
func (a *App) RunCron(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	var errs []error
	for _, idx := range a.Manager.Indexes() {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		n, err := idx.IndexItems(ctx, -1, "")
		if err != nil {
			a.logger.Warn("cron_index_failed",
				slog.String("index", idx.ID()),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			counts[idx.ID()] = n
		}
	}
	if a.Metrics != nil {
		if err := a.Metrics.Flush(ctx); err != nil {
			a.logger.Warn("metrics_flush_failed", slog.String("error", err.Error()))
		}
	}
	return counts, errors.Join(errs...)
}

// CheckResult is the consistency state of one index.
type CheckResult struct {
	Index    string `json:"index"`
	Orphans  int    `json:"orphans"`
	Missing  int    `json:"missing"`
	Repaired int    `json:"repaired,omitempty"`
}

// Check compares trackers with the items stored on the servers, and with
// repair set fixes what it finds. Indexes without an available server are
// skipped.
func (a *App) Check(ctx context.Context, ids []string, repair bool) ([]CheckResult, error) {
	indexes, err := a.selectIndexes(ids)
	if err != nil {
		return nil, err
	}
	var out []CheckResult
	for _, idx := range indexes {
		if srv := idx.Server(); srv == nil || !srv.IsAvailable() {
			continue
		}
		checker := index.NewConsistencyChecker(idx)
		res, err := checker.Check(ctx)
		if err != nil {
			return out, err
		}
		cr := CheckResult{Index: idx.ID(), Orphans: res.Orphans(), Missing: res.Missing()}
		if repair && len(res.Inconsistencies) > 0 {
			n, err := checker.Repair(ctx, res.Inconsistencies)
			if err != nil {
				return out, err
			}
			cr.Repaired = n
		}
		out = append(out, cr)
	}
	return out, nil
}
