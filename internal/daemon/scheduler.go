package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs on cron specs. A run that comes due while the
// previous one is still going waits for it, and a panicking job is logged
// instead of crashing the daemon.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	lastRun map[string]time.Time
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	s := &Scheduler{
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		lastRun: make(map[string]time.Time),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		// Recovery sits inside the delay wrapper so a panic still releases
		// the job for its next run.
		cron.WithChain(
			cron.DelayIfStillRunning(cronLogger),
			recoveryWrapper(logger),
			loggingWrapper(logger),
		),
	)
	return s
}

// namedJob gives the logging wrapper a readable job name.
type namedJob struct {
	name string
	run  func()
}

func (j namedJob) Run()         { j.run() }
func (j namedJob) Name() string { return j.name }

// Add registers fn under name with a standard cron spec or a descriptor
// such as "@every 5m". fn receives a context cancelled by Stop.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	id, err := s.cron.AddJob(spec, namedJob{name: name, run: func() {
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("job_failed", slog.String("job_name", name), slog.String("error", err.Error()))
		}
		s.mu.Lock()
		s.lastRun[name] = time.Now()
		s.mu.Unlock()
	}})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entries[name] = id
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler_started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels running jobs and waits up to grace for them to return.
func (s *Scheduler) Stop(grace time.Duration) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(grace):
		s.logger.Warn("scheduler_stop_timeout", slog.Duration("grace", grace))
	}
}

// Next returns the next scheduled run of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

// LastRun returns when the named job last finished.
func (s *Scheduler) LastRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastRun[name]
	return t, ok
}

func loggingWrapper(logger *slog.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			jobLogger := logger.With(
				slog.String("job_name", jobName(j)),
				slog.String("execution_id", uuid.New().String()),
			)
			start := time.Now()
			jobLogger.Debug("job_started")
			j.Run()
			jobLogger.Info("job_finished", slog.Duration("duration", time.Since(start)))
		})
	}
}

func recoveryWrapper(logger *slog.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("job_panicked",
						slog.String("job_name", jobName(j)),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())))
				}
			}()
			j.Run()
		})
	}
}

func jobName(j cron.Job) string {
	if n, ok := j.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", j)
}
