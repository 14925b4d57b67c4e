package async

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// MarkerFile sits in the data directory while a background run works. It
// is locked for the lifetime of the run and left behind, unlocked, by a
// run that was cancelled or crashed.
const MarkerFile = "indexing.lock"

// ErrBusy is returned when another process is indexing the same data
// directory in the background.
var ErrBusy = errors.New("background indexing is already running for this data directory")

// Work is the indexing a Job runs. It reports to progress.
type Work func(ctx context.Context, progress *IndexProgress) error

// Job is one background indexing run.
type Job struct {
	progress *IndexProgress
	cancel   context.CancelFunc
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Go starts work in the background for the data directory dataDir. The
// job ends when work returns or ctx ends.
func Go(ctx context.Context, dataDir string, work Work) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{progress: NewIndexProgress(), cancel: cancel, done: make(chan struct{})}
	go j.run(ctx, dataDir, work)
	return j
}

func (j *Job) run(ctx context.Context, dataDir string, work Work) {
	defer close(j.done)
	defer j.cancel()

	err := withMarker(dataDir, func() error { return work(ctx, j.progress) })
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	if err != nil {
		j.progress.SetError(err.Error())
		return
	}
	j.progress.SetReady()
}

// withMarker runs fn holding the marker of dataDir. The marker is removed
// unless fn was cancelled.
func withMarker(dataDir string, fn func() error) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, MarkerFile)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return ErrBusy
	}
	defer func() { _ = lock.Unlock() }()
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	err = fn()
	if !errors.Is(err, context.Canceled) {
		_ = os.Remove(path)
	}
	return err
}

// Progress returns the live progress of the job.
func (j *Job) Progress() *IndexProgress { return j.progress }

// Running reports whether the job has not returned yet.
func (j *Job) Running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Stop cancels the job and waits for it to return.
func (j *Job) Stop() {
	j.cancel()
	<-j.done
}

// Wait blocks until the job returns and reports its error.
func (j *Job) Wait() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Interrupted reports whether a background run on dataDir ended without
// finishing. A marker still locked by a live run is not an interruption.
func Interrupted(dataDir string) bool {
	path := filepath.Join(dataDir, MarkerFile)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return false
	}
	_ = lock.Unlock()
	return true
}
