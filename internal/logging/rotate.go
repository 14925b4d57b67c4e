package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Rotating is an append-only log file that is renamed to .1 once it would
// exceed its size limit; older files shift to .2 and so on, and the
// oldest beyond the keep count is removed. Every write is synced so that
// `amansearch logs -f` sees it at once.
type Rotating struct {
	path  string
	limit int64
	keep  int

	mu   sync.Mutex
	f    *os.File
	size int64
	// nosync is set by tests writing many small records.
	nosync bool
}

// OpenRotating opens or creates path. A limit or keep of zero or less
// uses 10 MiB and 5 files.
func OpenRotating(path string, limit int64, keep int) (*Rotating, error) {
	if limit <= 0 {
		limit = 10 << 20
	}
	if keep <= 0 {
		keep = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	r := &Rotating{path: path, limit: limit, keep: keep}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotating) reopen() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.f, r.size = f, info.Size()
	return nil
}

func (r *Rotating) backup(n int) string { return fmt.Sprintf("%s.%d", r.path, n) }

// shift moves path to .1 after moving each existing backup one up.
func (r *Rotating) shift() error {
	if err := r.f.Close(); err != nil {
		return err
	}
	r.f = nil
	_ = os.Remove(r.backup(r.keep))
	for n := r.keep - 1; n > 0; n-- {
		_ = os.Rename(r.backup(n), r.backup(n+1))
	}
	if err := os.Rename(r.path, r.backup(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Write implements io.Writer. A failed rotation is reported on stderr and
// writing continues into a reopened file.
func (r *Rotating) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f != nil && r.size > 0 && r.size+int64(len(p)) > r.limit {
		if err := r.shift(); err != nil {
			fmt.Fprintf(os.Stderr, "amansearch: log rotation failed: %v\n", err)
		}
	}
	if r.f == nil {
		if err := r.reopen(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	if err == nil && !r.nosync {
		err = r.f.Sync()
	}
	return n, err
}

// Close syncs and closes the file.
func (r *Rotating) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	_ = r.f.Sync()
	err := r.f.Close()
	r.f = nil
	return err
}
