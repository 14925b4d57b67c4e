package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a fixed set of files with fsnotify, polling those
// whose directory cannot be watched.
type FileWatcher struct {
	opts    Options
	fsw     *fsnotify.Watcher
	polled  chan FileEvent
	batches chan []FileEvent
	errs    chan error

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New creates a watcher. Without fsnotify, or with opts.PollOnly, every
// file is polled.
func New(opts Options) *FileWatcher {
	opts = opts.withDefaults()
	w := &FileWatcher{
		opts:    opts,
		polled:  make(chan FileEvent, 64),
		batches: make(chan []FileEvent, opts.Buffer),
		errs:    make(chan error, 16),
		done:    make(chan struct{}),
	}
	if !opts.PollOnly {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsw = fsw
		}
	}
	return w
}

// Mode is "fsnotify" or "polling".
func (w *FileWatcher) Mode() string {
	if w.fsw == nil {
		return "polling"
	}
	return "fsnotify"
}

// Events delivers batches of changes. It is closed when Run returns.
func (w *FileWatcher) Events() <-chan []FileEvent { return w.batches }

// Errors delivers non-fatal watch errors. It is closed when Run returns.
func (w *FileWatcher) Errors() <-chan error { return w.errs }

// Dropped counts batches lost because nobody read Events.
func (w *FileWatcher) Dropped() uint64 { return w.dropped.Load() }

// Close stops Run. It may be called more than once.
func (w *FileWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}

// watch registers paths and returns the cleaned set of watched files and
// the files that must be polled.
func (w *FileWatcher) watch(paths []string) (map[string]bool, []string, error) {
	files := make(map[string]bool, len(paths))
	dirOK := make(map[string]bool)
	var polled []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		files[abs] = true
		if w.fsw == nil {
			polled = append(polled, abs)
			continue
		}
		dir := filepath.Dir(abs)
		ok, known := dirOK[dir]
		if !known {
			err := w.fsw.Add(dir)
			if err != nil {
				slog.Warn("watch_dir_failed_polling", slog.String("dir", dir), slog.String("error", err.Error()))
			}
			ok = err == nil
			dirOK[dir] = ok
		}
		if !ok {
			polled = append(polled, abs)
		}
	}
	return files, polled, nil
}

// Run watches paths until ctx ends or Close is called. It returns
// ctx.Err() on cancellation and nil after Close.
func (w *FileWatcher) Run(ctx context.Context, paths []string) error {
	defer close(w.errs)
	defer close(w.batches)

	files, polled, err := w.watch(paths)
	if err != nil {
		return err
	}
	if len(polled) > 0 {
		go poll(ctx, w.done, polled, w.opts.PollInterval, w.polled)
	}

	var fsEvents <-chan fsnotify.Event
	var fsErrs <-chan error
	if w.fsw != nil {
		fsEvents, fsErrs = w.fsw.Events, w.fsw.Errors
	}
	co := newCoalescer(w.opts.Debounce)
	defer co.drain()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if fe, ok := translate(ev, files); ok {
				co.add(fe)
			}
		case err, ok := <-fsErrs:
			if !ok {
				fsErrs = nil
				continue
			}
			select {
			case w.errs <- err:
			default:
			}
		case ev := <-w.polled:
			co.add(ev)
		case <-co.fired():
			w.deliver(co.drain())
		}
	}
}

// translate maps an fsnotify event on a watched file.
func translate(ev fsnotify.Event, files map[string]bool) (FileEvent, bool) {
	path := filepath.Clean(ev.Name)
	if !files[path] {
		return FileEvent{}, false
	}
	fe := FileEvent{Path: path, At: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		fe.Operation = OpCreate
	case ev.Has(fsnotify.Write):
		fe.Operation = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		fe.Operation = OpDelete
	default:
		return FileEvent{}, false
	}
	return fe, true
}

func (w *FileWatcher) deliver(batch []FileEvent) {
	if len(batch) == 0 {
		return
	}
	select {
	case w.batches <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("watch_batch_dropped", slog.Int("size", len(batch)), slog.Uint64("dropped_total", n))
	}
}
