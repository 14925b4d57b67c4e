package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	maxLineBytes = 1 << 20
	// followPoll catches writes on filesystems that do not report them.
	followPoll = time.Second
)

// Entry is one line of a log file. Lines that are not JSON records keep
// only Raw.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	JSON  bool
}

// Filter selects entries. Lines that are not JSON records pass the level
// and time checks.
type Filter struct {
	Level   string
	Pattern *regexp.Regexp
	Since   time.Time
}

// Viewer reads log files written by Setup.
type Viewer struct {
	filter Filter
	min    slog.Level
	out    io.Writer
}

// NewViewer creates a viewer printing to out.
func NewViewer(f Filter, out io.Writer) *Viewer {
	v := &Viewer{filter: f, min: slog.LevelDebug - 1, out: out}
	if lvl, err := ParseLevel(f.Level); f.Level != "" && err == nil {
		v.min = lvl
	}
	return v
}

// Tail returns the last n matching entries of path, or all of them when n
// is zero.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var kept []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		if e := ParseLine(sc.Text()); v.keep(e) {
			kept = append(kept, e)
			if n > 0 && len(kept) >= 2*n {
				kept = append(kept[:0], kept[len(kept)-n:]...)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	if n > 0 && len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept, nil
}

// Follow sends entries appended to path until ctx is done. When the file
// is rotated away the new file is read from its start.
func (v *Viewer) Follow(ctx context.Context, path string, out chan<- Entry) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	t := &tailer{path: path}
	if err := t.open(true); err != nil {
		return err
	}
	defer t.close()

	poll := time.NewTicker(followPoll)
	defer poll.Stop()
	for {
		for {
			e, ok, err := t.next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if !v.keep(e) {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.Events:
			if filepath.Clean(ev.Name) == filepath.Clean(path) && ev.Has(fsnotify.Create) {
				if err := t.open(false); err != nil {
					return err
				}
			}
		case err := <-w.Errors:
			return fmt.Errorf("log watcher: %w", err)
		case <-poll.C:
		}
	}
}

// tailer reads whole lines from a file that keeps growing.
type tailer struct {
	path    string
	f       *os.File
	r       *bufio.Reader
	partial string
}

func (t *tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		if !atEnd && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if atEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return err
		}
	}
	t.close()
	t.f, t.r, t.partial = f, bufio.NewReader(f), ""
	return nil
}

func (t *tailer) next() (Entry, bool, error) {
	line, err := t.r.ReadString('\n')
	switch {
	case err == nil:
		e := ParseLine(strings.TrimSuffix(t.partial+line, "\n"))
		t.partial = ""
		return e, true, nil
	case errors.Is(err, io.EOF):
		t.partial += line
		return Entry{}, false, nil
	default:
		return Entry{}, false, err
	}
}

func (t *tailer) close() {
	if t.f != nil {
		_ = t.f.Close()
	}
}

// Print writes entries to the viewer output, one per line.
func (v *Viewer) Print(entries ...Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, FormatEntry(e))
	}
}

// FormatEntry renders e as "15:04:05.000 LEVEL msg key=value ...".
func FormatEntry(e Entry) string {
	if !e.JSON {
		return e.Raw
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %-5s %s", e.Time.Format("15:04:05.000"), strings.ToUpper(e.Level), e.Msg)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}

// ParseLine parses one line of a JSON log.
func ParseLine(line string) Entry {
	var rec map[string]any
	if json.Unmarshal([]byte(line), &rec) != nil || rec == nil {
		return Entry{Raw: line}
	}
	e := Entry{Raw: line, JSON: true}
	if s, ok := rec[slog.TimeKey].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, s)
	}
	e.Level, _ = rec[slog.LevelKey].(string)
	e.Msg, _ = rec[slog.MessageKey].(string)
	for _, k := range []string{slog.TimeKey, slog.LevelKey, slog.MessageKey} {
		delete(rec, k)
	}
	e.Attrs = rec
	return e
}

func (v *Viewer) keep(e Entry) bool {
	if e.JSON {
		if lvl, err := ParseLevel(e.Level); err == nil && lvl < v.min {
			return false
		}
		if !v.filter.Since.IsZero() && !e.Time.IsZero() && e.Time.Before(v.filter.Since) {
			return false
		}
	}
	return v.filter.Pattern == nil || v.filter.Pattern.MatchString(e.Raw)
}
