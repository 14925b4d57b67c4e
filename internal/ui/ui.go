// Package ui renders indexing runs and index status in the terminal: a
// bubbletea view with one progress row per index on interactive terminals,
// and line-oriented text everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of an indexing run.
type Stage int

const (
	StageTracking Stage = iota
	StageIndexing
	StageComplete
)

var stageNames = [...]struct{ name, tag string }{
	StageTracking: {"Tracking", "TRACK"},
	StageIndexing: {"Indexing", "INDEX"},
	StageComplete: {"Complete", "DONE"},
}

func (s Stage) valid() bool { return s >= 0 && int(s) < len(stageNames) }

// String returns the stage name.
func (s Stage) String() string {
	if !s.valid() {
		return "Unknown"
	}
	return stageNames[s].name
}

// Icon returns the bracketed tag used by plain output.
func (s Stage) Icon() string {
	if !s.valid() {
		return "???"
	}
	return stageNames[s].tag
}

// ProgressEvent reports how many of an index's pending items are done.
// Current and Total count items of this run, not of the whole index.
type ProgressEvent struct {
	Stage   Stage
	Index   string
	Current int
	Total   int
	Message string
}

// ErrorEvent reports a failed batch, or with IsWarn a skipped index.
type ErrorEvent struct {
	Index  string
	Err    error
	IsWarn bool
}

// CompletionStats summarize a finished run.
type CompletionStats struct {
	Indexes   int
	Items     int
	Remaining int
	Batches   int
	Duration  time.Duration
	Errors    int
	Warnings  int
}

// Renderer receives the events of an indexing run. Implementations must
// accept events from several goroutines.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config selects and configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title replaces the default TUI header.
	Title string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain disables the TUI.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables colors.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithTitle sets the TUI header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI on an interactive terminal outside CI, and
// the plain renderer otherwise.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	if tui, err := NewTUIRenderer(cfg); err == nil {
		return tui
	}
	return NewPlainRenderer(cfg)
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS", "BUILDKITE"}

// DetectCI reports whether a CI environment variable is set.
func DetectCI() bool {
	for _, v := range ciEnv {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
