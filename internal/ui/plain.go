package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// PlainRenderer prints one line per event, for pipes, logs and CI.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
}

var _ Renderer = (*PlainRenderer)(nil)

// NewPlainRenderer creates a plain renderer. Plain output carries no
// colors, so cfg.NoColor has no effect.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func (r *PlainRenderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// UpdateProgress implements Renderer. Lines look like
//
//	[INDEX] content 50/100 (50%) batch 5
//	[TRACK] content: syncing
func (r *PlainRenderer) UpdateProgress(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case e.Total > 0:
		line := fmt.Sprintf("[%s] %s %d/%d (%.0f%%)", e.Stage.Icon(), e.Index, e.Current, e.Total,
			IndexRow{Current: e.Current, Total: e.Total}.Fraction()*100)
		if e.Message != "" {
			line += " " + e.Message
		}
		r.printf("%s\n", line)
	case e.Index != "" || e.Message != "":
		parts := []string{e.Index, e.Message}
		if e.Index == "" || e.Message == "" {
			parts = []string{e.Index + e.Message}
		}
		r.printf("[%s] %s\n", e.Stage.Icon(), strings.Join(parts, ": "))
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(e ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, e)
	level := "ERROR"
	if e.IsWarn {
		level = "WARN"
	}
	if e.Index == "" {
		r.printf("%s %v\n", level, e.Err)
		return
	}
	r.printf("%s [%s] %v\n", level, e.Index, e.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	took := s.Duration.Round(100 * time.Millisecond)
	if s.Items > 0 && s.Duration > 0 {
		r.printf("Indexed %d items across %d indexes in %d batches (%s, %.1f items/sec)\n",
			s.Items, s.Indexes, s.Batches, took, float64(s.Items)/s.Duration.Seconds())
	} else {
		r.printf("Indexed %d items across %d indexes in %d batches (%s)\n", s.Items, s.Indexes, s.Batches, took)
	}
	if s.Remaining > 0 {
		r.printf("%d items still pending\n", s.Remaining)
	}
	if s.Errors > 0 || s.Warnings > 0 {
		r.printf("%d errors, %d warnings\n", s.Errors, s.Warnings)
	}
}
