package watcher

import (
	"slices"
	"strings"
	"time"
)

// coalescer folds the events of each path into one until the debounce
// timer fires. It is owned by a single goroutine.
type coalescer struct {
	window  time.Duration
	pending map[string]pathChange
	timer   *time.Timer
}

type pathChange struct {
	first Operation
	last  FileEvent
}

func newCoalescer(window time.Duration) *coalescer {
	return &coalescer{window: window, pending: make(map[string]pathChange)}
}

// fold combines the first pending operation of a path with a newer event.
// It returns false when the two cancel out.
func fold(first Operation, next FileEvent) (FileEvent, bool) {
	switch {
	case first == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case first == OpCreate:
		next.Operation = OpCreate
	case first == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
	}
	return next, true
}

func (c *coalescer) add(ev FileEvent) {
	if pc, ok := c.pending[ev.Path]; ok {
		if merged, keep := fold(pc.first, ev); keep {
			c.pending[ev.Path] = pathChange{first: pc.first, last: merged}
		} else {
			delete(c.pending, ev.Path)
		}
	} else {
		c.pending[ev.Path] = pathChange{first: ev.Operation, last: ev}
	}

	if c.timer == nil {
		c.timer = time.NewTimer(c.window)
	} else {
		c.timer.Reset(c.window)
	}
}

// fired is nil while nothing is pending.
func (c *coalescer) fired() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

// drain returns the pending events sorted by path and resets the state.
func (c *coalescer) drain() []FileEvent {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	out := make([]FileEvent, 0, len(c.pending))
	for _, pc := range c.pending {
		out = append(out, pc.last)
	}
	clear(c.pending)
	slices.SortFunc(out, func(a, b FileEvent) int { return strings.Compare(a.Path, b.Path) })
	return out
}
