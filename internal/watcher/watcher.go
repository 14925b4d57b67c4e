package watcher

import "time"

// Operation is what happened to a file.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	// OpDelete also covers a file renamed away from its path.
	OpDelete Operation = "delete"
)

// FileEvent is a change to one watched file.
type FileEvent struct {
	Path      string
	Operation Operation
	At        time.Time
}

// Options configure a FileWatcher. Zero fields take the defaults below.
type Options struct {
	// Debounce is how long a path must stay quiet before its change is
	// delivered. Default 200ms.
	Debounce time.Duration
	// PollInterval applies to polled files. Default 5s.
	PollInterval time.Duration
	// Buffer is the number of undelivered batches kept. Default 100.
	Buffer int
	// PollOnly skips fsnotify.
	PollOnly bool
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 100
	}
	return o
}
