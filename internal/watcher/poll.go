package watcher

import (
	"context"
	"os"
	"time"
)

type stamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stampOf(path string) stamp {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return stamp{}
	}
	return stamp{exists: true, size: info.Size(), modTime: info.ModTime()}
}

// change compares two stamps of the same file.
func change(prev, cur stamp) (Operation, bool) {
	switch {
	case !prev.exists && cur.exists:
		return OpCreate, true
	case prev.exists && !cur.exists:
		return OpDelete, true
	case cur.exists && (cur.size != prev.size || !cur.modTime.Equal(prev.modTime)):
		return OpModify, true
	}
	return "", false
}

// poll stats paths every interval and sends changes to out until ctx or
// done ends.
func poll(ctx context.Context, done <-chan struct{}, paths []string, interval time.Duration, out chan<- FileEvent) {
	seen := make(map[string]stamp, len(paths))
	for _, p := range paths {
		seen[p] = stampOf(p)
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case now := <-tick.C:
			for _, p := range paths {
				cur := stampOf(p)
				op, changed := change(seen[p], cur)
				if !changed {
					continue
				}
				seen[p] = cur
				select {
				case out <- FileEvent{Path: p, Operation: op, At: now}:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}
}
