// Package watcher reports changes to the document files behind
// file-backed datasources.
//
// fsnotify watches the directory of each file, so editors that save
// through a temporary file and a rename are seen as one modification.
// Files in directories fsnotify cannot watch are polled instead. Changes
// are coalesced per path and delivered in sorted batches:
//
//	w := watcher.New(watcher.Options{Debounce: 500 * time.Millisecond})
//	go func() { _ = w.Run(ctx, coordinator.Paths()) }()
//	for batch := range w.Events() {
//	    _ = coordinator.HandleEvents(ctx, batch)
//	}
package watcher
