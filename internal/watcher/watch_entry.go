package watcher

import "time"

type WatchEntry struct {
	// The directory being watched.
	path string

	// Debounce timer for fsnotify.Create events directly under this path.
	// Used for avoiding excessive Stats when many files/dirs are created at once.
	createDebounceTimer *time.Timer

	// Paths created since the last debounce timer expiration.
	createDebouncedPaths map[string]struct{}
}

func (we *WatchEntry) resetDebounced() {
	we.createDebouncedPaths = make(map[string]struct{})
}
