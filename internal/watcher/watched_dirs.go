package watcher

import (
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

var statThreshold = 3

// fsnotifyWatcher is the interface for fsnotify operations, allowing mocking in tests.
type fsnotifyWatcher interface {
	Add(name string) error
	Remove(name string) error
}

// WatchedDirs keeps one fsnotify watch per directory below a root, since
// fsnotify itself is not recursive. Directories created later are picked up
// after a short debounce and their existing contents are reported as added.
type WatchedDirs struct {
	// fs is the filesystem abstraction for stat and readdir operations.
	fs fs.FileSystem

	// fsWatcher is the underlying fsnotify watcher.
	// Note: fsnotify auto-removes watches on delete (all platforms), but not on rename for Windows.
	// We explicitly remove watches on delete to keep our state consistent.
	fsWatcher fsnotifyWatcher

	root   string
	ignore *ignoreMatcher

	// entries stores WatchEntry objects indexed by path.
	entries map[string]*WatchEntry

	// debounceDelay is how long to wait after a create event before processing.
	debounceDelay time.Duration

	// debounceChan receives paths when their debounce timer fires.
	debounceChan chan string

	// onError receives watch failures that are not tied to a single event,
	// such as running out of inotify watches while recursing.
	onError func(error)

	// done is closed when the watcher is stopping, to unblock timer goroutines.
	done chan struct{}
}

// NewWatchedDirs creates a new WatchedDirs manager for root.
func NewWatchedDirs(filesystem fs.FileSystem, fsWatcher fsnotifyWatcher, root string, ignore *ignoreMatcher, debounceDelay time.Duration, debounceChan chan string, done chan struct{}) *WatchedDirs {
	return &WatchedDirs{
		fs:            filesystem,
		fsWatcher:     fsWatcher,
		root:          root,
		ignore:        ignore,
		entries:       make(map[string]*WatchEntry),
		debounceDelay: debounceDelay,
		debounceChan:  debounceChan,
		done:          done,
	}
}

// Destroy stops all debounce timers. Does not close the fsWatcher since that
// is owned by the subscription.
func (w *WatchedDirs) Destroy() {
	for _, we := range w.entries {
		we.createDebounceTimer.Stop()
	}
}

// WatchCount returns the number of directories currently being watched.
func (w *WatchedDirs) WatchCount() int {
	return len(w.entries)
}

// AddRoot watches the root and every directory below it.
func (w *WatchedDirs) AddRoot() error {
	info, err := w.fs.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return withPath(ErrNotDirectory, nil, w.root)
	}

	w.newWatchEntry(w.root)
	if err := w.fsWatcher.Add(w.root); err != nil {
		w.remove(w.root)
		return err
	}

	// race condition: Stat again to make sure it still exists. It may have been deleted
	// before we added the watch.
	info, err = w.fs.Stat(w.root)
	if err != nil || !info.IsDir() {
		w.remove(w.root)
		return withPath(ErrRootDeleted, err, w.root)
	}

	w.addTree(w.root, nil)
	return nil
}

// ProcessEvent updates watch state for an fsnotify event and returns the
// events to report for it.
func (w *WatchedDirs) ProcessEvent(event fsnotify.Event) []RawEvent {
	path := event.Name
	if path == "" || w.ignore.matchSelf(path) {
		return nil
	}

	slog.Debug("ProcessEvent", "path", path, "op", event.Op)

	kind, ok := kindForOp(event.Op)
	if !ok {
		return nil
	}

	if we, exists := w.entries[path]; exists {
		switch {
		case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
			w.remove(path)
		case event.Has(fsnotify.Create):
			// The directory is already being watched so this shouldn't happen.
			// We should re-add the fsnotify path just to be safe.
			w.readdFsnotify(we)
		case event.Has(fsnotify.Chmod):
			// Make sure a watched directory is still reachable.
			w.removeWatchEntryIfUnreachable(we)
		}
	}

	if parent, exists := w.entries[filepath.Dir(path)]; exists && event.Has(fsnotify.Create) {
		parent.createDebouncedPaths[path] = struct{}{}
		parent.createDebounceTimer.Reset(w.debounceDelay)
	}

	return []RawEvent{{Path: path, Kind: kind}}
}

func kindForOp(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Deleted, true
	case op.Has(fsnotify.Create):
		return Added, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return Updated, true
	}
	return 0, false
}

// removeWatchEntryIfUnreachable removes the watch entry if the path no longer exists or is not a directory.
// Returns true if the entry was removed.
func (w *WatchedDirs) removeWatchEntryIfUnreachable(we *WatchEntry) bool {
	info, err := w.fs.Stat(we.path)
	if err != nil || !info.IsDir() {
		w.remove(we.path)
		return true
	}
	return false
}

// readdFsnotify re-registers the fsnotify watch for a path.
func (w *WatchedDirs) readdFsnotify(we *WatchEntry) {
	if w.removeWatchEntryIfUnreachable(we) {
		return
	}
	w.fsWatcher.Remove(we.path)
	if err := w.fsWatcher.Add(we.path); err != nil {
		slog.Debug("fswatcher failed to re-add watch", "path", we.path, "error", err)
		w.remove(we.path)
		w.reportError(err)
	}
}

// EvaluateDebounced processes debounced create events for a watched
// directory. New subdirectories are watched, and everything found inside
// them is returned as Added since it may predate the watch.
func (w *WatchedDirs) EvaluateDebounced(path string) []RawEvent {
	// It's possible the watch entry was removed while waiting for the debounce timer.
	we, exists := w.entries[path]
	if !exists {
		slog.Debug("EvaluateDebounced: watch entry no longer exists", "path", path)
		return nil
	}
	defer we.resetDebounced()

	var newDirs []string
	if len(we.createDebouncedPaths) < statThreshold {
		// Stat each path individually. Links are not followed.
		for createdPath := range we.createDebouncedPaths {
			info, _, err := w.fs.LstatIfPossible(createdPath)
			if err != nil {
				// Remove just in case
				w.remove(createdPath)
			} else if info.IsDir() {
				newDirs = append(newDirs, createdPath)
			}
		}
	} else {
		// Read the directory once.
		entries, err := afero.ReadDir(w.fs, we.path)
		if err != nil {
			slog.Debug("failed to read directory during debounce evaluation", "path", we.path, "error", err)
			// Remove just in case
			w.remove(we.path)
			return nil
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			subdirPath := filepath.Join(we.path, entry.Name())
			if _, created := we.createDebouncedPaths[subdirPath]; created {
				newDirs = append(newDirs, subdirPath)
			}
		}
	}
	slices.Sort(newDirs)

	slog.Debug("EvaluateDebounced: found new dirs", "path", we.path, "newDirs", newDirs)
	var found []RawEvent
	for _, dir := range newDirs {
		if _, watched := w.entries[dir]; watched || w.ignore.matchSelf(dir) {
			continue
		}
		w.addTree(dir, &found)
	}
	return found
}

// addTree watches path and every directory below it. When found is non-nil
// the entries discovered are appended to it as Added events.
func (w *WatchedDirs) addTree(path string, found *[]RawEvent) {
	if _, exists := w.entries[path]; !exists {
		w.newWatchEntry(path)
		if err := w.fsWatcher.Add(path); err != nil {
			slog.Debug("fswatcher failed to add subdirectory watch", "path", path, "error", err)
			w.remove(path)
			w.reportError(err)
			return
		}
	}

	// Read after adding the watch so nothing created in between is missed.
	dirs, err := afero.ReadDir(w.fs, path)
	if err != nil {
		slog.Debug("failed to read directory when adding subdirectory", "path", path, "error", err)
		// Remove just in case
		w.remove(path)
		return
	}

	for _, entry := range dirs {
		child := filepath.Join(path, entry.Name())
		if w.ignore.matchSelf(child) {
			continue
		}
		if found != nil {
			*found = append(*found, RawEvent{Path: child, Kind: Added})
		}
		if entry.IsDir() {
			w.addTree(child, found)
		}
	}
}

// remove stops watching path and everything watched below it.
// Note: multiple Remove events for the same path are possible (e.g., deleting /a/b
// when both /a and /a/b are watched).
func (w *WatchedDirs) remove(path string) {
	we, exists := w.entries[path]
	// Removes of a non-existent path is a no-op.
	if !exists {
		return
	}

	if err := w.fsWatcher.Remove(path); err != nil {
		slog.Debug("fswatcher failed to remove watch", "path", path, "error", err)
	}
	we.createDebounceTimer.Stop()
	delete(w.entries, path)

	for p := range w.entries {
		if pathutil.IsParent(p, path, false) {
			w.remove(p)
		}
	}
}

func (w *WatchedDirs) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// newWatchEntry creates a new WatchEntry for a path and adds it to the entries map.
// Panics if an entry already exists for the path.
func (w *WatchedDirs) newWatchEntry(path string) *WatchEntry {
	if _, exists := w.entries[path]; exists {
		panic("watch entry already exists for path: " + path)
	}

	we := &WatchEntry{path: path}
	we.resetDebounced()

	t := time.AfterFunc(time.Hour, func() {
		select {
		case w.debounceChan <- path:
		case <-w.done:
		}
	})
	t.Stop()

	we.createDebounceTimer = t
	w.entries[path] = we

	return we
}

