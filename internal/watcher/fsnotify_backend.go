package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/glob"
)

// DefaultCreateDebounce is how long directory creations are batched before
// the new directories are walked and watched.
const DefaultCreateDebounce = 50 * time.Millisecond

// FsnotifyBackend watches trees with fsnotify, adding one watch per
// directory.
type FsnotifyBackend struct {
	fs             fs.FileSystem
	cache          *glob.Cache
	createDebounce time.Duration
}

// NewFsnotifyBackend creates a backend. A nil cache disables pattern caching.
func NewFsnotifyBackend(filesystem fs.FileSystem, cache *glob.Cache, createDebounce time.Duration) *FsnotifyBackend {
	if createDebounce <= 0 {
		createDebounce = DefaultCreateDebounce
	}
	return &FsnotifyBackend{fs: filesystem, cache: cache, createDebounce: createDebounce}
}

// Subscribe watches root recursively. Initial watches are in place when it
// returns.
func (b *FsnotifyBackend) Subscribe(ctx context.Context, root string, opts SubscribeOptions, cb Callback) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, classifyBackendError(err, root)
	}

	s := &fsnotifySubscription{
		fsWatcher:    fsw,
		cb:           cb,
		debounceChan: make(chan string),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	s.dirs = NewWatchedDirs(b.fs, fsw, root, newIgnoreMatcher(b.cache, root, opts.Ignore), b.createDebounce, s.debounceChan, s.done)
	s.dirs.onError = func(err error) {
		cb(classifyBackendError(err, root), nil)
	}

	if err := s.dirs.AddRoot(); err != nil {
		s.dirs.Destroy()
		fsw.Close()
		return nil, classifyBackendError(err, root)
	}
	slog.Debug("fsnotify subscription started", "root", root, "watches", s.dirs.WatchCount())

	go s.run()
	return s, nil
}

type fsnotifySubscription struct {
	fsWatcher *fsnotify.Watcher
	dirs      *WatchedDirs
	cb        Callback

	debounceChan chan string

	// done is closed when the subscription is stopping to unblock goroutines.
	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

func (s *fsnotifySubscription) run() {
	defer close(s.exited)

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			if events := s.dirs.ProcessEvent(event); len(events) > 0 {
				s.cb(nil, events)
			}

		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			s.cb(classifyBackendError(err, s.dirs.root), nil)

		case path := <-s.debounceChan:
			if events := s.dirs.EvaluateDebounced(path); len(events) > 0 {
				s.cb(nil, events)
			}
		}
	}
}

// Unsubscribe stops the event loop, waits for it, and closes the fsnotify
// watcher. Callbacks never block, so the loop exits promptly.
func (s *fsnotifySubscription) Unsubscribe(_ context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.exited
		s.dirs.Destroy()
		err = s.fsWatcher.Close()
	})
	return err
}
