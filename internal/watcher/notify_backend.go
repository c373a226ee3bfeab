package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rjeczalik/notify"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/glob"
)

// notifyBuffer sizes the channel notify delivers into. notify drops events
// rather than block when it is full.
const notifyBuffer = 4096

// NotifyBackend watches trees with rjeczalik/notify, which uses native
// recursive watches (FSEvents, ReadDirectoryChangesW) where the platform has
// them and emulates them with inotify elsewhere.
type NotifyBackend struct {
	fs    fs.FileSystem
	cache *glob.Cache
}

// NewNotifyBackend creates a backend. filesystem is used to tell renames
// into the tree from renames out of it.
func NewNotifyBackend(filesystem fs.FileSystem, cache *glob.Cache) *NotifyBackend {
	return &NotifyBackend{fs: filesystem, cache: cache}
}

// Subscribe watches root recursively.
func (b *NotifyBackend) Subscribe(ctx context.Context, root string, opts SubscribeOptions, cb Callback) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := b.fs.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, withPath(ErrNotDirectory, nil, root)
	}

	s := &notifySubscription{
		fs:     b.fs,
		ignore: newIgnoreMatcher(b.cache, root, opts.Ignore),
		cb:     cb,
		events: make(chan notify.EventInfo, notifyBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if err := notify.Watch(filepath.Join(root, "..."), s.events, notify.All); err != nil {
		return nil, classifyBackendError(err, root)
	}
	slog.Debug("notify subscription started", "root", root)

	go s.run()
	return s, nil
}

type notifySubscription struct {
	fs     fs.FileSystem
	ignore *ignoreMatcher
	cb     Callback
	events chan notify.EventInfo

	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

func (s *notifySubscription) run() {
	defer close(s.exited)

	for {
		select {
		case <-s.done:
			return
		case ei := <-s.events:
			if event, ok := s.convert(ei); ok {
				s.cb(nil, []RawEvent{event})
			}
		}
	}
}

func (s *notifySubscription) convert(ei notify.EventInfo) (RawEvent, bool) {
	path := ei.Path()
	if s.ignore.match(path) {
		return RawEvent{}, false
	}

	switch ev := ei.Event(); {
	case ev&notify.Remove != 0:
		return RawEvent{Path: path, Kind: Deleted}, true
	case ev&notify.Rename != 0:
		// Both sides of a rename arrive as Rename. Whatever still exists
		// was moved in.
		if _, _, err := s.fs.LstatIfPossible(path); err == nil {
			return RawEvent{Path: path, Kind: Added}, true
		}
		return RawEvent{Path: path, Kind: Deleted}, true
	case ev&notify.Create != 0:
		return RawEvent{Path: path, Kind: Added}, true
	case ev&notify.Write != 0:
		return RawEvent{Path: path, Kind: Updated}, true
	}
	return RawEvent{}, false
}

func (s *notifySubscription) Unsubscribe(_ context.Context) error {
	s.stopOnce.Do(func() {
		notify.Stop(s.events)
		close(s.done)
		<-s.exited
	})
	return nil
}
