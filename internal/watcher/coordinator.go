package watcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathindex"
)

// Stats are cumulative coordinator counters.
type Stats struct {
	Instances  int    `json:"instances"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	Buffered   int    `json:"buffered"`
	Restarts   uint64 `json:"restarts"`
	Failures   uint64 `json:"failures"`
	GlobsCache int    `json:"globs_cached"`
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithFileSystem sets the filesystem used for probing, real paths and
// snapshots.
func WithFileSystem(filesystem fs.FileSystem) CoordinatorOption {
	return func(c *Coordinator) {
		c.fs = filesystem
	}
}

// WithBackend replaces the native backend chosen by Options.Backend.
func WithBackend(backend Backend) CoordinatorOption {
	return func(c *Coordinator) {
		c.backend = backend
	}
}

// WithSnapshotter replaces the snapshot implementation used for polling.
func WithSnapshotter(snapshotter Snapshotter) CoordinatorOption {
	return func(c *Coordinator) {
		c.snapshotter = snapshotter
	}
}

// Coordinator reconciles the desired set of watch requests with running
// instances and funnels their output into a Sink.
type Coordinator struct {
	opts        Options
	sink        Sink
	fs          fs.FileSystem
	backend     Backend
	snapshotter Snapshotter
	cache       *glob.Cache
	normalizer  *Normalizer
	emitter     *ThrottledEmitter

	// reconcileMu serializes Reconcile and StopAll.
	reconcileMu sync.Mutex

	mu        sync.Mutex
	instances map[string]*Instance
	roots     *pathindex.Index[*Instance]

	exhaustedLogged atomic.Bool
	stats           struct {
		delivered atomic.Uint64
		restarts  atomic.Uint64
		failures  atomic.Uint64
	}

	cancel      context.CancelFunc
	emitterDone chan struct{}
	closeOnce   sync.Once
}

// NewCoordinator creates a Coordinator delivering to sink. Close must be
// called to release it.
func NewCoordinator(sink Sink, opts Options, options ...CoordinatorOption) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		opts:        opts,
		sink:        sink,
		instances:   make(map[string]*Instance),
		roots:       pathindex.New[*Instance](opts.CaseInsensitive),
		emitterDone: make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}

	if c.fs == nil {
		c.fs = fs.NewReal()
	}
	c.cache = glob.NewCache(opts.GlobCacheSize)
	if c.backend == nil {
		switch opts.Backend {
		case BackendNotify:
			c.backend = NewNotifyBackend(c.fs, c.cache)
		default:
			c.backend = NewFsnotifyBackend(c.fs, c.cache, opts.CreateDebounce)
		}
	}
	if c.snapshotter == nil {
		c.snapshotter = NewSnapshotBackend(c.fs, c.cache)
	}
	c.normalizer = NewNormalizer(c.fs, opts.CaseInsensitive)
	c.emitter = NewThrottledEmitter(opts.Throttle, c.deliver, c.sink.OnLog)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer close(c.emitterDone)
		c.emitter.Run(ctx)
	}()
	return c
}

// Reconcile makes the running instances match desired. Instances whose
// request is unchanged keep running; the rest are stopped before new ones
// start. Per-request failures are reported to the sink, not returned.
func (c *Coordinator) Reconcile(ctx context.Context, desired []WatchRequest) error {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	normalized, rejected, err := c.normalizer.Normalize(ctx, desired)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		c.reportRejection(r)
	}

	want := make(map[string]WatchRequest, len(normalized))
	for _, req := range normalized {
		want[req.Key(c.opts.CaseInsensitive)] = req
	}

	c.mu.Lock()
	var toStop []*Instance
	carried := make(map[string]int)
	for key, in := range c.instances {
		req, ok := want[key]
		if ok && req.Equal(in.req) && !in.State().Terminal() {
			continue
		}
		if ok {
			carried[key] = in.Status().Restarts
		}
		toStop = append(toStop, in)
		delete(c.instances, key)
	}
	var toStart []WatchRequest
	for key, req := range want {
		if _, running := c.instances[key]; !running {
			toStart = append(toStart, req)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(toStart, func(a, b WatchRequest) int {
		return strings.Compare(a.Path, b.Path)
	})

	var stopping errgroup.Group
	for _, in := range toStop {
		stopping.Go(func() error {
			in.stop(ctx)
			c.logf(LevelTrace, in.req.Path, "stopped watching %s", in.req)
			return nil
		})
	}
	stopping.Wait()

	started := make([]*Instance, len(toStart))
	var starting errgroup.Group
	for i, req := range toStart {
		starting.Go(func() error {
			in := newInstance(c, req, carried[req.Key(c.opts.CaseInsensitive)])
			if err := in.start(ctx); err != nil {
				c.logf(LevelError, req.Path, "failed to watch %s: %v", req, err)
				c.stats.failures.Add(1)
				c.sink.OnWatchFailed(req)
			}
			started[i] = in
			return nil
		})
	}
	starting.Wait()

	c.mu.Lock()
	for _, in := range started {
		c.instances[in.key] = in
	}
	c.rebuildRootsLocked()
	c.mu.Unlock()

	return nil
}

func (c *Coordinator) reportRejection(r Rejection) {
	if !r.Unwatched() {
		c.logf(LevelTrace, r.Request.Path, "not watching %s separately: %s", r.Request, r.Reason)
		return
	}
	if r.Err != nil {
		c.logf(LevelWarn, r.Request.Path, "not watching %s: %s: %v", r.Request, r.Reason, r.Err)
	} else {
		c.logf(LevelWarn, r.Request.Path, "not watching %s: %s", r.Request, r.Reason)
	}
	c.stats.failures.Add(1)
	c.sink.OnWatchFailed(r.Request)
}

// rebuildRootsLocked indexes the roots of live instances so Subscribe can
// find the instance covering a path. Uncorrelated instances win ties.
func (c *Coordinator) rebuildRootsLocked() {
	c.roots = pathindex.New[*Instance](c.opts.CaseInsensitive)
	for _, in := range c.sortedInstancesLocked() {
		if in.State().Terminal() {
			continue
		}
		if existing, ok := c.roots.Get(in.req.Path); ok && !existing.req.Correlated() {
			continue
		}
		c.roots.Insert(in.req.Path, in)
	}
}

func (c *Coordinator) sortedInstancesLocked() []*Instance {
	list := make([]*Instance, 0, len(c.instances))
	for _, in := range c.instances {
		list = append(list, in)
	}
	slices.SortFunc(list, func(a, b *Instance) int {
		if n := strings.Compare(a.req.Path, b.req.Path); n != 0 {
			return n
		}
		return strings.Compare(a.key, b.key)
	})
	return list
}

// Subscribe registers fn for raw events on exactly path, which must lie
// under a watched root. The returned function unsubscribes.
func (c *Coordinator) Subscribe(path string, fn func(RawEvent)) (func(), error) {
	c.mu.Lock()
	_, in, ok := c.roots.FindAncestor(path)
	c.mu.Unlock()
	if !ok {
		return nil, withPath(ErrNotWatched, nil, path)
	}
	return in.subscribePath(path, fn)
}

// Instances returns the status of every registered instance, sorted by
// path.
func (c *Coordinator) Instances() []InstanceStatus {
	c.mu.Lock()
	list := c.sortedInstancesLocked()
	c.mu.Unlock()

	statuses := make([]InstanceStatus, 0, len(list))
	for _, in := range list {
		statuses = append(statuses, in.Status())
	}
	return statuses
}

// Stats returns the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	instances := len(c.instances)
	c.mu.Unlock()
	return Stats{
		Instances:  instances,
		Delivered:  c.stats.delivered.Load(),
		Dropped:    c.emitter.Dropped(),
		Buffered:   c.emitter.Buffered(),
		Restarts:   c.stats.restarts.Load(),
		Failures:   c.stats.failures.Load(),
		GlobsCache: c.cache.Len(),
	}
}

// StopAll stops every instance.
func (c *Coordinator) StopAll(ctx context.Context) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	c.mu.Lock()
	list := c.sortedInstancesLocked()
	clear(c.instances)
	c.roots = pathindex.New[*Instance](c.opts.CaseInsensitive)
	c.mu.Unlock()

	var g errgroup.Group
	for _, in := range list {
		g.Go(func() error {
			in.stop(ctx)
			return nil
		})
	}
	g.Wait()
}

// Close stops every instance and the delivery loop. Events still buffered
// for delivery are discarded.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.StopAll(context.Background())
		c.cancel()
		<-c.emitterDone
	})
	return nil
}

// classify logs a backend error and reports whether the instance should
// restart.
func (c *Coordinator) classify(in *Instance, err error) bool {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		if c.exhaustedLogged.CompareAndSwap(false, true) {
			c.logf(LevelWarn, in.req.Path, "out of file watch handles while watching %s, some changes will not be reported (raise fs.inotify.max_user_watches): %v", in.req, err)
		}
		return false
	case errors.Is(err, ErrRescanRequired):
		c.logf(LevelTrace, in.req.Path, "event queue overflowed for %s, changes may have been missed: %v", in.req, err)
		return false
	}
	c.logf(LevelError, in.req.Path, "unexpected error watching %s, restarting in %s: %v", in.req, c.opts.RestartDelay, err)
	return true
}

func (c *Coordinator) emit(in *Instance, events []FileChangeEvent) {
	if c.opts.Verbose {
		for _, ev := range events {
			c.logf(LevelTrace, in.req.Path, "[%s] %s", strings.ToUpper(ev.Kind.String()), ev.Path)
		}
	}
	c.emitter.Push(in.req.Path, events)
}

func (c *Coordinator) deliver(events []FileChangeEvent) {
	c.stats.delivered.Add(uint64(len(events)))
	c.sink.OnEventBatch(events)
}

func (c *Coordinator) watchFailed(in *Instance) {
	c.stats.failures.Add(1)
	c.sink.OnWatchFailed(in.req)
}

func (c *Coordinator) logf(level LogLevel, root, format string, args ...any) {
	c.sink.OnLog(LogMessage{Level: level, Message: fmt.Sprintf(format, args...), Root: root})
}
