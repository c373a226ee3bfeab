package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// InstanceStatus describes an instance at a point in time.
type InstanceStatus struct {
	Request     WatchRequest
	State       InstanceState
	Restarts    int
	RealPath    string
	Polling     bool
	Subscribers int
	Err         error
}

type queuedBatch struct {
	gen    int
	err    error
	events []RawEvent
}

// Instance serves one normalized request: it owns the native subscription
// or polling loop and runs events through the pipeline.
type Instance struct {
	c        *Coordinator
	req      WatchRequest
	key      string
	excludes []string
	filter   *eventFilter

	realPath        string
	realPathDiffers bool

	mu          sync.Mutex
	state       InstanceState
	restarts    int
	lastErr     error
	gen         int
	queue       []queuedBatch
	sub         Subscription
	snapshot    string
	subscribers map[string]map[uint64]func(RawEvent)
	nextSubID   uint64

	// Owned by the loop goroutine.
	coalescer  *coalescer
	coalescing bool

	wake          chan struct{}
	coalesceChan  chan struct{}
	restartChan   chan struct{}
	pollChan      chan struct{}
	coalesceTimer *time.Timer
	restartTimer  *time.Timer
	pollTimer     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
}

func newInstance(c *Coordinator, req WatchRequest, restarts int) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	excludes := excludesFor(req, c.opts.PredefinedExcludes, c.opts.CaseInsensitive)
	in := &Instance{
		c:            c,
		req:          req,
		key:          req.Key(c.opts.CaseInsensitive),
		excludes:     excludes,
		filter:       newEventFilter(c.cache, c.fs, req, excludes),
		realPath:     req.Path,
		state:        StateStarting,
		restarts:     restarts,
		subscribers:  make(map[string]map[uint64]func(RawEvent)),
		coalescer:    newCoalescer(c.opts.CaseInsensitive),
		wake:         make(chan struct{}, 1),
		coalesceChan: make(chan struct{}),
		restartChan:  make(chan struct{}),
		pollChan:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		exited:       make(chan struct{}),
	}
	in.coalesceTimer = in.newSignalTimer(in.coalesceChan)
	in.restartTimer = in.newSignalTimer(in.restartChan)
	in.pollTimer = in.newSignalTimer(in.pollChan)
	return in
}

// newSignalTimer returns a stopped timer that signals ch when it fires.
func (in *Instance) newSignalTimer(ch chan struct{}) *time.Timer {
	t := time.AfterFunc(time.Hour, func() {
		select {
		case ch <- struct{}{}:
		case <-in.ctx.Done():
		}
	})
	t.Stop()
	return t
}

// Request returns the request the instance serves.
func (in *Instance) Request() WatchRequest {
	return in.req
}

// State returns the current lifecycle state.
func (in *Instance) State() InstanceState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Status returns a snapshot of the instance.
func (in *Instance) Status() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	subscribers := 0
	for _, fns := range in.subscribers {
		subscribers += len(fns)
	}
	return InstanceStatus{
		Request:     in.req,
		State:       in.state,
		Restarts:    in.restarts,
		RealPath:    in.realPath,
		Polling:     in.req.PollingInterval > 0,
		Subscribers: subscribers,
		Err:         in.lastErr,
	}
}

func (in *Instance) polling() bool {
	return in.req.PollingInterval > 0
}

// start subscribes and launches the event loop. On failure the instance
// is left Failed and fully released.
func (in *Instance) start(ctx context.Context) error {
	in.resolveRealPath()

	err := in.subscribe(ctx)
	in.mu.Lock()
	if err != nil {
		in.state = StateFailed
		in.lastErr = err
	} else {
		in.state = StateActive
	}
	in.mu.Unlock()

	if err != nil {
		in.release(ctx)
		in.cancel()
		close(in.exited)
		return err
	}

	in.c.logf(LevelTrace, in.req.Path, "started watching %s", in.describe())
	go in.loop()
	return nil
}

func (in *Instance) describe() string {
	mode := "native " + string(in.c.opts.Backend)
	if in.polling() {
		mode = fmt.Sprintf("polling every %s", in.req.PollingInterval)
	}
	if in.realPathDiffers {
		return fmt.Sprintf("%s (real path %s, %s)", in.req, in.realPath, mode)
	}
	return fmt.Sprintf("%s (%s)", in.req, mode)
}

// resolveRealPath follows links and fixes the case of the root, since
// native backends report real paths.
func (in *Instance) resolveRealPath() {
	real := in.req.Path
	if rp, err := in.c.fs.Realpath(real); err == nil {
		real = rp
	} else {
		slog.Debug("realpath failed", "path", real, "error", err)
	}
	if rc, err := in.c.fs.RealCasePath(real); err == nil && rc != "" {
		real = rc
	}
	in.realPath = real
	in.realPathDiffers = real != in.req.Path
}

func (in *Instance) subscribe(ctx context.Context) error {
	in.mu.Lock()
	in.gen++
	gen := in.gen
	in.mu.Unlock()

	opts := SubscribeOptions{Ignore: in.excludes}

	if in.polling() {
		in.mu.Lock()
		snapshot := in.snapshot
		in.mu.Unlock()
		if snapshot == "" {
			f, err := afero.TempFile(in.c.fs, "", "treewatch-*.snapshot")
			if err != nil {
				return err
			}
			snapshot = f.Name()
			f.Close()
			in.mu.Lock()
			in.snapshot = snapshot
			in.mu.Unlock()
		}
		if err := in.c.snapshotter.WriteSnapshot(ctx, in.realPath, snapshot, opts); err != nil {
			return err
		}
		in.pollTimer.Reset(in.req.PollingInterval)
		return nil
	}

	sub, err := in.c.backend.Subscribe(ctx, in.realPath, opts, func(err error, events []RawEvent) {
		in.enqueue(gen, err, events)
	})
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.sub = sub
	in.mu.Unlock()
	return nil
}

// enqueue is the backend callback. It never blocks.
func (in *Instance) enqueue(gen int, err error, events []RawEvent) {
	in.mu.Lock()
	if gen != in.gen || in.state.Terminal() {
		in.mu.Unlock()
		return
	}
	in.queue = append(in.queue, queuedBatch{gen: gen, err: err, events: events})
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *Instance) unsubscribe(ctx context.Context) {
	in.pollTimer.Stop()

	in.mu.Lock()
	sub := in.sub
	in.sub = nil
	in.gen++
	in.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(ctx); err != nil {
			slog.Debug("unsubscribe failed", "path", in.realPath, "error", err)
		}
	}
}

// release frees everything the instance holds. It is safe to call more
// than once.
func (in *Instance) release(ctx context.Context) {
	in.restartTimer.Stop()
	in.unsubscribe(ctx)

	in.mu.Lock()
	snapshot := in.snapshot
	in.snapshot = ""
	in.mu.Unlock()
	if snapshot != "" {
		if err := in.c.fs.Remove(snapshot); err != nil && !fs.IsNotExist(err) {
			slog.Debug("failed to remove snapshot", "file", snapshot, "error", err)
		}
	}
}

func (in *Instance) loop() {
	defer close(in.exited)

	for {
		select {
		case <-in.ctx.Done():
			return
		case <-in.wake:
			in.drain()
		case <-in.coalesceChan:
			if in.flush(in.ctx) {
				in.failRootDeleted()
				return
			}
		case <-in.restartChan:
			in.restart()
		case <-in.pollChan:
			in.poll()
		}
	}
}

func (in *Instance) drain() {
	in.mu.Lock()
	batches := in.queue
	in.queue = nil
	gen := in.gen
	in.mu.Unlock()

	for _, b := range batches {
		if b.gen != gen {
			continue
		}
		if b.err != nil {
			in.handleError(b.err)
			continue
		}
		in.ingest(b.events)
	}
}

// ingest normalizes raw events, hands them to path subscribers and adds
// them to the coalescing window.
func (in *Instance) ingest(events []RawEvent) {
	for _, raw := range events {
		ev := RawEvent{Path: in.normalizePath(raw.Path), Kind: raw.Kind}
		in.notifySubscribers(ev)
		in.coalescer.add(ev)
	}
	if !in.coalescing && in.coalescer.len() > 0 {
		in.coalescing = true
		in.coalesceTimer.Reset(in.c.opts.CoalesceDelay)
	}
}

// composePaths is set where the platform reports names decomposed (NFD) but
// consumers expect the composed form. Elsewhere NFC and NFD spellings name
// different files and must pass through untouched.
var composePaths = runtime.GOOS == "darwin"

// normalizePath maps a backend path back onto the requested root.
func (in *Instance) normalizePath(path string) string {
	if in.realPathDiffers && pathutil.IsEqualOrParent(path, in.realPath, in.c.opts.CaseInsensitive) {
		path = in.req.Path + path[len(in.realPath):]
	}
	// Drive roots come back with doubled separators.
	if runtime.GOOS == "windows" && len(in.req.Path) <= 3 {
		path = filepath.Clean(path)
	}
	if composePaths && !norm.NFC.IsNormalString(path) {
		path = norm.NFC.String(path)
	}
	return path
}

func (in *Instance) isRoot(path string) bool {
	if in.c.opts.CaseInsensitive {
		return strings.EqualFold(path, in.req.Path)
	}
	return path == in.req.Path
}

// flush runs the coalesced window through the filters and emits it. It
// reports whether the root itself was deleted.
func (in *Instance) flush(ctx context.Context) bool {
	in.coalescing = false
	events := in.coalescer.drain()

	rootDeleted := false
	out := make([]FileChangeEvent, 0, len(events))
	for _, ev := range events {
		if ev.Kind == Deleted && in.isRoot(ev.Path) {
			rootDeleted = true
			continue
		}
		out = append(out, FileChangeEvent{Kind: ev.Kind, Path: ev.Path, CorrelationID: in.req.CorrelationID})
	}

	out = in.filter.apply(ctx, out)
	if len(out) > 0 {
		in.c.emit(in, out)
	}
	return rootDeleted
}

func (in *Instance) failRootDeleted() {
	in.c.logf(LevelWarn, in.req.Path, "watched path %s was deleted, watching stopped", in.req.Path)

	in.mu.Lock()
	in.state = StateFailed
	in.lastErr = withPath(ErrRootDeleted, nil, in.req.Path)
	in.mu.Unlock()

	in.release(context.Background())
	in.c.watchFailed(in)
}

func (in *Instance) handleError(err error) {
	if !in.c.classify(in, err) {
		return
	}

	in.mu.Lock()
	if in.state != StateActive {
		in.mu.Unlock()
		return
	}
	in.state = StateRestarting
	in.lastErr = err
	in.mu.Unlock()

	in.restartTimer.Reset(in.c.opts.RestartDelay)
}

// restart fully stops the current subscription before starting a new one.
func (in *Instance) restart() {
	in.mu.Lock()
	if in.state != StateRestarting {
		in.mu.Unlock()
		return
	}
	in.mu.Unlock()

	in.unsubscribe(in.ctx)

	in.mu.Lock()
	in.restarts++
	restarts := in.restarts
	in.mu.Unlock()
	in.c.stats.restarts.Add(1)

	err := in.subscribe(in.ctx)

	in.mu.Lock()
	if err != nil {
		in.state = StateFailed
		in.lastErr = err
	} else {
		in.state = StateActive
		in.lastErr = nil
	}
	in.mu.Unlock()

	if err != nil {
		in.c.logf(LevelError, in.req.Path, "failed to restart watcher for %s: %v", in.req, err)
		in.release(in.ctx)
		in.c.watchFailed(in)
		return
	}
	in.c.logf(LevelTrace, in.req.Path, "restarted watcher for %s (restart #%d)", in.req, restarts)
}

func (in *Instance) poll() {
	in.mu.Lock()
	snapshot := in.snapshot
	state := in.state
	in.mu.Unlock()
	if snapshot == "" || state.Terminal() {
		return
	}

	opts := SubscribeOptions{Ignore: in.excludes}
	events, err := in.c.snapshotter.EventsSince(in.ctx, in.realPath, snapshot, opts)
	if err != nil {
		in.handleError(err)
		return
	}
	in.ingest(events)

	for _, ev := range events {
		// The flush reports the deletion and fails the instance.
		if ev.Kind == Deleted && ev.Path == in.realPath {
			return
		}
	}

	if err := in.c.snapshotter.WriteSnapshot(in.ctx, in.realPath, snapshot, opts); err != nil {
		in.handleError(err)
		return
	}
	in.pollTimer.Reset(in.req.PollingInterval)
}

// subscribePath registers fn for raw events on exactly path.
func (in *Instance) subscribePath(path string, fn func(RawEvent)) (func(), error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.state {
	case StateRestarting:
		return nil, withPath(ErrRestarting, nil, in.req.Path)
	case StateFailed, StateStopped:
		return nil, withPath(ErrStopped, nil, in.req.Path)
	}

	key := in.subscriberKey(path)
	id := in.nextSubID
	in.nextSubID++
	if in.subscribers[key] == nil {
		in.subscribers[key] = make(map[uint64]func(RawEvent))
	}
	in.subscribers[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			in.mu.Lock()
			defer in.mu.Unlock()
			delete(in.subscribers[key], id)
			if len(in.subscribers[key]) == 0 {
				delete(in.subscribers, key)
			}
		})
	}, nil
}

func (in *Instance) subscriberKey(path string) string {
	if in.c.opts.CaseInsensitive {
		return strings.ToLower(path)
	}
	return path
}

func (in *Instance) notifySubscribers(ev RawEvent) {
	in.mu.Lock()
	subs := in.subscribers[in.subscriberKey(ev.Path)]
	fns := make([]func(RawEvent), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	in.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// stop ends the loop, flushes the pending window and releases resources.
func (in *Instance) stop(ctx context.Context) {
	in.cancel()
	<-in.exited

	in.coalesceTimer.Stop()
	in.drain()
	if in.coalescer.len() > 0 {
		in.flush(ctx)
	}
	in.release(ctx)

	in.mu.Lock()
	in.state = StateStopped
	in.mu.Unlock()
}
