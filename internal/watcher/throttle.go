package watcher

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleOptions bounds delivery to the sink.
type ThrottleOptions struct {
	// ChunkSize is the most events handed to the sink at once.
	ChunkSize int `yaml:"chunk_size"`
	// Delay separates consecutive chunks.
	Delay time.Duration `yaml:"delay"`
	// MaxBuffered caps events waiting for delivery. Events beyond it are
	// dropped.
	MaxBuffered int `yaml:"max_buffered"`
}

// DefaultThrottleOptions returns the delivery limits used when none are
// configured.
func DefaultThrottleOptions() ThrottleOptions {
	return ThrottleOptions{
		ChunkSize:   500,
		Delay:       200 * time.Millisecond,
		MaxBuffered: 30000,
	}
}

func (o ThrottleOptions) withDefaults() ThrottleOptions {
	d := DefaultThrottleOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Delay <= 0 {
		o.Delay = d.Delay
	}
	if o.MaxBuffered <= 0 {
		o.MaxBuffered = d.MaxBuffered
	}
	return o
}

// ThrottledEmitter buffers events from every instance and delivers them in
// chunks. Push never blocks; what does not fit is dropped with one warning
// per backlog.
type ThrottledEmitter struct {
	opts    ThrottleOptions
	deliver func([]FileChangeEvent)
	warn    func(LogMessage)
	limiter *rate.Limiter

	mu      sync.Mutex
	buffer  []FileChangeEvent
	warned  bool
	dropped uint64

	wake chan struct{}
}

// NewThrottledEmitter creates an emitter. Nothing is delivered until Run is
// called.
func NewThrottledEmitter(opts ThrottleOptions, deliver func([]FileChangeEvent), warn func(LogMessage)) *ThrottledEmitter {
	opts = opts.withDefaults()
	return &ThrottledEmitter{
		opts:    opts,
		deliver: deliver,
		warn:    warn,
		limiter: rate.NewLimiter(rate.Every(opts.Delay), 1),
		wake:    make(chan struct{}, 1),
	}
}

// Push buffers as many events as fit and returns how many were accepted.
func (e *ThrottledEmitter) Push(root string, events []FileChangeEvent) int {
	if len(events) == 0 {
		return 0
	}

	e.mu.Lock()
	accepted := min(len(events), max(e.opts.MaxBuffered-len(e.buffer), 0))
	e.buffer = append(e.buffer, events[:accepted]...)
	dropped := len(events) - accepted
	warn := false
	if dropped > 0 {
		e.dropped += uint64(dropped)
		warn = !e.warned
		e.warned = true
	}
	buffered := len(e.buffer)
	e.mu.Unlock()

	if warn && e.warn != nil {
		e.warn(LogMessage{
			Level:   LevelWarn,
			Root:    root,
			Message: fmt.Sprintf("too many file changes at once: %d waiting for delivery, dropping %d and any further changes until delivery catches up", buffered, dropped),
		})
	}

	if accepted > 0 {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	return accepted
}

// Run delivers buffered events until ctx ends.
func (e *ThrottledEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}

		for {
			chunk := e.next()
			if chunk == nil {
				break
			}
			if err := e.limiter.Wait(ctx); err != nil {
				return
			}
			e.deliver(chunk)
		}
	}
}

func (e *ThrottledEmitter) next() []FileChangeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := min(len(e.buffer), e.opts.ChunkSize)
	if n == 0 {
		e.buffer = nil
		e.warned = false
		return nil
	}
	chunk := slices.Clone(e.buffer[:n])
	e.buffer = e.buffer[n:]
	return chunk
}

// Buffered returns the number of events waiting for delivery.
func (e *ThrottledEmitter) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Dropped returns the total number of events dropped so far.
func (e *ThrottledEmitter) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
