package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// BackendKind names a native backend.
type BackendKind string

const (
	BackendFsnotify BackendKind = "fsnotify"
	BackendNotify   BackendKind = "notify"
)

// ParseBackendKind validates a configured backend name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case "", BackendFsnotify:
		return BackendFsnotify, nil
	case BackendNotify:
		return BackendNotify, nil
	}
	return "", fmt.Errorf("unknown backend %q (expected fsnotify or notify)", s)
}

// SubscribeOptions configures a native subscription.
type SubscribeOptions struct {
	// Ignore lists globs whose matches are neither watched nor reported.
	Ignore []string
}

// Callback receives backend output. Either err or events is set. It is
// called from a backend goroutine and must not block indefinitely.
type Callback func(err error, events []RawEvent)

// Backend subscribes to recursive change notifications for a directory.
type Backend interface {
	Subscribe(ctx context.Context, root string, opts SubscribeOptions, cb Callback) (Subscription, error)
}

// Subscription is a live native watch.
type Subscription interface {
	// Unsubscribe stops the watch. No callback runs after it returns.
	Unsubscribe(ctx context.Context) error
}

// Snapshotter supports polling: record the state of a tree, and later diff
// the tree against it.
type Snapshotter interface {
	WriteSnapshot(ctx context.Context, root, file string, opts SubscribeOptions) error
	EventsSince(ctx context.Context, root, file string, opts SubscribeOptions) ([]RawEvent, error)
}

// compileUnder compiles pattern for absolute event paths. Patterns that are
// neither absolute nor start with "**" are taken relative to base.
func compileUnder(cache *glob.Cache, base, pattern string, opts glob.Options) *glob.Pattern {
	pattern = strings.TrimSpace(pattern)
	if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "**") {
		return cache.Compile(pattern, opts)
	}
	return cache.CompileRelative(glob.RelativePattern{Base: base, Pattern: pattern}, opts)
}

// ignoreMatcher reports whether a path reported under root is ignored. A
// path is ignored when it or any ancestor below root matches.
type ignoreMatcher struct {
	root     string
	patterns []*glob.Pattern
}

func newIgnoreMatcher(cache *glob.Cache, root string, ignore []string) *ignoreMatcher {
	m := &ignoreMatcher{root: root}
	for _, pattern := range ignore {
		p := compileUnder(cache, root, pattern, glob.Options{TrimForExclusions: true})
		if !p.Never() {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// matchSelf checks path alone, for callers that never descend into ignored
// directories.
func (m *ignoreMatcher) matchSelf(path string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// match checks path and its ancestors up to the root.
func (m *ignoreMatcher) match(path string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	for current := path; pathutil.IsParent(current, m.root, false); current = filepath.Dir(current) {
		if m.matchSelf(current) {
			return true
		}
	}
	return false
}
