package watcher

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/glob"
)

// eventFilter applies a request's include and exclude rules to coalesced
// events.
type eventFilter struct {
	fs         fs.FileSystem
	includes   []*glob.Pattern
	excludes   []*glob.Pattern
	expression *glob.ExpressionMatcher
	mask       EventKindMask
}

func newEventFilter(cache *glob.Cache, filesystem fs.FileSystem, req WatchRequest, excludes []string) *eventFilter {
	f := &eventFilter{fs: filesystem}

	for _, pattern := range excludes {
		if p := compileUnder(cache, req.Path, pattern, glob.Options{}); !p.Never() {
			f.excludes = append(f.excludes, p)
		}
	}
	for _, rp := range req.Includes {
		var p *glob.Pattern
		if rp.Base == "" {
			p = compileUnder(cache, req.Path, rp.Pattern, glob.Options{})
		} else {
			p = cache.CompileRelative(rp, glob.Options{})
		}
		// A pattern that never matches still counts as an include, so
		// the request reports nothing rather than everything.
		f.includes = append(f.includes, p)
	}
	if len(req.ExcludeExpression) > 0 {
		if m := cache.CompileExpression(req.ExcludeExpression, glob.Options{}); !m.Empty() {
			f.expression = m
		}
	}
	// Kind filters only apply to correlated requests.
	if req.Correlated() {
		f.mask = req.Filter
	}
	return f
}

func (f *eventFilter) apply(ctx context.Context, events []FileChangeEvent) []FileChangeEvent {
	out := events[:0]
	for _, ev := range events {
		if !f.mask.Allows(ev.Kind) {
			continue
		}
		if f.excluded(ctx, ev.Path) {
			continue
		}
		if len(f.includes) > 0 && !f.included(ev.Path) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (f *eventFilter) excluded(ctx context.Context, path string) bool {
	for _, p := range f.excludes {
		if p.Match(path) {
			return true
		}
	}
	if f.expression == nil {
		return false
	}

	matched, err := f.expression.Match(ctx, path, f.siblingProbe(filepath.Dir(path))).Wait(ctx)
	if err != nil {
		slog.Debug("exclude expression not evaluated", "path", path, "error", err)
		return false
	}
	return matched
}

func (f *eventFilter) included(path string) bool {
	for _, p := range f.includes {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// siblingProbe checks for files next to an event path without blocking the
// caller.
func (f *eventFilter) siblingProbe(dir string) glob.SiblingProbe {
	return func(name string) glob.Result {
		found := make(chan bool, 1)
		go func() {
			_, err := f.fs.Stat(filepath.Join(dir, name))
			found <- err == nil
		}()
		return glob.Pending(found)
	}
}
