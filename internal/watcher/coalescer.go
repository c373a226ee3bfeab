package watcher

import (
	"slices"
	"strings"

	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// coalescer merges the events of one delay window so each path is reported
// at most once, with these rules for a path seen twice:
//
//	added   then deleted  -> dropped
//	deleted then added    -> updated
//	added   then updated  -> added
//	anything else         -> the later kind
//
// On case-insensitive filesystems a rename that only changes case keeps
// both the deletion and the addition.
type coalescer struct {
	ignoreCase bool
	order      []*coalescedEvent
	byPath     map[string]*coalescedEvent
}

type coalescedEvent struct {
	RawEvent
	dropped bool
}

func newCoalescer(ignoreCase bool) *coalescer {
	return &coalescer{ignoreCase: ignoreCase, byPath: make(map[string]*coalescedEvent)}
}

func (c *coalescer) key(path string) string {
	if c.ignoreCase {
		return strings.ToLower(path)
	}
	return path
}

func (c *coalescer) len() int {
	return len(c.byPath)
}

func (c *coalescer) add(event RawEvent) {
	key := c.key(event.Path)
	existing, ok := c.byPath[key]
	if !ok {
		c.keep(key, event)
		return
	}

	switch {
	case existing.Path != event.Path && (event.Kind == Added || event.Kind == Deleted):
		c.keep(key, event)
	case existing.Kind == Added && event.Kind == Deleted:
		existing.dropped = true
		delete(c.byPath, key)
	case existing.Kind == Deleted && event.Kind == Added:
		existing.Kind = Updated
	case existing.Kind == Added && event.Kind == Updated:
	default:
		existing.Kind = event.Kind
	}
}

func (c *coalescer) keep(key string, event RawEvent) {
	e := &coalescedEvent{RawEvent: event}
	c.order = append(c.order, e)
	c.byPath[key] = e
}

// drain returns the merged events and resets the window. Deletions come
// first, shortest path first, and a deletion below an already deleted
// directory is dropped. Additions and updates follow in arrival order.
func (c *coalescer) drain() []RawEvent {
	var deleted, rest []RawEvent
	for _, e := range c.order {
		switch {
		case e.dropped:
		case e.Kind == Deleted:
			deleted = append(deleted, e.RawEvent)
		default:
			rest = append(rest, e.RawEvent)
		}
	}
	c.order = nil
	clear(c.byPath)

	slices.SortStableFunc(deleted, func(a, b RawEvent) int {
		return len(a.Path) - len(b.Path)
	})

	out := make([]RawEvent, 0, len(deleted)+len(rest))
	var deletedDirs []string
	for _, e := range deleted {
		if slices.ContainsFunc(deletedDirs, func(dir string) bool {
			return pathutil.IsParent(e.Path, dir, c.ignoreCase)
		}) {
			continue
		}
		deletedDirs = append(deletedDirs, e.Path)
		out = append(out, e)
	}
	return append(out, rest...)
}
