// Package pathindex is a trie over path segments used to answer ancestor
// queries between filesystem paths.
package pathindex

import (
	"iter"
	"path/filepath"
	"sort"
	"strings"
)

type node[V any] struct {
	// segment as first inserted, never folded
	segment  string
	children map[string]*node[V]
	value    V
	set      bool
}

// Index maps paths to values. Both separators are accepted on every
// platform. When ignoreCase is set, segments are compared case-folded but
// keys keep the case they were inserted with.
type Index[V any] struct {
	root       *node[V]
	ignoreCase bool
	size       int
}

// New creates an empty index.
func New[V any](ignoreCase bool) *Index[V] {
	return &Index[V]{root: &node[V]{}, ignoreCase: ignoreCase}
}

func split(path string) []string {
	path = filepath.ToSlash(path)
	path = strings.ReplaceAll(path, `\`, "/")
	rooted := strings.HasPrefix(path, "/")

	var segments []string
	if rooted {
		segments = append(segments, "")
	}
	for _, s := range strings.Split(path, "/") {
		if s != "" && s != "." {
			segments = append(segments, s)
		}
	}
	return segments
}

func (ix *Index[V]) fold(segment string) string {
	if ix.ignoreCase {
		return strings.ToLower(segment)
	}
	return segment
}

// Insert sets the value for path, replacing any previous value.
func (ix *Index[V]) Insert(path string, value V) {
	n := ix.root
	for _, s := range split(path) {
		key := ix.fold(s)
		child, ok := n.children[key]
		if !ok {
			if n.children == nil {
				n.children = make(map[string]*node[V])
			}
			child = &node[V]{segment: s}
			n.children[key] = child
		}
		n = child
	}
	if !n.set {
		ix.size++
	}
	n.value = value
	n.set = true
}

func (ix *Index[V]) find(path string) *node[V] {
	n := ix.root
	for _, s := range split(path) {
		n = n.children[ix.fold(s)]
		if n == nil {
			return nil
		}
	}
	return n
}

// Get returns the value stored for exactly path.
func (ix *Index[V]) Get(path string) (V, bool) {
	n := ix.find(path)
	if n == nil || !n.set {
		var zero V
		return zero, false
	}
	return n.value, true
}

// Has reports whether a value is stored for exactly path.
func (ix *Index[V]) Has(path string) bool {
	_, ok := ix.Get(path)
	return ok
}

// Delete removes the value for path. It reports whether a value was removed.
func (ix *Index[V]) Delete(path string) bool {
	segments := split(path)
	trail := make([]*node[V], 0, len(segments)+1)
	n := ix.root
	trail = append(trail, n)
	for _, s := range segments {
		n = n.children[ix.fold(s)]
		if n == nil {
			return false
		}
		trail = append(trail, n)
	}
	if !n.set {
		return false
	}

	var zero V
	n.value = zero
	n.set = false
	ix.size--

	// Prune empty branches.
	for i := len(trail) - 1; i > 0; i-- {
		cur := trail[i]
		if cur.set || len(cur.children) > 0 {
			break
		}
		delete(trail[i-1].children, ix.fold(segments[i-1]))
	}
	return true
}

// FindAncestor returns the entry closest to path that is path itself or one
// of its ancestors.
func (ix *Index[V]) FindAncestor(path string) (string, V, bool) {
	var (
		found     *node[V]
		foundPath []string
		walked    []string
	)
	n := ix.root
	for _, s := range split(path) {
		n = n.children[ix.fold(s)]
		if n == nil {
			break
		}
		walked = append(walked, n.segment)
		if n.set {
			found = n
			foundPath = append(foundPath[:0], walked...)
		}
	}
	if found == nil {
		var zero V
		return "", zero, false
	}
	return join(foundPath), found.value, true
}

// Len returns the number of stored paths.
func (ix *Index[V]) Len() int {
	return ix.size
}

// All yields every stored path and value in path order, parents before
// their children.
func (ix *Index[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		walk(ix.root, nil, yield)
	}
}

func walk[V any](n *node[V], prefix []string, yield func(string, V) bool) bool {
	if n.set && !yield(join(prefix), n.value) {
		return false
	}

	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := n.children[k]
		if !walk(child, append(prefix, child.segment), yield) {
			return false
		}
	}
	return true
}

// join rebuilds a native path from stored segments.
func join(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	if segments[0] == "" {
		if len(segments) == 1 {
			return string(filepath.Separator)
		}
		return string(filepath.Separator) + strings.Join(segments[1:], string(filepath.Separator))
	}
	return strings.Join(segments, string(filepath.Separator))
}
