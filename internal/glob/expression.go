package glob

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Clause is the value side of an expression entry. In YAML it is either a
// bool or a mapping with a "when" sibling condition.
type Clause struct {
	Enabled bool
	// When names a sibling that must exist for the entry to match.
	// "$(basename)" is replaced by the matched file name without extension.
	When string
}

// UnmarshalYAML accepts `true`, `false` or `{when: "$(basename).ts"}`.
func (c *Clause) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("expression clause must be a bool or {when: ...}: %w", err)
		}
		*c = Clause{Enabled: enabled}
		return nil
	case yaml.MappingNode:
		var sibling struct {
			When string `yaml:"when"`
		}
		if err := value.Decode(&sibling); err != nil {
			return err
		}
		*c = Clause{Enabled: true, When: sibling.When}
		return nil
	default:
		return fmt.Errorf("expression clause must be a bool or {when: ...}")
	}
}

// Expression maps patterns to clauses.
type Expression map[string]Clause

// Result is the outcome of an expression match. Matches that depend on a
// sibling probe may still be pending.
type Result struct {
	matched bool
	pending <-chan bool
}

// Settled returns a result that is already known.
func Settled(matched bool) Result {
	return Result{matched: matched}
}

// Pending returns a result delivered later on ch. A closed channel counts as
// no match.
func Pending(ch <-chan bool) Result {
	return Result{pending: ch}
}

// IsPending reports whether the result still has to be awaited.
func (r Result) IsPending() bool {
	return r.pending != nil
}

// Matched returns a settled result. It is always false while pending.
func (r Result) Matched() bool {
	return r.matched
}

// Wait blocks until the result is known.
func (r Result) Wait(ctx context.Context) (bool, error) {
	if r.pending == nil {
		return r.matched, nil
	}
	select {
	case matched := <-r.pending:
		return matched, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SiblingProbe reports whether a file named name exists next to the path
// being matched.
type SiblingProbe func(name string) Result

type siblingEntry struct {
	pattern *Pattern
	when    string
}

// ExpressionMatcher evaluates a compiled Expression.
type ExpressionMatcher struct {
	plain    []*Pattern
	siblings []siblingEntry
}

// CompileExpression compiles expr without caching.
func CompileExpression(expr Expression, opts Options) *ExpressionMatcher {
	var c *Cache
	return c.CompileExpression(expr, opts)
}

// CompileExpression compiles every enabled entry of expr. Entries are
// visited in sorted order so the result does not depend on map iteration.
func (c *Cache) CompileExpression(expr Expression, opts Options) *ExpressionMatcher {
	keys := make([]string, 0, len(expr))
	for k := range expr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := &ExpressionMatcher{}
	for _, k := range keys {
		clause := expr[k]
		if !clause.Enabled {
			continue
		}
		p := c.Compile(k, opts)
		if p.Never() {
			continue
		}
		if clause.When != "" {
			m.siblings = append(m.siblings, siblingEntry{pattern: p, when: clause.When})
		} else {
			m.plain = append(m.plain, p)
		}
	}
	m.plain = aggregateBasenames(m.plain, "")
	return m
}

// Empty reports whether the matcher can never match.
func (m *ExpressionMatcher) Empty() bool {
	return m == nil || (len(m.plain) == 0 && len(m.siblings) == 0)
}

// RequiresSiblings reports whether matching may consult a SiblingProbe.
func (m *ExpressionMatcher) RequiresSiblings() bool {
	return m != nil && len(m.siblings) > 0
}

// Match evaluates the expression against path. The first settled match wins;
// pending sibling probes are only awaited when nothing matched outright, and
// are abandoned as no match once ctx is done.
func (m *ExpressionMatcher) Match(ctx context.Context, path string, probe SiblingProbe) Result {
	if m == nil {
		return Settled(false)
	}

	for _, p := range m.plain {
		if p.Match(path) {
			return Settled(true)
		}
	}

	var pending []<-chan bool
	if probe != nil {
		var stem string
		for _, e := range m.siblings {
			if !e.pattern.Match(path) {
				continue
			}
			if stem == "" {
				stem = trimExtension(basename(path))
			}
			r := probe(strings.Replace(e.when, "$(basename)", stem, 1))
			if r.IsPending() {
				pending = append(pending, r.pending)
			} else if r.matched {
				return Settled(true)
			}
		}
	}

	if len(pending) == 0 {
		return Settled(false)
	}

	out := make(chan bool, 1)
	go func() {
		for _, ch := range pending {
			select {
			case matched := <-ch:
				if matched {
					out <- true
					return
				}
			case <-ctx.Done():
				close(out)
				return
			}
		}
		out <- false
	}()
	return Pending(out)
}

// trimExtension drops the final extension. A leading dot does not start an
// extension, so ".env" stays ".env".
func trimExtension(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name
	}
	return name[:i]
}
