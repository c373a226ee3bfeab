// Package glob compiles glob patterns into matchers.
//
// Most patterns seen in practice reduce to a cheap string check (suffix,
// basename, path suffix or path equality). Those are recognized up front and
// everything else falls back to a regular expression.
package glob

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Options controls how a pattern is compiled.
type Options struct {
	// TrimForExclusions makes a trailing "/**" match the directory itself, so
	// that "dir/**" can be used to prune dir from a recursive walk.
	TrimForExclusions bool
}

type kind int

const (
	kindNever kind = iota
	kindSuffix
	kindBasename
	kindBasenameSet
	kindUnion
	kindPathSuffix
	kindPathEqual
	kindRegex
	kindRelative
)

// Pattern is a compiled glob. The zero value never matches.
type Pattern struct {
	kind   kind
	source string

	// kindSuffix, kindBasename
	value string
	// kindBasenameSet
	set map[string]struct{}
	// kindPathSuffix, kindPathEqual: native and forward slash forms
	native string
	posix  string
	// kindUnion
	parts []*Pattern
	// kindRegex
	re *regexp.Regexp
	// kindRelative
	base       string
	inner      *Pattern
	ignoreCase bool

	basenames []string
	paths     []string
}

// never is shared by every pattern that cannot match. It must not be mutated.
var never = &Pattern{kind: kindNever}

var (
	trivia1  = regexp.MustCompile(`^\*\*/\*\.[\w.-]+$`)
	trivia2  = regexp.MustCompile(`^\*\*/([\w.-]+)/?$`)
	trivia3  = regexp.MustCompile(`^\{\*\*/\*?[\w.-]+/?(,\*\*/\*?[\w.-]+/?)*\}$`)
	trivia32 = regexp.MustCompile(`^\{\*\*/\*?[\w.-]+(/(\*\*)?)?(,\*\*/\*?[\w.-]+(/(\*\*)?)?)*\}$`)
	trivia4  = regexp.MustCompile(`^\*\*((/[\w.-]+)+)/?$`)
	trivia5  = regexp.MustCompile(`^([\w.-]+(/[\w.-]+)*)/?$`)
)

// Compile compiles pattern without caching.
func Compile(pattern string, opts Options) *Pattern {
	var c *Cache
	return c.Compile(pattern, opts)
}

func compile(c *Cache, pattern string, opts Options) *Pattern {
	if pattern == "" {
		return never
	}

	if trivia1.MatchString(pattern) {
		return &Pattern{kind: kindSuffix, source: pattern, value: pattern[4:]}
	}

	trimmed := trimForExclusions(pattern, opts)
	if m := trivia2.FindStringSubmatch(trimmed); m != nil {
		return &Pattern{kind: kindBasename, source: pattern, value: m[1], basenames: []string{m[1]}}
	}

	unionShape := trivia3
	if opts.TrimForExclusions {
		unionShape = trivia32
	}
	if unionShape.MatchString(pattern) {
		return compileUnion(c, pattern, opts)
	}

	if m := trivia4.FindStringSubmatch(trimmed); m != nil {
		return pathPattern(kindPathSuffix, pattern, m[1][1:])
	}
	if m := trivia5.FindStringSubmatch(trimmed); m != nil {
		return pathPattern(kindPathEqual, pattern, m[1])
	}

	return compileRegex(pattern)
}

func trimForExclusions(pattern string, opts Options) string {
	if opts.TrimForExclusions && strings.HasSuffix(pattern, "/**") {
		return pattern[:len(pattern)-2]
	}
	return pattern
}

func pathPattern(k kind, pattern, target string) *Pattern {
	p := &Pattern{
		kind:   k,
		source: pattern,
		native: filepath.FromSlash(target),
		posix:  target,
	}
	if k == kindPathSuffix {
		p.paths = []string{"*/" + target}
	} else {
		p.paths = []string{"./" + target}
	}
	return p
}

func compileUnion(c *Cache, pattern string, opts Options) *Pattern {
	var parts []*Pattern
	for _, sub := range strings.Split(pattern[1:len(pattern)-1], ",") {
		p := c.Compile(sub, opts)
		if p.kind != kindNever {
			parts = append(parts, p)
		}
	}
	parts = aggregateBasenames(parts, pattern)

	switch len(parts) {
	case 0:
		return never
	case 1:
		return parts[0]
	}

	u := &Pattern{kind: kindUnion, source: pattern, parts: parts}
	for _, p := range parts {
		if len(p.basenames) > 0 {
			u.basenames = p.basenames
			break
		}
	}
	for _, p := range parts {
		u.paths = append(u.paths, p.paths...)
	}
	return u
}

// aggregateBasenames folds two or more basename patterns into a single set
// lookup appended after the remaining patterns.
func aggregateBasenames(parts []*Pattern, source string) []*Pattern {
	var names []string
	var rest []*Pattern
	count := 0
	for _, p := range parts {
		if p.kind == kindBasename || p.kind == kindBasenameSet {
			count++
			names = append(names, p.basenames...)
		} else {
			rest = append(rest, p)
		}
	}
	if count < 2 {
		return parts
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return append(rest, &Pattern{kind: kindBasenameSet, source: source, set: set, basenames: names})
}

// Match reports whether path matches the pattern.
func (p *Pattern) Match(path string) bool {
	if p == nil {
		return false
	}

	switch p.kind {
	case kindSuffix:
		return strings.HasSuffix(path, p.value)
	case kindBasename:
		return path == p.value ||
			strings.HasSuffix(path, "/"+p.value) ||
			strings.HasSuffix(path, `\`+p.value)
	case kindBasenameSet:
		_, ok := p.set[basename(path)]
		return ok
	case kindUnion:
		for _, part := range p.parts {
			if part.Match(path) {
				return true
			}
		}
		return false
	case kindPathSuffix:
		if path == p.native || strings.HasSuffix(path, string(filepath.Separator)+p.native) {
			return true
		}
		return p.native != p.posix && (path == p.posix || strings.HasSuffix(path, "/"+p.posix))
	case kindPathEqual:
		return path == p.native || path == p.posix
	case kindRegex:
		return p.re.MatchString(path)
	case kindRelative:
		return p.matchRelative(path)
	}
	return false
}

// Never reports whether the pattern can never match anything.
func (p *Pattern) Never() bool {
	return p == nil || p.kind == kindNever
}

// Basenames returns the exact basenames this pattern reduces to, if any.
func (p *Pattern) Basenames() []string {
	if p == nil {
		return nil
	}
	return p.basenames
}

// Paths returns the literal paths this pattern reduces to. Entries prefixed
// with "*/" match as a path suffix and "./" as an exact path.
func (p *Pattern) Paths() []string {
	if p == nil {
		return nil
	}
	return p.paths
}

func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// basename returns the last path element, splitting on both separators.
func basename(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	return path[i+1:]
}
