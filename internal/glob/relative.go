package glob

import (
	"path/filepath"
	"strings"

	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// RelativePattern is a pattern that only applies beneath Base.
type RelativePattern struct {
	Base    string `yaml:"base"`
	Pattern string `yaml:"pattern"`
}

// CompileRelative compiles a relative pattern. Only the inner pattern is
// cached, so relative patterns sharing a glob share one cache entry.
func (c *Cache) CompileRelative(rp RelativePattern, opts Options) *Pattern {
	inner := c.Compile(rp.Pattern, opts)
	if inner.Never() {
		return never
	}
	return &Pattern{
		kind:       kindRelative,
		source:     rp.Pattern,
		base:       rp.Base,
		inner:      inner,
		ignoreCase: pathutil.CaseInsensitive,
	}
}

// CompileRelative compiles a relative pattern without caching.
func CompileRelative(rp RelativePattern, opts Options) *Pattern {
	var c *Cache
	return c.CompileRelative(rp, opts)
}

func (p *Pattern) matchRelative(path string) bool {
	if !pathutil.IsEqualOrParent(path, p.base, p.ignoreCase) {
		return false
	}
	rest := strings.TrimLeft(path[len(p.base):], string(filepath.Separator))
	return p.inner.Match(rest)
}

// Base returns the base directory of a relative pattern.
func (p *Pattern) Base() string {
	if p == nil {
		return ""
	}
	return p.base
}
