package glob

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled patterns kept by NewCache(0).
const DefaultCacheSize = 10000

// Cache is a bounded LRU of compiled patterns, safe for concurrent use.
// A nil *Cache compiles without caching.
type Cache struct {
	patterns *lru.Cache[string, *Pattern]
}

// NewCache creates a cache holding at most size patterns.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for non-positive sizes.
	patterns, _ := lru.New[string, *Pattern](size)
	return &Cache{patterns: patterns}
}

// Len returns the number of cached patterns.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.patterns.Len()
}

// Compile returns the compiled form of pattern, compiling it on first use.
func (c *Cache) Compile(pattern string, opts Options) *Pattern {
	pattern = strings.TrimSpace(pattern)
	if c == nil {
		return compile(c, pattern, opts)
	}

	key := pattern + "_" + strconv.FormatBool(opts.TrimForExclusions)
	if p, ok := c.patterns.Get(key); ok {
		return p
	}
	p := compile(c, pattern, opts)
	c.patterns.Add(key, p)
	return p
}
