package glob

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/prettymuchbryce/treewatch/internal/testutil"
)

func TestCacheReturnsSamePattern(t *testing.T) {
	c := NewCache(10)

	first := c.Compile("**/*.go", Options{})
	second := c.Compile("**/*.go", Options{})
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())

	// The trim flag is part of the key.
	c.Compile("**/*.go", Options{TrimForExclusions: true})
	assert.Equal(t, 2, c.Len())
}

func TestCacheIsBounded(t *testing.T) {
	c := NewCache(2)
	for _, p := range []string{"**/a", "**/b", "**/c", "**/d"} {
		c.Compile(p, Options{})
	}
	assert.Equal(t, 2, c.Len())

	// An evicted pattern compiles again to an equivalent matcher.
	again := c.Compile("**/a", Options{})
	assert.True(t, again.Match("x/a"))
	assert.False(t, again.Match("x/b"))
	assert.Equal(t, 2, c.Len())
}

func TestNilCache(t *testing.T) {
	var c *Cache
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Compile("**/x", Options{}).Match("a/x"))
}

func TestRelativePatternContainment(t *testing.T) {
	base := testutil.Path("/", "x")
	p := CompileRelative(RelativePattern{Base: base, Pattern: "**/*.txt"}, Options{})

	assert.False(t, p.Match(testutil.Path("/", "y", "file.txt")))
	assert.True(t, p.Match(testutil.Path("/", "x", "sub", "file.txt")))
	assert.True(t, p.Match(testutil.Path("/", "x", "file.txt")))
	assert.False(t, p.Match(testutil.Path("/", "xy", "file.txt")))
	assert.Equal(t, base, p.Base())
}

func TestRelativePatternStripsBase(t *testing.T) {
	base := testutil.Path("/", "proj")
	p := CompileRelative(RelativePattern{Base: base, Pattern: "src/*.go"}, Options{})

	assert.True(t, p.Match(testutil.Path("/", "proj", "src", "main.go")))
	assert.False(t, p.Match(testutil.Path("/", "proj", "lib", "src", "main.go")))

	// Base with a trailing separator behaves the same.
	withSep := CompileRelative(RelativePattern{Base: base + string(filepath.Separator), Pattern: "src/*.go"}, Options{})
	assert.True(t, withSep.Match(testutil.Path("/", "proj", "src", "main.go")))
}

func TestRelativePatternsShareCacheEntry(t *testing.T) {
	c := NewCache(10)
	a := c.CompileRelative(RelativePattern{Base: testutil.Path("/", "a"), Pattern: "**/*.md"}, Options{})
	b := c.CompileRelative(RelativePattern{Base: testutil.Path("/", "b"), Pattern: "**/*.md"}, Options{})

	assert.Equal(t, 1, c.Len())
	assert.Same(t, a.inner, b.inner)
	assert.True(t, a.Match(testutil.Path("/", "a", "r.md")))
	assert.False(t, a.Match(testutil.Path("/", "b", "r.md")))
}

func TestExpressionPlainEntries(t *testing.T) {
	m := CompileExpression(Expression{
		"**/*.js":  {Enabled: true},
		"**/*.tmp": {Enabled: false},
		"**/dist":  {Enabled: true},
		"**/build": {Enabled: true},
	}, Options{})

	assert.True(t, m.Match(context.Background(), "src/a.js", nil).Matched())
	assert.True(t, m.Match(context.Background(), "x/dist", nil).Matched())
	assert.True(t, m.Match(context.Background(), "build", nil).Matched())
	assert.False(t, m.Match(context.Background(), "a.tmp", nil).Matched())
	assert.False(t, m.RequiresSiblings())
	assert.False(t, m.Empty())

	assert.True(t, CompileExpression(Expression{"**/*.tmp": {Enabled: false}}, Options{}).Empty())
}

func TestExpressionSiblingClause(t *testing.T) {
	m := CompileExpression(Expression{
		"**/*.js": {Enabled: true, When: "$(basename).ts"},
	}, Options{})
	require.True(t, m.RequiresSiblings())

	var asked []string
	probe := func(name string) Result {
		asked = append(asked, name)
		return Settled(name == "foo.ts")
	}

	assert.True(t, m.Match(context.Background(), "src/foo.js", probe).Matched())
	assert.False(t, m.Match(context.Background(), "src/bar.js", probe).Matched())
	assert.False(t, m.Match(context.Background(), "src/foo.css", probe).Matched())
	assert.Equal(t, []string{"foo.ts", "bar.ts"}, asked)

	// Without a probe a sibling clause never matches.
	assert.False(t, m.Match(context.Background(), "src/foo.js", nil).Matched())
}

func TestExpressionPendingProbe(t *testing.T) {
	m := CompileExpression(Expression{
		"**/*.js":  {Enabled: true, When: "$(basename).ts"},
		"**/*.jsx": {Enabled: true, When: "$(basename).tsx"},
	}, Options{})

	probe := func(name string) Result {
		ch := make(chan bool, 1)
		ch <- name == "a.ts"
		return Pending(ch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r := m.Match(ctx, "src/a.js", probe)
	require.True(t, r.IsPending())
	matched, err := r.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, matched)

	r = m.Match(ctx, "src/b.js", probe)
	require.True(t, r.IsPending())
	matched, err = r.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestExpressionSettledMatchWinsOverPending(t *testing.T) {
	m := CompileExpression(Expression{
		"**/*.log": {Enabled: true},
		"**/*":     {Enabled: true, When: "keep"},
	}, Options{})

	probe := func(string) Result {
		t.Fatal("probe must not run once a plain entry matched")
		return Settled(false)
	}
	r := m.Match(context.Background(), "var/a.log", probe)
	assert.False(t, r.IsPending())
	assert.True(t, r.Matched())
}

func TestExpressionWaitHonorsContext(t *testing.T) {
	blocked := make(chan bool)
	r := Pending(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpressionUnresolvedProbeReleasedOnCancel(t *testing.T) {
	m := CompileExpression(Expression{
		"**/*.js": {Enabled: true, When: "$(basename).ts"},
	}, Options{})

	never := make(chan bool)
	probe := func(string) Result { return Pending(never) }

	ctx, cancel := context.WithCancel(context.Background())
	r := m.Match(ctx, "src/a.js", probe)
	require.True(t, r.IsPending())
	cancel()

	// The aggregated result settles as no match once ctx is done, even
	// though the probe never answers.
	matched, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestTrimExtension(t *testing.T) {
	tests := map[string]string{
		"foo.js":     "foo",
		"foo.min.js": "foo.min",
		".env":       ".env",
		"Makefile":   "Makefile",
		"a.":         "a",
	}
	for in, want := range tests {
		assert.Equal(t, want, trimExtension(in), in)
	}
}

func TestExpressionFromYAML(t *testing.T) {
	var expr Expression
	err := yaml.Unmarshal([]byte(`
"**/*.js": {when: "$(basename).ts"}
"**/*.tmp": true
"**/*.bak": false
`), &expr)
	require.NoError(t, err)

	assert.Equal(t, Clause{Enabled: true, When: "$(basename).ts"}, expr["**/*.js"])
	assert.Equal(t, Clause{Enabled: true}, expr["**/*.tmp"])
	assert.Equal(t, Clause{Enabled: false}, expr["**/*.bak"])

	var bad Expression
	assert.Error(t, yaml.Unmarshal([]byte(`"**/*.js": [1, 2]`), &bad))
}
