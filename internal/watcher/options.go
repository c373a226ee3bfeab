package watcher

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

const (
	DefaultCoalesceDelay = 75 * time.Millisecond
	DefaultRestartDelay  = 800 * time.Millisecond
)

// Options tunes a Coordinator. Zero durations and sizes fall back to the
// defaults.
type Options struct {
	// CoalesceDelay is the window raw events are merged over.
	CoalesceDelay time.Duration
	// RestartDelay is how long an instance waits before resubscribing after
	// an unexpected backend error.
	RestartDelay time.Duration
	// CreateDebounce batches directory creations before they are walked.
	CreateDebounce time.Duration
	Throttle       ThrottleOptions
	GlobCacheSize  int
	Backend        BackendKind
	// CaseInsensitive makes path comparisons ignore case.
	CaseInsensitive bool
	// PredefinedExcludes are absolute directories never watched unless a
	// request targets them directly.
	PredefinedExcludes []string
	// Verbose reports every delivered event as a trace message.
	Verbose bool
}

// DefaultOptions returns the options for the current platform.
func DefaultOptions() Options {
	return Options{
		CoalesceDelay:      DefaultCoalesceDelay,
		RestartDelay:       DefaultRestartDelay,
		CreateDebounce:     DefaultCreateDebounce,
		Throttle:           DefaultThrottleOptions(),
		GlobCacheSize:      glob.DefaultCacheSize,
		Backend:            BackendFsnotify,
		CaseInsensitive:    pathutil.CaseInsensitive,
		PredefinedExcludes: DefaultPredefinedExcludes(),
	}
}

func (o Options) withDefaults() Options {
	if o.CoalesceDelay <= 0 {
		o.CoalesceDelay = DefaultCoalesceDelay
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.CreateDebounce <= 0 {
		o.CreateDebounce = DefaultCreateDebounce
	}
	if o.GlobCacheSize <= 0 {
		o.GlobCacheSize = glob.DefaultCacheSize
	}
	if o.Backend == "" {
		o.Backend = BackendFsnotify
	}
	o.Throttle = o.Throttle.withDefaults()
	return o
}

// DefaultPredefinedExcludes lists directories that misbehave when watched on
// this platform. On macOS, reading ~/Library/Containers triggers privacy
// prompts.
func DefaultPredefinedExcludes() []string {
	if runtime.GOOS != "darwin" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, "Library", "Containers")}
}

// excludesFor returns the request's excludes plus every predefined exclude
// that lies strictly below root.
func excludesFor(req WatchRequest, predefined []string, ignoreCase bool) []string {
	excludes := append([]string(nil), req.Excludes...)
	for _, dir := range predefined {
		if pathutil.IsParent(dir, req.Path, ignoreCase) {
			excludes = append(excludes, filepath.ToSlash(dir), filepath.ToSlash(dir)+"/**")
		}
	}
	return excludes
}
