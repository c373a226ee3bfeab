package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
	"github.com/prettymuchbryce/treewatch/internal/watcher"
)

// WatchConfig is one recursively watched directory.
type WatchConfig struct {
	Name     string      `yaml:"name"`
	Path     string      `yaml:"path"`
	Enabled  *bool       `yaml:"enabled"` // nil defaults to true
	Excludes StringList  `yaml:"excludes"`
	Includes IncludeList `yaml:"includes"`
	// ExcludeWhen excludes matching paths, optionally only when a sibling exists.
	ExcludeWhen     glob.Expression       `yaml:"exclude_when"`
	PollingInterval time.Duration         `yaml:"polling_interval"`
	CorrelationID   *int64                `yaml:"correlation_id"`
	Filter          watcher.EventKindMask `yaml:"filter"`
}

// UnmarshalYAML decodes the watch and normalizes its path.
func (w *WatchConfig) UnmarshalYAML(node *yaml.Node) error {
	type watchAlias WatchConfig
	var alias watchAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*w = WatchConfig(alias)

	if w.Path == "" {
		return fmt.Errorf("watch %q: path is required", w.Name)
	}
	path := pathutil.ExpandTilde(w.Path)
	if !filepath.IsAbs(path) {
		return fmt.Errorf("watch path must be an absolute path: %s", path)
	}
	w.Path = filepath.Clean(path)

	for i, inc := range w.Includes {
		if inc.Base != "" {
			w.Includes[i].Base = filepath.Clean(inc.Base)
		}
	}
	return nil
}

// IsEnabled returns whether the watch is enabled (defaults to true).
func (w *WatchConfig) IsEnabled() bool {
	if w.Enabled == nil {
		return true
	}
	return *w.Enabled
}

// DisplayName returns the name, falling back to the path.
func (w *WatchConfig) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return w.Path
}

// Validate reports malformed patterns.
func (w *WatchConfig) Validate() error {
	var errs []error
	check := func(kind, pattern string) {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			errs = append(errs, fmt.Errorf("invalid %s pattern %q", kind, pattern))
		}
	}

	for _, p := range w.Excludes {
		check("exclude", p)
	}
	for _, inc := range w.Includes {
		check("include", inc.Pattern)
		if inc.Base != "" && !filepath.IsAbs(inc.Base) {
			errs = append(errs, fmt.Errorf("include base must be an absolute path: %s", inc.Base))
		}
	}
	for p := range w.ExcludeWhen {
		check("exclude_when", p)
	}
	if w.PollingInterval < 0 {
		errs = append(errs, fmt.Errorf("polling_interval must not be negative"))
	}
	return errors.Join(errs...)
}

// Request converts the watch into an engine watch request.
func (w *WatchConfig) Request() watcher.WatchRequest {
	req := watcher.WatchRequest{
		Path:              w.Path,
		Excludes:          []string(w.Excludes),
		Includes:          []glob.RelativePattern(w.Includes),
		ExcludeExpression: w.ExcludeWhen,
		PollingInterval:   w.PollingInterval,
		Filter:            w.Filter,
	}
	if w.CorrelationID != nil {
		id := *w.CorrelationID
		req.CorrelationID = &id
	}
	return req
}
