package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
	"github.com/prettymuchbryce/treewatch/internal/watcher"
)

// Config represents the top-level configuration.
type Config struct {
	Watches []WatchConfig `yaml:"watches"`
	Service ServiceConfig `yaml:"service"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServiceConfig tunes the watch coordinator.
type ServiceConfig struct {
	Backend        string                  `yaml:"backend"`
	CoalesceDelay  time.Duration           `yaml:"coalesce_delay"`
	RestartDelay   time.Duration           `yaml:"restart_delay"`
	CreateDebounce time.Duration           `yaml:"create_debounce"`
	Throttle       watcher.ThrottleOptions `yaml:"throttle"`
	GlobCacheSize  int                     `yaml:"glob_cache_size"`
	Verbose        bool                    `yaml:"verbose"`
	// EventLog is an optional JSON-lines journal of delivered events.
	EventLog string `yaml:"event_log"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Backend:        string(watcher.BackendFsnotify),
		CoalesceDelay:  watcher.DefaultCoalesceDelay,
		RestartDelay:   watcher.DefaultRestartDelay,
		CreateDebounce: watcher.DefaultCreateDebounce,
		Throttle:       watcher.DefaultThrottleOptions(),
		GlobCacheSize:  glob.DefaultCacheSize,
	}
}

// DefaultLoggingConfig returns the default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level: "warn",
	}
}

// Options converts the service section into coordinator options.
func (s ServiceConfig) Options() (watcher.Options, error) {
	backend, err := watcher.ParseBackendKind(s.Backend)
	if err != nil {
		return watcher.Options{}, err
	}

	opts := watcher.DefaultOptions()
	opts.Backend = backend
	opts.CoalesceDelay = s.CoalesceDelay
	opts.RestartDelay = s.RestartDelay
	opts.CreateDebounce = s.CreateDebounce
	opts.Throttle = s.Throttle
	opts.GlobCacheSize = s.GlobCacheSize
	opts.Verbose = s.Verbose
	return opts, nil
}

// Load reads and parses a configuration file using the real filesystem.
func Load(path string) (*Config, error) {
	return LoadWithFs(path, afero.NewOsFs())
}

// LoadWithFs reads and parses a configuration file using the provided filesystem.
func LoadWithFs(path string, afs afero.Fs) (*Config, error) {
	expanded := pathutil.ExpandTilde(path)

	data, err := afero.ReadFile(afs, expanded)
	if err != nil {
		return nil, err
	}

	// Start with defaults
	config := &Config{
		Service: DefaultServiceConfig(),
		Logging: DefaultLoggingConfig(),
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	config.Service.EventLog = pathutil.ExpandTilde(config.Service.EventLog)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks watch names, patterns and the service section.
func (c *Config) Validate() error {
	var errs []error

	if _, err := watcher.ParseBackendKind(c.Service.Backend); err != nil {
		errs = append(errs, fmt.Errorf("service: %w", err))
	}

	seen := make(map[string]bool, len(c.Watches))
	for i := range c.Watches {
		w := &c.Watches[i]
		if w.Name != "" {
			if seen[w.Name] {
				errs = append(errs, fmt.Errorf("watch %q: duplicate name", w.Name))
			}
			seen[w.Name] = true
		}
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("watch %q: %w", w.DisplayName(), err))
		}
	}
	return errors.Join(errs...)
}

// EnabledRequests returns the watch requests of all enabled watches.
func (c *Config) EnabledRequests() []watcher.WatchRequest {
	var requests []watcher.WatchRequest
	for i := range c.Watches {
		if c.Watches[i].IsEnabled() {
			requests = append(requests, c.Watches[i].Request())
		}
	}
	return requests
}

// WatchFor returns the enabled watch whose request matches req, if any.
func (c *Config) WatchFor(req watcher.WatchRequest) *WatchConfig {
	for i := range c.Watches {
		w := &c.Watches[i]
		if w.IsEnabled() && w.Request().Equal(req) {
			return w
		}
	}
	return nil
}
