package ipc

import "time"

// Empty is used for RPC methods that don't need arguments or return values.
type Empty struct{}

// StatusData is returned by Daemon.Status.
type StatusData struct {
	ConfigPath string        `json:"config_path"`
	Enabled    bool          `json:"enabled"`
	Backend    string        `json:"backend"`
	EventLog   string        `json:"event_log,omitempty"`
	Watches    []WatchStatus `json:"watches"`
	Totals     Totals        `json:"totals"`
}

// WatchStatus shows per-watch status information.
type WatchStatus struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
	State    string `json:"state,omitempty"`
	RealPath string `json:"real_path,omitempty"`
	Polling  bool   `json:"polling,omitempty"`
	Restarts int    `json:"restarts,omitempty"`
	Error    string `json:"error,omitempty"`

	EventsDelivered int        `json:"events_delivered"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
	Failures        int        `json:"failures"`
}

// Totals are process-wide counters.
type Totals struct {
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Buffered      int    `json:"buffered"`
	Restarts      uint64 `json:"restarts"`
	Failures      uint64 `json:"failures"`
	GlobCacheSize int    `json:"glob_cache_size"`
}

// ReloadResult is returned by Daemon.Reload.
type ReloadResult struct {
	ConfigPath string `json:"config_path"`
	Watches    int    `json:"watches"`
	Enabled    int    `json:"enabled"`
}
