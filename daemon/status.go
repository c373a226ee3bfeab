package daemon

import "github.com/prettymuchbryce/treewatch/internal/ipc"

// HandleStatus returns the current daemon status.
func (c *Controller) HandleStatus() ipc.StatusData {
	instances := c.coordinator.Instances()

	watchStatuses := make([]ipc.WatchStatus, len(c.cfg.Watches))
	for i := range c.cfg.Watches {
		w := &c.cfg.Watches[i]
		ws := ipc.WatchStatus{
			Name:    w.DisplayName(),
			Path:    w.Path,
			Enabled: w.IsEnabled(),
		}

		if ws.Enabled && c.enabled {
			req := w.Request()
			for _, in := range instances {
				if !in.Request.Equal(req) {
					continue
				}
				ws.State = in.State.String()
				ws.RealPath = in.RealPath
				ws.Polling = in.Polling
				ws.Restarts = in.Restarts
				if in.Err != nil {
					ws.Error = in.Err.Error()
				}
				break
			}
			if ws.State == "" {
				// Covered by another watch, or rejected before it started.
				ws.State = "merged"
			}
		}

		if watchState := c.state.GetWatchState(ws.Name); watchState != nil {
			ws.EventsDelivered = watchState.EventsDelivered
			ws.Failures = watchState.Failures
			if !watchState.LastEventAt.IsZero() {
				last := watchState.LastEventAt
				ws.LastEventAt = &last
			}
		}
		watchStatuses[i] = ws
	}

	stats := c.coordinator.Stats()
	return ipc.StatusData{
		ConfigPath: c.configPath,
		Enabled:    c.enabled,
		Backend:    c.cfg.Service.Backend,
		EventLog:   c.cfg.Service.EventLog,
		Watches:    watchStatuses,
		Totals: ipc.Totals{
			Delivered:     stats.Delivered,
			Dropped:       stats.Dropped,
			Buffered:      stats.Buffered,
			Restarts:      stats.Restarts,
			Failures:      stats.Failures,
			GlobCacheSize: stats.GlobsCache,
		},
	}
}
