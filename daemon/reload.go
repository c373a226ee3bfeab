package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prettymuchbryce/treewatch/internal/config"
	"github.com/prettymuchbryce/treewatch/internal/ipc"
)

// HandleReload re-reads the configuration file. Watches whose settings did
// not change keep running.
func (c *Controller) HandleReload() (ipc.ReloadResult, error) {
	cfg, err := config.LoadWithFs(c.configPath, c.fs)
	if err != nil {
		return ipc.ReloadResult{}, fmt.Errorf("failed to load config: %w", err)
	}

	if err := c.apply(cfg); err != nil {
		return ipc.ReloadResult{}, err
	}

	if c.enabled {
		if err := c.coordinator.Reconcile(context.Background(), cfg.EnabledRequests()); err != nil {
			return ipc.ReloadResult{}, fmt.Errorf("failed to apply watches: %w", err)
		}
	}

	enabledWatches := cfg.CountEnabledWatches()
	slog.Info("reloaded config", "path", c.configPath, "watches", len(cfg.Watches), "enabled", enabledWatches)

	if enabledWatches == 0 {
		slog.Warn("no enabled watches found in config", "path", c.configPath)
	}

	return ipc.ReloadResult{
		ConfigPath: c.configPath,
		Watches:    len(cfg.Watches),
		Enabled:    enabledWatches,
	}, nil
}
