package daemon

import (
	"context"
	"log/slog"
)

// HandleEnable starts watching again if the daemon was disabled.
func (c *Controller) HandleEnable() error {
	if c.enabled {
		return nil
	}

	if err := c.StartWatching(context.Background()); err != nil {
		return err
	}
	slog.Info("daemon enabled")
	return nil
}
