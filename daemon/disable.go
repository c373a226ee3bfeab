package daemon

import (
	"context"
	"log/slog"
)

// HandleDisable stops every watch until the next enable.
func (c *Controller) HandleDisable() error {
	if !c.enabled {
		return nil
	}

	c.StopWatching(context.Background())
	slog.Info("daemon disabled")
	return nil
}
