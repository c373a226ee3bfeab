//go:build integration

package cmd

import (
	"context"

	"github.com/prettymuchbryce/treewatch/daemon"
	"github.com/prettymuchbryce/treewatch/internal/fs"
)

// RunDaemon is a test helper that wraps daemon.Run with proper logging setup.
func RunDaemon(ctx context.Context, configPath string, filesystem fs.FileSystem) error {
	return daemon.Run(ctx, configPath, filesystem, SetupLogging)
}
