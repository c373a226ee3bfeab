package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prettymuchbryce/treewatch/daemon"
	"github.com/prettymuchbryce/treewatch/internal/config"
	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

var daemonConfigPath string

var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	Short:  "Watch the configured directories in the background",
	Long: `Start a long-running process that watches the configured directories,
records delivered changes and answers status, reload, enable and disable
requests over a local socket.

Shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var configPath string
		var err error

		if cmd.Flags().Changed("config") {
			configPath = pathutil.ExpandTilde(daemonConfigPath)
		} else {
			configPath, err = config.EnsureDefaultConfig(daemonConfigPath)
			if err != nil {
				return err
			}
		}

		return daemon.Run(ctx, configPath, fs.NewReal(), SetupLogging)
	},
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonConfigPath, "config", "c", pathutil.MustDefaultConfigPath(), "path to config file")
	rootCmd.AddCommand(daemonCmd)
}
