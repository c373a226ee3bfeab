package cmd

import (
	"fmt"

	"github.com/prettymuchbryce/treewatch/internal/ipc"
	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload watches from the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.Connect()
		if err != nil {
			return nil
		}
		defer client.Close()

		result, err := client.Reload()
		if err != nil {
			return fmt.Errorf("failed to reload config: %w", err)
		}

		fmt.Printf("Reloaded %s (%d of %d watches enabled)\n", result.ConfigPath, result.Enabled, result.Watches)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
