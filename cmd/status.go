package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/prettymuchbryce/treewatch/internal/config"
	"github.com/prettymuchbryce/treewatch/internal/ipc"
	"github.com/prettymuchbryce/treewatch/internal/report"
)

var (
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	boldStyle      = lipgloss.NewStyle().Bold(true)
	labelStyle     = lipgloss.NewStyle().Width(12)
	boxStyle       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("2")).
			Padding(0, 4)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print daemon status, watches and delivery counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.Connect()
		if err != nil {
			return nil
		}
		defer client.Close()

		status, err := client.Status()
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		if config.IsDefaultConfig(status.ConfigPath) {
			welcome := "👋 Welcome to treewatch\n\n" + "1. Add the directories to watch to the config file at the path below.\n" +
				"2. Apply changes with " + highlightStyle.Render("treewatch reload") + "."
			fmt.Println(boxStyle.Render(welcome))
		}

		var statusValue string
		if status.Enabled {
			statusValue = "🟢 running"
		} else {
			statusValue = "🔴 disabled (run " + boldStyle.Render("treewatch enable") + " to resume)"
		}

		totals := status.Totals
		deliveredValue := fmt.Sprintf("%d events", totals.Delivered)
		if totals.Dropped > 0 {
			deliveredValue += fmt.Sprintf(", %d dropped", totals.Dropped)
		}
		if totals.Buffered > 0 {
			deliveredValue += fmt.Sprintf(", %d pending", totals.Buffered)
		}

		fmt.Println(labelStyle.Render("status") + statusValue)
		fmt.Println(labelStyle.Render("config") + dimStyle.Render(status.ConfigPath))
		fmt.Println(labelStyle.Render("backend") + status.Backend)
		if status.EventLog != "" {
			fmt.Println(labelStyle.Render("event log") + dimStyle.Render(status.EventLog))
		}
		fmt.Println(labelStyle.Render("delivered") + deliveredValue)
		if totals.Restarts > 0 || totals.Failures > 0 {
			fmt.Println(labelStyle.Render("problems") + fmt.Sprintf("%d restarts, %d failures", totals.Restarts, totals.Failures))
		}

		fmt.Print(report.WatchTree(*status, time.Now()))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
