package report

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/xlab/treeprint"

	"github.com/prettymuchbryce/treewatch/internal/ipc"
)

var (
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// WatchTree renders the watches of a status reply as a tree.
func WatchTree(status ipc.StatusData, now time.Time) string {
	tree := treeprint.NewWithRoot(dirStyle.Render("watches"))
	if len(status.Watches) == 0 {
		tree.AddNode(detailStyle.Render("none"))
		return tree.String()
	}

	for _, w := range status.Watches {
		branch := tree.AddBranch(watchIcon(w, status.Enabled) + " " + w.Name)
		branch.AddNode(detailStyle.Render("path: ") + w.Path)
		if !w.Enabled {
			continue
		}
		if w.RealPath != "" && w.RealPath != w.Path {
			branch.AddNode(detailStyle.Render("real path: ") + w.RealPath)
		}

		mode := status.Backend
		if w.Polling {
			mode = "polling"
		}
		state := w.State
		if state == "" {
			state = "idle"
		}
		line := fmt.Sprintf("%s (%s)", state, mode)
		if w.Restarts > 0 {
			line += fmt.Sprintf(", %s", pluralize(w.Restarts, "restart", "restarts"))
		}
		branch.AddNode(detailStyle.Render("state: ") + line)

		events := pluralize(w.EventsDelivered, "event", "events")
		if w.LastEventAt != nil && !w.LastEventAt.IsZero() {
			events += ", last " + FormatTimeAgo(now.Sub(*w.LastEventAt))
		}
		branch.AddNode(detailStyle.Render("delivered: ") + events)

		if w.Failures > 0 {
			branch.AddNode(failedStyle.Render(pluralize(w.Failures, "failure", "failures")))
		}
		if w.Error != "" {
			branch.AddNode(failedStyle.Render(w.Error))
		}
	}
	return tree.String()
}

func watchIcon(w ipc.WatchStatus, daemonEnabled bool) string {
	switch {
	case !w.Enabled:
		return "⛔️"
	case !daemonEnabled:
		return "🔴"
	case w.State == "active":
		return activeStyle.Render("●")
	case w.State == "failed":
		return failedStyle.Render("✗")
	default:
		return warningStyle.Render("●")
	}
}

// FormatTimeAgo formats an elapsed duration as a human-readable relative time.
func FormatTimeAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
