package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/itchyny/timefmt-go"
	"github.com/xlab/treeprint"

	"github.com/prettymuchbryce/treewatch/internal/watcher"
)

// Styles for event output
var (
	timeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // Cyan
	dirStyle     = lipgloss.NewStyle().Bold(true)
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
	updatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // Gray
)

const (
	addedIcon   = "+"
	deletedIcon = "-"
	updatedIcon = "~"
)

// DefaultTimeFormat is the strftime layout of batch headers.
const DefaultTimeFormat = "%H:%M:%S.%f"

// EventPrinter writes delivered batches as trees grouped by directory.
// It is safe for concurrent use.
type EventPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	timeFormat string
	now        func() time.Time
}

// NewEventPrinter creates an EventPrinter writing to stdout.
func NewEventPrinter() *EventPrinter {
	return NewEventPrinterWithWriter(os.Stdout)
}

// NewEventPrinterWithWriter creates an EventPrinter writing to a custom writer.
func NewEventPrinterWithWriter(w io.Writer) *EventPrinter {
	return &EventPrinter{
		w:          w,
		timeFormat: DefaultTimeFormat,
		now:        time.Now,
	}
}

// PrintBatch prints one delivered batch. Empty batches print nothing.
func (p *EventPrinter) PrintBatch(events []watcher.FileChangeEvent) {
	if len(events) == 0 {
		return
	}

	header := timeStyle.Render(timefmt.Format(p.now(), p.timeFormat)) + " " +
		detailStyle.Render(pluralize(len(events), "change", "changes"))
	tree := treeprint.NewWithRoot(header)

	// Group by parent directory, keeping the order directories first appear in.
	branches := make(map[string]treeprint.Tree)
	for _, ev := range events {
		dir := filepath.Dir(ev.Path)
		branch, ok := branches[dir]
		if !ok {
			branch = tree.AddBranch(dirStyle.Render(dir))
			branches[dir] = branch
		}
		branch.AddNode(formatEvent(ev))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, tree.String())
}

func formatEvent(ev watcher.FileChangeEvent) string {
	var line string
	name := filepath.Base(ev.Path)
	switch ev.Kind {
	case watcher.Added:
		line = addedStyle.Render(addedIcon + " " + name)
	case watcher.Deleted:
		line = deletedStyle.Render(deletedIcon + " " + name)
	default:
		line = updatedStyle.Render(updatedIcon + " " + name)
	}
	if ev.CorrelationID != nil {
		line += " " + detailStyle.Render(fmt.Sprintf("(#%d)", *ev.CorrelationID))
	}
	return line
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
