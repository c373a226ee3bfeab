//go:build integration

// Package daemontest runs the daemon against a temporary directory and checks
// the events it journals.
package daemontest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"text/template"
	"time"

	"github.com/prettymuchbryce/treewatch/daemon"
	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/ipc"
)

// FileEntry describes a file or directory to create or remove.
type FileEntry struct {
	Path    string // relative path using forward slashes (e.g., "source/file.txt")
	IsDir   bool   // true for directories
	Content string // file content
	Remove  bool   // remove the path (recursively) instead of creating it
}

// Event is an expected journal entry. Path is relative to the test
// directory and uses forward slashes.
type Event struct {
	Kind string
	Path string
}

// TestCase is a complete data-driven integration test.
type TestCase struct {
	Name    string        // test name (used for t.Run)
	Config  string        // YAML config with {{.TmpDir}} and {{.Journal}} template variables
	Before  []FileEntry   // files/dirs to create BEFORE daemon starts
	Trigger []FileEntry   // changes to make AFTER daemon starts
	Expect  []Event       // events that MUST be delivered
	Absent  []string      // paths that must NOT appear in any delivered event
	Settle  time.Duration // how long to wait before Trigger (default: 200ms)
	Timeout time.Duration // how long to wait for expected events (default: 5s)
}

// Harness manages the test environment.
type Harness struct {
	t       *testing.T
	tmpDir  string
	journal string
	cancel  context.CancelFunc
	errCh   chan error
}

// Run executes a single test case.
func Run(t *testing.T, tc TestCase) {
	t.Helper()

	tmpDir := t.TempDir()
	h := &Harness{
		t:       t,
		tmpDir:  tmpDir,
		journal: filepath.Join(tmpDir, "events.jsonl"),
		errCh:   make(chan error, 1),
	}
	t.Setenv(ipc.SocketEnv, filepath.Join(tmpDir, "d.sock"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmpDir, "state"))

	h.applyEntries(tc.Before)
	h.startDaemon(tc.Config)

	settle := tc.Settle
	if settle == 0 {
		settle = 200 * time.Millisecond
	}
	time.Sleep(settle)

	h.applyEntries(tc.Trigger)
	h.waitAndVerify(tc)
	h.cleanup()
}

// RunTable executes multiple test cases as subtests.
func RunTable(t *testing.T, cases []TestCase) {
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			Run(t, tc)
		})
	}
}

// applyEntries creates or removes files and directories.
func (h *Harness) applyEntries(entries []FileEntry) {
	h.t.Helper()

	for _, e := range entries {
		// Convert forward slashes to OS-specific separator for Windows compatibility
		path := filepath.Join(h.tmpDir, filepath.FromSlash(e.Path))

		if e.Remove {
			if err := os.RemoveAll(path); err != nil {
				h.t.Fatalf("failed to remove %s: %v", e.Path, err)
			}
			continue
		}

		if e.IsDir {
			if err := os.MkdirAll(path, 0755); err != nil {
				h.t.Fatalf("failed to create directory %s: %v", e.Path, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			h.t.Fatalf("failed to create parent directory for %s: %v", e.Path, err)
		}
		if err := os.WriteFile(path, []byte(e.Content), 0644); err != nil {
			h.t.Fatalf("failed to create file %s: %v", e.Path, err)
		}
	}
}

// startDaemon starts the daemon with the given config template.
func (h *Harness) startDaemon(configTemplate string) {
	h.t.Helper()

	tmpl, err := template.New("config").Funcs(template.FuncMap{
		// join creates OS-native paths: {{join .TmpDir "source" "subdir"}}
		"join": filepath.Join,
	}).Parse(configTemplate)
	if err != nil {
		h.t.Fatalf("failed to parse config template: %v", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{
		"TmpDir":  h.tmpDir,
		"Journal": h.journal,
	}); err != nil {
		h.t.Fatalf("failed to execute config template: %v", err)
	}

	configPath := filepath.Join(h.tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, buf.Bytes(), 0644); err != nil {
		h.t.Fatalf("failed to write config file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		h.errCh <- daemon.Run(ctx, configPath, fs.NewReal(), func(level string) {
			var logLevel slog.Level
			switch level {
			case "debug":
				logLevel = slog.LevelDebug
			case "warn":
				logLevel = slog.LevelWarn
			case "error":
				logLevel = slog.LevelError
			default:
				logLevel = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
		})
	}()

	// Wait for daemon to start
	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-h.errCh:
		h.t.Fatalf("daemon failed to start: %v", err)
	default:
	}
}

// Events reads the journal written so far.
func (h *Harness) Events() []Event {
	data, err := os.ReadFile(h.journal)
	if err != nil {
		return nil
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var entry struct {
			Kind string `json:"kind"`
			Path string `json:"path"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// The last line may still be half written.
			continue
		}
		rel, err := filepath.Rel(h.tmpDir, entry.Path)
		if err != nil {
			rel = entry.Path
		}
		events = append(events, Event{Kind: entry.Kind, Path: filepath.ToSlash(rel)})
	}
	return events
}

// waitAndVerify waits until every expected event was journaled, then checks
// that no absent path showed up.
func (h *Harness) waitAndVerify(tc TestCase) {
	h.t.Helper()

	timeout := tc.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(missingEvents(h.Events(), tc.Expect)) == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Give excluded events a chance to show up before checking for them.
	if len(tc.Absent) > 0 {
		time.Sleep(300 * time.Millisecond)
	}

	got := h.Events()
	for _, e := range missingEvents(got, tc.Expect) {
		h.t.Errorf("expected %s event for %s, got %v", e.Kind, e.Path, got)
	}
	for _, p := range tc.Absent {
		for _, e := range got {
			if e.Path == p {
				h.t.Errorf("expected no event for %s, got %s", p, e.Kind)
			}
		}
	}
}

func missingEvents(got, want []Event) []Event {
	var missing []Event
	for _, w := range want {
		found := false
		for _, g := range got {
			if g == w {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, w)
		}
	}
	return missing
}

// cleanup stops the daemon gracefully.
func (h *Harness) cleanup() {
	h.t.Helper()

	if h.cancel != nil {
		h.cancel()
	}

	select {
	case err := <-h.errCh:
		if err != nil {
			h.t.Errorf("daemon returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		h.t.Error("daemon did not stop within timeout")
	}
}
