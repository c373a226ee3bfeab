package ipc

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHandler struct {
	enables  atomic.Int32
	disables atomic.Int32
	enableErr error
}

func (h *fakeHandler) HandleStatus() StatusData {
	return StatusData{
		ConfigPath: "/etc/treewatch.yaml",
		Enabled:    true,
		Backend:    "fsnotify",
		Watches: []WatchStatus{
			{Name: "src", Path: "/src", Enabled: true, State: "active", EventsDelivered: 3},
		},
		Totals: Totals{Delivered: 3},
	}
}

func (h *fakeHandler) HandleReload() (ReloadResult, error) {
	return ReloadResult{ConfigPath: "/etc/treewatch.yaml", Watches: 2, Enabled: 1}, nil
}

func (h *fakeHandler) HandleEnable() error {
	h.enables.Add(1)
	return h.enableErr
}

func (h *fakeHandler) HandleDisable() error {
	h.disables.Add(1)
	return nil
}

func TestServer_RoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("named pipes are not exercised here")
	}
	t.Setenv(SocketEnv, filepath.Join(t.TempDir(), "t.sock"))

	h := &fakeHandler{enableErr: errors.New("config is broken")}
	srv, err := NewServer(h)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	client, err := Connect()
	if err != nil {
		cancel()
		t.Fatalf("Connect: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.Watches) != 1 || status.Watches[0].Name != "src" || status.Watches[0].EventsDelivered != 3 {
		t.Errorf("unexpected status %+v", status)
	}

	result, err := client.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if result.Watches != 2 || result.Enabled != 1 {
		t.Errorf("unexpected reload result %+v", result)
	}

	if err := client.Disable(); err != nil {
		t.Errorf("Disable: %v", err)
	}
	if err := client.Enable(); err == nil || !strings.Contains(err.Error(), "config is broken") {
		t.Errorf("expected handler error from Enable, got %v", err)
	}
	client.Close()

	if h.enables.Load() != 1 || h.disables.Load() != 1 {
		t.Errorf("expected one enable and one disable, got %d/%d", h.enables.Load(), h.disables.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
