//go:build integration

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"text/template"
	"time"

	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/ipc"
)

func TestDaemon_GracefulShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	sourceDir := filepath.Join(tmpDir, "source")
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		t.Fatalf("failed to create source dir: %v", err)
	}

	tmpl := template.Must(template.New("config").Parse(`
watches:
  - name: source
    path: {{.SourceDir}}

service:
  coalesce_delay: 10ms
`))
	var buf bytes.Buffer
	tmpl.Execute(&buf, map[string]string{
		"SourceDir": sourceDir,
	})

	t.Setenv(ipc.SocketEnv, filepath.Join(tmpDir, "d.sock"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmpDir, "state"))

	filesystem := fs.NewReal()
	if err := afero.WriteFile(filesystem, configPath, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunDaemon(ctx, configPath, filesystem)
	}()

	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil error on graceful shutdown, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("daemon did not shut down within timeout")
	}
}
