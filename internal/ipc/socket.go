package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// SocketEnv overrides the socket (or pipe) address. Integration tests use it
// to run several daemons side by side.
const SocketEnv = "TREEWATCH_SOCKET"

// SocketPath returns the platform-appropriate socket/address for IPC.
func SocketPath() (string, error) {
	if p := os.Getenv(SocketEnv); p != "" {
		return p, nil
	}
	switch runtime.GOOS {
	case "windows":
		return `\\.\pipe\treewatch`, nil
	case "darwin":
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cacheDir, "treewatch", "treewatch.sock"), nil
	default:
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			return filepath.Join(xdg, "treewatch", "treewatch.sock"), nil
		}
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cacheDir, "treewatch", "treewatch.sock"), nil
	}
}

// StatePath returns the platform-appropriate state file path.
func StatePath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("LOCALAPPDATA not set and cannot determine home directory: %w", err)
			}
			appData = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(appData, "treewatch", "state.json"), nil
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "treewatch", "state.json"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".local", "state", "treewatch", "state.json"), nil
	}
}
