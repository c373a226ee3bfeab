package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/prettymuchbryce/treewatch/internal/config"
	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/ipc"
	"github.com/prettymuchbryce/treewatch/internal/state"
	"github.com/prettymuchbryce/treewatch/internal/watcher"
)

// stateFlushInterval is how often delivered-event counters are persisted.
const stateFlushInterval = 10 * time.Second

// Controller manages the daemon lifecycle and implements ipc.Handler.
// All methods are called serially by the IPC server, so no locking is needed.
type Controller struct {
	configPath string
	fs         fs.FileSystem
	state      *state.State
	sink       *Sink
	cfg        *config.Config

	coordinator        *watcher.Coordinator
	coordinatorOptions []watcher.CoordinatorOption
	enabled            bool
}

// NewController creates a new daemon controller for a loaded config.
func NewController(configPath string, filesystem fs.FileSystem, st *state.State, cfg *config.Config, options ...watcher.CoordinatorOption) (*Controller, error) {
	c := &Controller{
		configPath:         configPath,
		fs:                 filesystem,
		state:              st,
		sink:               NewSink(st),
		coordinatorOptions: options,
	}
	if err := c.apply(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// apply switches to cfg, rebuilding the coordinator when the service
// section changed.
func (c *Controller) apply(cfg *config.Config) error {
	opts, err := cfg.Service.Options()
	if err != nil {
		return err
	}

	if c.cfg == nil || c.cfg.Service.EventLog != cfg.Service.EventLog {
		if err := c.sink.OpenJournal(c.fs, cfg.Service.EventLog); err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
	}
	c.sink.SetWatches(cfg.Watches)

	if c.coordinator != nil && c.cfg.Service != cfg.Service {
		slog.Info("service settings changed, restarting all watches")
		c.coordinator.Close()
		c.coordinator = nil
	}
	if c.coordinator == nil {
		options := append([]watcher.CoordinatorOption{watcher.WithFileSystem(c.fs)}, c.coordinatorOptions...)
		c.coordinator = watcher.NewCoordinator(c.sink, opts, options...)
	}
	c.cfg = cfg
	return nil
}

// StartWatching reconciles the coordinator with the enabled watches.
func (c *Controller) StartWatching(ctx context.Context) error {
	c.enabled = true
	return c.coordinator.Reconcile(ctx, c.cfg.EnabledRequests())
}

// StopWatching stops every watch, keeping the coordinator for a later start.
func (c *Controller) StopWatching(ctx context.Context) {
	c.enabled = false
	c.coordinator.StopAll(ctx)
}

// Close releases the coordinator and flushes state.
func (c *Controller) Close() error {
	c.enabled = false
	c.coordinator.Close()
	return c.sink.Close()
}

// Coordinator returns the coordinator currently serving the watches.
func (c *Controller) Coordinator() *watcher.Coordinator {
	return c.coordinator
}

// flushState persists event counters until ctx is done.
func (c *Controller) flushState(ctx context.Context) {
	ticker := time.NewTicker(stateFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.state.Save(); err != nil {
				slog.Warn("failed to save state", "error", err)
			}
		}
	}
}

// Run loads config and runs the daemon until context is cancelled.
func Run(ctx context.Context, configPath string, filesystem fs.FileSystem, setupLogging func(string)) error {
	cfg, err := config.LoadWithFs(configPath, filesystem)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg.Logging.Level)

	// Load persistent state
	st, err := state.Load()
	if err != nil {
		slog.Warn("failed to load state, starting fresh", "error", err)
		st, _ = state.LoadFrom(filesystem, "")
	}

	enabledWatches := cfg.CountEnabledWatches()
	slog.Info("loaded config", "watches", len(cfg.Watches), "enabled", enabledWatches, "backend", cfg.Service.Backend)

	// Warn if no enabled watches, but continue running for potential reload
	if enabledWatches == 0 {
		slog.Warn("no enabled watches found in config", "path", configPath)
	}

	controller, err := NewController(configPath, filesystem, st, cfg)
	if err != nil {
		return err
	}
	defer controller.Close()

	if err := controller.StartWatching(ctx); err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	// Start IPC server
	ipcServer, err := ipc.NewServer(controller)
	if err != nil {
		return fmt.Errorf("failed to create IPC server: %w", err)
	}

	go controller.flushState(ctx)

	// Notify systemd that we're ready (no-op on non-systemd systems)
	daemon.SdNotify(false, daemon.SdNotifyReady)
	slog.Info("daemon ready")

	// Run IPC server (blocks until context cancelled)
	if err := ipcServer.Serve(ctx); err != nil {
		slog.Error("IPC server error", "error", err)
	}

	// Notify systemd that we're stopping (no-op on non-systemd systems)
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	return nil
}
