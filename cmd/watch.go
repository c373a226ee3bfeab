package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prettymuchbryce/treewatch/internal/config"
	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
	"github.com/prettymuchbryce/treewatch/internal/report"
	"github.com/prettymuchbryce/treewatch/internal/watcher"
)

var (
	watchConfigPath string
	watchExcludes   []string
	watchIncludes   []string
	watchPoll       time.Duration
	watchBackend    string
	watchVerbose    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Watch directories in the foreground and print changes",
	Long: `Recursively watch the given directories and print every change as it
is delivered. Without paths, the enabled watches from the config file are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			requests []watcher.WatchRequest
			opts     watcher.Options
			err      error
		)
		if len(args) > 0 {
			opts = watcher.DefaultOptions()
			requests, err = requestsFromArgs(args)
		} else {
			requests, opts, err = requestsFromConfig(cmd)
		}
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("backend") {
			if opts.Backend, err = watcher.ParseBackendKind(watchBackend); err != nil {
				return err
			}
		}
		if watchVerbose {
			opts.Verbose = true
			SetupLogging("debug")
		}

		if len(requests) == 0 {
			fmt.Println("Nothing to watch")
			return nil
		}

		coordinator := watcher.NewCoordinator(&printSink{printer: report.NewEventPrinter()}, opts)
		defer coordinator.Close()

		if err := coordinator.Reconcile(ctx, requests); err != nil {
			return err
		}

		watching := 0
		for _, in := range coordinator.Instances() {
			if !in.State.Terminal() {
				watching++
			}
		}
		fmt.Printf("Watching %d of %d directories (%s), press Ctrl+C to stop\n", watching, len(requests), opts.Backend)

		<-ctx.Done()
		return nil
	},
}

func requestsFromArgs(args []string) ([]watcher.WatchRequest, error) {
	includes := make(config.IncludeList, len(watchIncludes))
	for i, pattern := range watchIncludes {
		includes[i] = glob.RelativePattern{Pattern: pattern}
	}

	requests := make([]watcher.WatchRequest, 0, len(args))
	for _, arg := range args {
		path, err := filepath.Abs(pathutil.ExpandTilde(arg))
		if err != nil {
			return nil, err
		}
		w := config.WatchConfig{
			Name:            arg,
			Path:            path,
			Excludes:        watchExcludes,
			Includes:        includes,
			PollingInterval: watchPoll,
		}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		requests = append(requests, w.Request())
	}
	return requests, nil
}

func requestsFromConfig(cmd *cobra.Command) ([]watcher.WatchRequest, watcher.Options, error) {
	var configPath string
	var err error

	if cmd.Flags().Changed("config") {
		configPath = pathutil.ExpandTilde(watchConfigPath)
	} else {
		configPath, err = config.EnsureDefaultConfig(watchConfigPath)
		if err != nil {
			return nil, watcher.Options{}, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, watcher.Options{}, fmt.Errorf("failed to load config: %w", err)
	}
	SetupLogging(cfg.Logging.Level)

	opts, err := cfg.Service.Options()
	if err != nil {
		return nil, watcher.Options{}, err
	}

	requests := cfg.EnabledRequests()
	if len(requests) == 0 {
		fmt.Printf("No enabled watches found in config: %s\n", configPath)
	}
	return requests, opts, nil
}

// printSink prints delivered batches and routes diagnostics to slog.
type printSink struct {
	printer *report.EventPrinter
}

func (s *printSink) OnLog(msg watcher.LogMessage) {
	switch msg.Level {
	case watcher.LevelError:
		slog.Error(msg.Message)
	case watcher.LevelWarn:
		slog.Warn(msg.Message)
	default:
		slog.Debug(msg.Message)
	}
}

func (s *printSink) OnEventBatch(events []watcher.FileChangeEvent) {
	s.printer.PrintBatch(events)
}

func (s *printSink) OnWatchFailed(req watcher.WatchRequest) {
	slog.Error("stopped watching", "path", req.Path)
}

func init() {
	watchCmd.Flags().StringVarP(&watchConfigPath, "config", "c", pathutil.MustDefaultConfigPath(), "path to config file (used when no paths are given)")
	watchCmd.Flags().StringArrayVarP(&watchExcludes, "exclude", "e", nil, "glob of paths to ignore (repeatable)")
	watchCmd.Flags().StringArrayVarP(&watchIncludes, "include", "i", nil, "only report paths matching this glob (repeatable)")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 0, "poll at this interval instead of using native events")
	watchCmd.Flags().StringVar(&watchBackend, "backend", string(watcher.BackendFsnotify), "native backend: fsnotify or notify")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "log every delivered event and engine trace messages")
	rootCmd.AddCommand(watchCmd)
}
