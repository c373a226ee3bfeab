package daemon

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/config"
	"github.com/prettymuchbryce/treewatch/internal/pathindex"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
	"github.com/prettymuchbryce/treewatch/internal/state"
	"github.com/prettymuchbryce/treewatch/internal/watcher"
)

// journalEntry is one line of the event journal.
type journalEntry struct {
	Time          time.Time         `json:"time"`
	Watch         string            `json:"watch,omitempty"`
	Kind          watcher.EventKind `json:"kind"`
	Path          string            `json:"path"`
	CorrelationID *int64            `json:"correlation_id,omitempty"`
}

// Sink receives coordinator output. It records per-watch stats, forwards
// diagnostics to slog and appends delivered events to the journal.
type Sink struct {
	state *state.State
	now   func() time.Time

	mu         sync.Mutex
	byPath     *pathindex.Index[string]
	byID       map[int64]string
	journal    afero.File
	journalEnc *json.Encoder
}

// NewSink creates a sink recording into st.
func NewSink(st *state.State) *Sink {
	return &Sink{
		state:  st,
		now:    time.Now,
		byPath: pathindex.New[string](pathutil.CaseInsensitive),
		byID:   make(map[int64]string),
	}
}

// SetWatches updates the watches events are attributed to.
func (s *Sink) SetWatches(watches []config.WatchConfig) {
	byPath := pathindex.New[string](pathutil.CaseInsensitive)
	byID := make(map[int64]string)
	for i := range watches {
		w := &watches[i]
		if !w.IsEnabled() {
			continue
		}
		if w.CorrelationID != nil {
			byID[*w.CorrelationID] = w.DisplayName()
			continue
		}
		byPath.Insert(w.Path, w.DisplayName())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath = byPath
	s.byID = byID
}

// OpenJournal starts appending delivered events to path. An empty path
// closes the current journal.
func (s *Sink) OpenJournal(afs afero.Fs, path string) error {
	var file afero.File
	if path != "" {
		if err := afs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f, err := afs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		file = f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal != nil {
		s.journal.Close()
	}
	s.journal = file
	s.journalEnc = nil
	if file != nil {
		s.journalEnc = json.NewEncoder(file)
	}
	return nil
}

// Close flushes stats and closes the journal.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.journal != nil {
		s.journal.Close()
		s.journal = nil
		s.journalEnc = nil
	}
	s.mu.Unlock()
	return s.state.Save()
}

// watchName must be called with mu held.
func (s *Sink) watchName(path string, correlationID *int64) string {
	if correlationID != nil {
		if name, ok := s.byID[*correlationID]; ok {
			return name
		}
	}
	if _, name, ok := s.byPath.FindAncestor(path); ok {
		return name
	}
	return ""
}

// OnLog forwards engine diagnostics to slog.
func (s *Sink) OnLog(msg watcher.LogMessage) {
	switch msg.Level {
	case watcher.LevelError:
		slog.Error(msg.Message, "root", msg.Root)
	case watcher.LevelWarn:
		slog.Warn(msg.Message, "root", msg.Root)
	default:
		slog.Debug(msg.Message, "root", msg.Root)
	}
}

// OnEventBatch records stats and journals each event.
func (s *Sink) OnEventBatch(events []watcher.FileChangeEvent) {
	now := s.now()

	s.mu.Lock()
	counts := make(map[string]int)
	for _, ev := range events {
		name := s.watchName(ev.Path, ev.CorrelationID)
		counts[name]++
		if s.journalEnc != nil {
			err := s.journalEnc.Encode(journalEntry{
				Time:          now,
				Watch:         name,
				Kind:          ev.Kind,
				Path:          ev.Path,
				CorrelationID: ev.CorrelationID,
			})
			if err != nil {
				slog.Warn("failed to write event journal, disabling it", "error", err)
				s.journal.Close()
				s.journal = nil
				s.journalEnc = nil
			}
		}
	}
	s.mu.Unlock()

	for name, n := range counts {
		if name != "" {
			s.state.RecordEvents(name, n, now)
		}
	}
}

// OnWatchFailed records a failure for the watch behind req.
func (s *Sink) OnWatchFailed(req watcher.WatchRequest) {
	s.mu.Lock()
	name := s.watchName(req.Path, req.CorrelationID)
	s.mu.Unlock()

	if name == "" {
		name = req.Path
	}
	slog.Warn("watch failed", "watch", name, "path", req.Path)
	if err := s.state.RecordFailure(name, s.now()); err != nil {
		slog.Warn("failed to save state", "error", err)
	}
}
