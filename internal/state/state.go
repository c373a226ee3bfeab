package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/ipc"
)

// WatchState tracks persistent counters for a single watch.
type WatchState struct {
	EventsDelivered int       `json:"events_delivered"`
	LastEventAt     time.Time `json:"last_event_at"`
	Failures        int       `json:"failures"`
	LastFailureAt   time.Time `json:"last_failure_at"`
}

// State tracks daemon state that persists across restarts.
type State struct {
	mu      sync.RWMutex
	fs      afero.Fs
	path    string
	dirty   bool
	Watches map[string]WatchState `json:"watches"`
}

// Load loads state from the default state file path.
// If the file doesn't exist, returns an empty state.
func Load() (*State, error) {
	path, err := ipc.StatePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(afero.NewOsFs(), path)
}

// LoadFrom loads state from the specified path. An empty path gives an
// in-memory state that is never written.
// If the file doesn't exist, returns an empty state.
func LoadFrom(afs afero.Fs, path string) (*State, error) {
	s := &State{
		fs:      afs,
		path:    path,
		Watches: make(map[string]WatchState),
	}
	if path == "" {
		return s, nil
	}

	data, err := afero.ReadFile(afs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		slog.Warn("failed to parse state file, starting fresh", "error", err)
		s.Watches = make(map[string]WatchState)
		return s, nil
	}

	if s.Watches == nil {
		s.Watches = make(map[string]WatchState)
	}

	return s, nil
}

// RecordEvents adds n delivered events to a watch. The change is kept in
// memory until Save.
func (s *State) RecordEvents(name string, n int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.Watches[name]
	ws.EventsDelivered += n
	ws.LastEventAt = at
	s.Watches[name] = ws
	s.dirty = true
}

// RecordFailure counts a watch failure and persists immediately.
func (s *State) RecordFailure(name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.Watches[name]
	ws.Failures++
	ws.LastFailureAt = at
	s.Watches[name] = ws
	return s.save()
}

// Save persists pending changes.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.save()
}

// save persists the state to disk. Must be called with mu held.
func (s *State) save() error {
	if s.path == "" {
		s.dirty = false
		return nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	if err := afero.WriteFile(s.fs, s.path, data, 0644); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// GetWatchState returns the persisted state for a watch.
// Returns nil if nothing was recorded for it.
func (s *State) GetWatchState(name string) *WatchState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.Watches[name]
	if !ok {
		return nil
	}
	return &ws
}

// Clear removes all state (useful for testing).
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Watches = make(map[string]WatchState)
	s.dirty = true
}
