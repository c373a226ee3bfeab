package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/djherbis/times"
	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/glob"
)

const snapshotVersion = 1

// SnapshotBackend implements polling by walking the tree and diffing it
// against the previous walk stored in a snapshot file.
type SnapshotBackend struct {
	fs    fs.FileSystem
	cache *glob.Cache
}

// NewSnapshotBackend creates a SnapshotBackend. Snapshot files are written
// through filesystem as well.
func NewSnapshotBackend(filesystem fs.FileSystem, cache *glob.Cache) *SnapshotBackend {
	return &SnapshotBackend{fs: filesystem, cache: cache}
}

type snapshotEntry struct {
	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
	CTime time.Time `json:"ctime,omitzero"`
	Dir   bool      `json:"dir,omitempty"`
}

type snapshot struct {
	Version int                      `json:"version"`
	Root    string                   `json:"root"`
	Entries map[string]snapshotEntry `json:"entries"`
}

// WriteSnapshot records the current state of root into file.
func (b *SnapshotBackend) WriteSnapshot(ctx context.Context, root, file string, opts SubscribeOptions) error {
	snap, err := b.scan(ctx, root, opts)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return afero.WriteFile(b.fs, file, data, 0o600)
}

// EventsSince diffs root against the snapshot in file. Events are sorted by
// path. A missing root yields a single deletion of the root.
func (b *SnapshotBackend) EventsSince(ctx context.Context, root, file string, opts SubscribeOptions) ([]RawEvent, error) {
	data, err := afero.ReadFile(b.fs, file)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var prev snapshot
	if err := json.Unmarshal(data, &prev); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", file, err)
	}
	if prev.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s has version %d, expected %d", file, prev.Version, snapshotVersion)
	}

	if _, err := b.fs.Stat(root); fs.IsNotExist(err) {
		if _, existed := prev.Entries["."]; existed {
			return []RawEvent{{Path: root, Kind: Deleted}}, nil
		}
		return nil, nil
	}

	cur, err := b.scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	var events []RawEvent
	for rel, entry := range cur.Entries {
		old, existed := prev.Entries[rel]
		switch {
		case !existed:
			events = append(events, RawEvent{Path: joinRel(root, rel), Kind: Added})
		case old.Dir != entry.Dir:
			events = append(events, RawEvent{Path: joinRel(root, rel), Kind: Updated})
		case !entry.Dir && old.changed(entry):
			events = append(events, RawEvent{Path: joinRel(root, rel), Kind: Updated})
		}
	}
	for rel := range prev.Entries {
		if _, exists := cur.Entries[rel]; !exists {
			events = append(events, RawEvent{Path: joinRel(root, rel), Kind: Deleted})
		}
	}

	slices.SortFunc(events, func(a, b RawEvent) int {
		if a.Path < b.Path {
			return -1
		}
		if a.Path > b.Path {
			return 1
		}
		return int(a.Kind) - int(b.Kind)
	})
	return events, nil
}

func (e snapshotEntry) changed(other snapshotEntry) bool {
	return e.Size != other.Size || !e.MTime.Equal(other.MTime) || !e.CTime.Equal(other.CTime)
}

func (b *SnapshotBackend) scan(ctx context.Context, root string, opts SubscribeOptions) (*snapshot, error) {
	ignore := newIgnoreMatcher(b.cache, root, opts.Ignore)
	snap := &snapshot{Version: snapshotVersion, Root: root, Entries: make(map[string]snapshotEntry)}

	err := afero.Walk(b.fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			// Entries that vanish or cannot be read mid-walk are left out.
			return nil
		}
		if path != root && ignore.matchSelf(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		snap.Entries[rel] = newSnapshotEntry(info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func newSnapshotEntry(info os.FileInfo) snapshotEntry {
	entry := snapshotEntry{
		Size:  info.Size(),
		MTime: info.ModTime(),
		Dir:   info.IsDir(),
	}
	// In-memory filesystems carry no stat data.
	if info.Sys() != nil {
		if ts := times.Get(info); ts.HasChangeTime() {
			entry.CTime = ts.ChangeTime()
		}
	}
	return entry
}

func joinRel(root, rel string) string {
	if rel == "." {
		return root
	}
	return filepath.Join(root, rel)
}
