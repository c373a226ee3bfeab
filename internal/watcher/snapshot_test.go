package watcher

import (
	"context"
	"slices"
	"testing"

	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/fs"
)

func TestSnapshotBackend_EventsSince(t *testing.T) {
	memFs := fs.NewMemTest()
	root := testPath("w")
	snap := testPath("tmp", "w.snapshot")
	opts := SubscribeOptions{Ignore: []string{"**/node_modules/**"}}

	memFs.MustWriteFile(testPath("w", "a.txt"), "a")
	memFs.MustWriteFile(testPath("w", "dir", "b.txt"), "b")
	memFs.MustWriteFile(testPath("w", "same.txt"), "same")
	memFs.MustWriteFile(testPath("w", "node_modules", "x.js"), "x")

	b := NewSnapshotBackend(memFs, nil)
	ctx := context.Background()
	if err := b.WriteSnapshot(ctx, root, snap, opts); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	memFs.MustWriteFile(testPath("w", "a.txt"), "changed")
	memFs.MustRemoveAll(testPath("w", "dir", "b.txt"))
	memFs.MustWriteFile(testPath("w", "c.txt"), "c")
	memFs.MustWriteFile(testPath("w", "node_modules", "y.js"), "y")

	got, err := b.EventsSince(ctx, root, snap, opts)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	want := []RawEvent{
		{Path: testPath("w", "a.txt"), Kind: Updated},
		{Path: testPath("w", "c.txt"), Kind: Added},
		{Path: testPath("w", "dir", "b.txt"), Kind: Deleted},
	}
	if !slices.Equal(got, want) {
		t.Errorf("EventsSince() = %v, want %v", got, want)
	}
}

func TestSnapshotBackend_NoChanges(t *testing.T) {
	memFs := fs.NewMemTest()
	root := testPath("w")
	snap := testPath("tmp", "w.snapshot")
	memFs.MustWriteFile(testPath("w", "a.txt"), "a")

	b := NewSnapshotBackend(memFs, nil)
	if err := b.WriteSnapshot(context.Background(), root, snap, SubscribeOptions{}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	got, err := b.EventsSince(context.Background(), root, snap, SubscribeOptions{})
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events, got %v", got)
	}
}

func TestSnapshotBackend_RootDeleted(t *testing.T) {
	memFs := fs.NewMemTest()
	root := testPath("w")
	snap := testPath("tmp", "w.snapshot")
	memFs.MustWriteFile(testPath("w", "a.txt"), "a")

	b := NewSnapshotBackend(memFs, nil)
	if err := b.WriteSnapshot(context.Background(), root, snap, SubscribeOptions{}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	memFs.MustRemoveAll(root)

	got, err := b.EventsSince(context.Background(), root, snap, SubscribeOptions{})
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if want := []RawEvent{{Path: root, Kind: Deleted}}; !slices.Equal(got, want) {
		t.Errorf("EventsSince() = %v, want %v", got, want)
	}
}

func TestSnapshotBackend_BadSnapshot(t *testing.T) {
	memFs := fs.NewMemTest()
	root := testPath("w")
	memFs.MustMkdirAll(root)
	b := NewSnapshotBackend(memFs, nil)

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "nope"},
		{"wrong version", `{"version": 99, "root": "/w", "entries": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := testPath("tmp", "bad.snapshot")
			if err := afero.WriteFile(memFs, snap, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := b.EventsSince(context.Background(), root, snap, SubscribeOptions{}); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	if _, err := b.EventsSince(context.Background(), root, testPath("tmp", "missing"), SubscribeOptions{}); err == nil {
		t.Errorf("expected error for missing snapshot")
	}
}

func TestSnapshotBackend_CanceledContext(t *testing.T) {
	memFs := fs.NewMemTest()
	memFs.MustWriteFile(testPath("w", "a.txt"), "a")
	b := NewSnapshotBackend(memFs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WriteSnapshot(ctx, testPath("w"), testPath("tmp", "s"), SubscribeOptions{}); err == nil {
		t.Errorf("expected context error")
	}
}
