package watcher

import (
	"errors"
	"path/filepath"
	"runtime"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prettymuchbryce/treewatch/internal/fs"
)

// mockFsWatcher tracks Add/Remove calls for testing.
type mockFsWatcher struct {
	added     []string
	removed   []string
	addErr    error
	removeErr error
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		added:   []string{},
		removed: []string{},
	}
}

func (m *mockFsWatcher) Add(name string) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, name)
	return nil
}

func (m *mockFsWatcher) Remove(name string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, name)
	return nil
}

func (m *mockFsWatcher) hasAdded(path string) bool {
	return slices.Contains(m.added, path)
}

func (m *mockFsWatcher) hasRemoved(path string) bool {
	return slices.Contains(m.removed, path)
}

// mockFsWatcherWithHook allows injecting a callback when Add is called.
type mockFsWatcherWithHook struct {
	*mockFsWatcher
	onAdd func(name string)
}

func newMockFsWatcherWithHook(onAdd func(name string)) *mockFsWatcherWithHook {
	return &mockFsWatcherWithHook{
		mockFsWatcher: newMockFsWatcher(),
		onAdd:         onAdd,
	}
}

func (m *mockFsWatcherWithHook) Add(name string) error {
	err := m.mockFsWatcher.Add(name)
	if err == nil && m.onAdd != nil {
		m.onAdd(name)
	}
	return err
}

// testPath creates a cross-platform absolute path for testing.
// On Unix: testPath("a", "b") returns "/a/b"
// On Windows: testPath("a", "b") returns "C:\\a\\b"
func testPath(parts ...string) string {
	if runtime.GOOS == "windows" {
		// C: alone is relative, C:\ is absolute
		return "C:\\" + filepath.Join(parts...)
	}
	return filepath.Join(append([]string{"/"}, parts...)...)
}

// newTestWatchedDirs creates a WatchedDirs rooted at root with a mock
// watcher and in-memory fs.
func newTestWatchedDirs(t *testing.T, root string, ignore ...string) (*WatchedDirs, *mockFsWatcher, *fs.MemFileSystem) {
	t.Helper()
	memFs := fs.NewMemTest()
	mock := newMockFsWatcher()
	wd := newWatchedDirsWith(t, memFs, mock, root, ignore...)
	return wd, mock, memFs
}

func newWatchedDirsWith(t *testing.T, filesystem fs.FileSystem, w fsnotifyWatcher, root string, ignore ...string) *WatchedDirs {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return NewWatchedDirs(filesystem, w, root, newIgnoreMatcher(nil, root, ignore), 50*time.Millisecond, make(chan string, 10), done)
}

func makeEvent(path string, op fsnotify.Op) fsnotify.Event {
	return fsnotify.Event{Name: path, Op: op}
}

// --- AddRoot ---

func TestAddRoot_ExistingDirectory(t *testing.T) {
	path := testPath("a", "b")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)

	if err := wd.AddRoot(); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	if !mock.hasAdded(path) {
		t.Errorf("expected path %s to be added to fsWatcher, got: %v", path, mock.added)
	}
	if _, ok := wd.entries[path]; !ok {
		t.Errorf("expected an entry for the root")
	}
}

func TestAddRoot_NonExistentDirectory(t *testing.T) {
	target := testPath("a", "b")
	wd, mock, memFs := newTestWatchedDirs(t, target)

	memFs.MustMkdirAll(testPath("a"))

	if err := wd.AddRoot(); !fs.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if len(mock.added) != 0 {
		t.Errorf("should not watch anything for a missing root, got: %v", mock.added)
	}
}

func TestAddRoot_NotDirectory(t *testing.T) {
	path := testPath("a", "file.txt")
	wd, _, memFs := newTestWatchedDirs(t, path)

	memFs.MustWriteFile(path, "x")

	if err := wd.AddRoot(); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
}

func TestAddRoot_Recursive(t *testing.T) {
	root := testPath("a")
	sub1 := testPath("a", "b")
	sub2 := testPath("a", "b", "c")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(sub2)
	memFs.MustWriteFile(testPath("a", "b", "file.txt"), "x")

	if err := wd.AddRoot(); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	for _, p := range []string{root, sub1, sub2} {
		if !mock.hasAdded(p) {
			t.Errorf("expected %s to be added, got: %v", p, mock.added)
		}
	}
	if wd.WatchCount() != 3 {
		t.Errorf("expected 3 watches (files are not watched), got %d", wd.WatchCount())
	}
}

func TestAddRoot_SkipsIgnoredDirectories(t *testing.T) {
	root := testPath("proj")
	modules := testPath("proj", "node_modules")
	wd, mock, memFs := newTestWatchedDirs(t, root, "**/node_modules/**")

	memFs.MustMkdirAll(filepath.Join(modules, "lodash"))
	memFs.MustMkdirAll(testPath("proj", "src"))

	if err := wd.AddRoot(); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	if mock.hasAdded(modules) || mock.hasAdded(filepath.Join(modules, "lodash")) {
		t.Errorf("ignored directories should not be watched, got: %v", mock.added)
	}
	if !mock.hasAdded(testPath("proj", "src")) {
		t.Errorf("expected src to be watched, got: %v", mock.added)
	}
}

func TestAddRoot_DoesNotFollowSymlinks(t *testing.T) {
	root := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(root)
	memFs.MustMkdirAll(testPath("elsewhere", "deep"))
	memFs.MustSymlink(testPath("elsewhere"), testPath("a", "link"))

	if err := wd.AddRoot(); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	if mock.hasAdded(testPath("a", "link")) || mock.hasAdded(testPath("elsewhere", "deep")) {
		t.Errorf("symlinked directories should not be watched, got: %v", mock.added)
	}
}

func TestAddRoot_FsWatcherAddError(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	mock.addErr = syscall.ENOSPC

	if err := wd.AddRoot(); !errors.Is(err, syscall.ENOSPC) {
		t.Errorf("expected ENOSPC, got %v", err)
	}
	if _, exists := wd.entries[path]; exists {
		t.Errorf("entry should not exist after Add error")
	}
}

func TestAddRoot_RootDeletedDuringAdd(t *testing.T) {
	memFs := fs.NewMemTest()
	root := testPath("a")
	memFs.MustMkdirAll(root)

	mock := newMockFsWatcherWithHook(func(name string) {
		if name == root {
			memFs.MustRemoveAll(root)
		}
	})
	wd := newWatchedDirsWith(t, memFs, mock, root)

	if err := wd.AddRoot(); !errors.Is(err, ErrRootDeleted) {
		t.Errorf("expected ErrRootDeleted, got %v", err)
	}
	if !mock.hasRemoved(root) {
		t.Errorf("expected watch on deleted root to be removed, got: %v", mock.removed)
	}
	if wd.WatchCount() != 0 {
		t.Errorf("expected no watches, got %d", wd.WatchCount())
	}
}

// --- remove ---

func TestRemove_ExistingWatch(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()
	wd.remove(path)

	if !mock.hasRemoved(path) {
		t.Errorf("expected path %s to be removed, got: %v", path, mock.removed)
	}
}

func TestRemove_NonExistent(t *testing.T) {
	wd, mock, _ := newTestWatchedDirs(t, testPath("a"))

	// Should be a no-op, not panic
	wd.remove(testPath("nonexistent"))

	if len(mock.removed) != 0 {
		t.Errorf("expected no removals for non-existent path, got: %v", mock.removed)
	}
}

func TestRemove_RemovesDescendants(t *testing.T) {
	root := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(testPath("a", "b", "c"))
	memFs.MustMkdirAll(testPath("a", "bb"))
	wd.AddRoot()

	wd.remove(testPath("a", "b"))

	for _, p := range []string{testPath("a", "b"), testPath("a", "b", "c")} {
		if !mock.hasRemoved(p) {
			t.Errorf("expected %s to be removed, got: %v", p, mock.removed)
		}
	}
	if mock.hasRemoved(testPath("a", "bb")) {
		t.Errorf("sibling with a shared prefix should stay watched")
	}
	if wd.WatchCount() != 2 {
		t.Errorf("expected 2 remaining watches, got %d", wd.WatchCount())
	}
}

func TestRemove_FsWatcherRemoveError(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()
	mock.removeErr = fsnotify.ErrNonExistentWatch

	wd.remove(path)

	if _, exists := wd.entries[path]; exists {
		t.Errorf("entry should be removed even if fsWatcher.Remove fails")
	}
}

// --- ProcessEvent ---

func TestProcessEvent_Kinds(t *testing.T) {
	tests := []struct {
		name string
		op   fsnotify.Op
		want EventKind
	}{
		{"create", fsnotify.Create, Added},
		{"write", fsnotify.Write, Updated},
		{"chmod", fsnotify.Chmod, Updated},
		{"remove", fsnotify.Remove, Deleted},
		{"rename", fsnotify.Rename, Deleted},
		{"write and remove", fsnotify.Write | fsnotify.Remove, Deleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testPath("a")
			wd, _, memFs := newTestWatchedDirs(t, root)
			memFs.MustMkdirAll(root)
			wd.AddRoot()

			file := testPath("a", "file.txt")
			got := wd.ProcessEvent(makeEvent(file, tt.op))
			want := []RawEvent{{Path: file, Kind: tt.want}}
			if !slices.Equal(got, want) {
				t.Errorf("ProcessEvent() = %v, want %v", got, want)
			}
		})
	}
}

func TestProcessEvent_IgnoredPath(t *testing.T) {
	root := testPath("proj")
	wd, _, memFs := newTestWatchedDirs(t, root, "**/*.log")
	memFs.MustMkdirAll(root)
	wd.AddRoot()

	if got := wd.ProcessEvent(makeEvent(testPath("proj", "debug.log"), fsnotify.Write)); got != nil {
		t.Errorf("expected ignored event to be dropped, got %v", got)
	}
}

func TestProcessEvent_Remove(t *testing.T) {
	root := testPath("a")
	sub := testPath("a", "b")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(testPath("a", "b", "c"))
	wd.AddRoot()

	events := wd.ProcessEvent(makeEvent(sub, fsnotify.Remove))

	if !mock.hasRemoved(sub) || !mock.hasRemoved(testPath("a", "b", "c")) {
		t.Errorf("expected subtree to be removed after REMOVE event, got: %v", mock.removed)
	}
	if want := []RawEvent{{Path: sub, Kind: Deleted}}; !slices.Equal(events, want) {
		t.Errorf("ProcessEvent() = %v, want %v", events, want)
	}
}

func TestProcessEvent_RootRenamed(t *testing.T) {
	root := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(root)
	wd.AddRoot()

	events := wd.ProcessEvent(makeEvent(root, fsnotify.Rename))

	if !mock.hasRemoved(root) {
		t.Errorf("expected root watch to be removed after RENAME event, got: %v", mock.removed)
	}
	if want := []RawEvent{{Path: root, Kind: Deleted}}; !slices.Equal(events, want) {
		t.Errorf("ProcessEvent() = %v, want %v", events, want)
	}
}

func TestProcessEvent_ChmodOnWatchedDir(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()

	// Chmod event on existing directory - should remain watched
	wd.ProcessEvent(makeEvent(path, fsnotify.Chmod))

	if mock.hasRemoved(path) {
		t.Errorf("should not have removed existing directory on chmod")
	}
}

func TestProcessEvent_ChmodOnDeletedDir(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()
	memFs.MustRemoveAll(path)

	// Chmod event on deleted directory - should be removed
	wd.ProcessEvent(makeEvent(path, fsnotify.Chmod))

	if !mock.hasRemoved(path) {
		t.Errorf("expected deleted directory to be removed on chmod, got: %v", mock.removed)
	}
}

func TestProcessEvent_CreateOnAlreadyWatchedDir(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()
	initialAddCount := len(mock.added)

	wd.ProcessEvent(makeEvent(path, fsnotify.Create))

	// Should re-add the fsnotify watch (remove then add)
	if !mock.hasRemoved(path) {
		t.Errorf("expected path to be removed during re-add, got: %v", mock.removed)
	}
	if len(mock.added) <= initialAddCount {
		t.Errorf("expected path to be re-added, got: %v", mock.added)
	}
}

func TestProcessEvent_CreateOnAlreadyWatchedDir_DeletedMeanwhile(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()
	memFs.MustRemoveAll(path)

	wd.ProcessEvent(makeEvent(path, fsnotify.Create))

	if !mock.hasRemoved(path) {
		t.Errorf("expected deleted directory to be removed, got: %v", mock.removed)
	}
}

// --- EvaluateDebounced ---

func TestEvaluateDebounced_EntryRemoved(t *testing.T) {
	wd, _, _ := newTestWatchedDirs(t, testPath("a"))

	if got := wd.EvaluateDebounced(testPath("a")); got != nil {
		t.Errorf("expected nothing for unwatched path, got %v", got)
	}
}

func TestEvaluateDebounced_ReportsNewSubtree(t *testing.T) {
	root := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(root)
	wd.AddRoot()

	// The subtree is fully populated before the watch on b exists.
	memFs.MustMkdirAll(testPath("a", "b", "c"))
	memFs.MustWriteFile(testPath("a", "b", "c", "file.txt"), "x")
	wd.ProcessEvent(makeEvent(testPath("a", "b"), fsnotify.Create))

	got := wd.EvaluateDebounced(root)

	want := []RawEvent{
		{Path: testPath("a", "b", "c"), Kind: Added},
		{Path: testPath("a", "b", "c", "file.txt"), Kind: Added},
	}
	if !slices.Equal(got, want) {
		t.Errorf("EvaluateDebounced() = %v, want %v", got, want)
	}
	for _, p := range []string{testPath("a", "b"), testPath("a", "b", "c")} {
		if !mock.hasAdded(p) {
			t.Errorf("expected %s to be watched, got: %v", p, mock.added)
		}
	}
	if len(wd.entries[root].createDebouncedPaths) != 0 {
		t.Errorf("expected debounced paths to be reset")
	}
}

func TestEvaluateDebounced_IgnoredDirectory(t *testing.T) {
	root := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, root, "**/node_modules/**")

	memFs.MustMkdirAll(root)
	wd.AddRoot()

	modules := testPath("a", "node_modules")
	memFs.MustMkdirAll(filepath.Join(modules, "x"))
	wd.ProcessEvent(makeEvent(modules, fsnotify.Create))

	if got := wd.EvaluateDebounced(root); len(got) != 0 {
		t.Errorf("expected no events, got %v", got)
	}
	if mock.hasAdded(modules) {
		t.Errorf("ignored directory should not be watched")
	}
}

func TestEvaluateDebounced_SymlinkNotFollowed(t *testing.T) {
	root := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(root)
	memFs.MustMkdirAll(testPath("elsewhere"))
	wd.AddRoot()

	link := testPath("a", "link")
	memFs.MustSymlink(testPath("elsewhere"), link)
	wd.ProcessEvent(makeEvent(link, fsnotify.Create))
	wd.EvaluateDebounced(root)

	if mock.hasAdded(link) {
		t.Errorf("symlink should not be watched")
	}
}

func TestEvaluateDebounced_StatError(t *testing.T) {
	path := testPath("a")
	wd, _, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()

	// Queue a create event for non-existent path
	wd.ProcessEvent(makeEvent(testPath("a", "b"), fsnotify.Create))

	wd.EvaluateDebounced(path)

	if _, exists := wd.entries[path]; !exists {
		t.Errorf("parent path should still be watched")
	}
}

func TestEvaluateDebounced_ManyCreates_ReadDirPath(t *testing.T) {
	// Save original threshold and restore after test
	originalThreshold := statThreshold
	statThreshold = 2 // Lower threshold to trigger ReadDir path
	defer func() { statThreshold = originalThreshold }()

	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()

	subdirs := []string{testPath("a", "b"), testPath("a", "c"), testPath("a", "d")}
	for _, sd := range subdirs {
		memFs.MustMkdirAll(sd)
		wd.ProcessEvent(makeEvent(sd, fsnotify.Create))
	}
	// Not created through an event, so not picked up here.
	memFs.MustMkdirAll(testPath("a", "e"))

	wd.EvaluateDebounced(path)

	for _, sd := range subdirs {
		if !mock.hasAdded(sd) {
			t.Errorf("expected subdir %s to be added via ReadDir path", sd)
		}
	}
	if mock.hasAdded(testPath("a", "e")) {
		t.Errorf("only debounced paths should be added")
	}
}

func TestEvaluateDebounced_ReadDir_RemovesOnError(t *testing.T) {
	originalThreshold := statThreshold
	statThreshold = 2
	defer func() { statThreshold = originalThreshold }()

	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()

	for i := 0; i < 3; i++ {
		wd.ProcessEvent(makeEvent(testPath("a", string(rune('b'+i))), fsnotify.Create))
	}

	// Delete the directory before EvaluateDebounced
	memFs.MustRemoveAll(path)

	wd.EvaluateDebounced(path)

	if !mock.hasRemoved(path) {
		t.Errorf("expected path to be removed on ReadDir error")
	}
}

// --- addTree errors ---

func TestAddTree_ReadDirError(t *testing.T) {
	path := testPath("a")
	wd, mock, memFs := newTestWatchedDirs(t, path)

	memFs.MustMkdirAll(path)
	wd.AddRoot()
	memFs.MustRemoveAll(path)

	wd.addTree(path, nil)

	if !mock.hasRemoved(path) {
		t.Errorf("expected path to be removed on ReadDir error")
	}
}

func TestAddTree_FsWatcherAddErrorIsReported(t *testing.T) {
	root := testPath("a")
	subdir := testPath("a", "b")
	wd, mock, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(root)
	wd.AddRoot()

	var reported []error
	wd.onError = func(err error) { reported = append(reported, err) }

	memFs.MustMkdirAll(subdir)
	mock.addErr = syscall.ENOSPC
	wd.addTree(subdir, nil)

	if _, exists := wd.entries[subdir]; exists {
		t.Errorf("entry should not be kept after Add error")
	}
	if len(reported) != 1 || !errors.Is(reported[0], syscall.ENOSPC) {
		t.Errorf("expected ENOSPC to be reported once, got %v", reported)
	}
}

// --- Destroy ---

func TestDestroy_StopsAllTimers(t *testing.T) {
	root := testPath("a")
	wd, _, memFs := newTestWatchedDirs(t, root)

	memFs.MustMkdirAll(testPath("a", "b"))
	wd.AddRoot()
	wd.ProcessEvent(makeEvent(testPath("a", "b", "c"), fsnotify.Create))

	// Should not panic
	wd.Destroy()

	// Entries should still exist but timers stopped
	if len(wd.entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(wd.entries))
	}
}
