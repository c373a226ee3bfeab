//go:build integration

package daemontest

// File builder helpers for fluent API

// File creates a FileEntry for a file at the given path.
// Path should use forward slashes regardless of OS.
func File(path string) FileEntry {
	return FileEntry{Path: path, IsDir: false}
}

// Dir creates a FileEntry for a directory at the given path.
// Path should use forward slashes regardless of OS.
func Dir(path string) FileEntry {
	return FileEntry{Path: path, IsDir: true}
}

// WithContent sets the file content.
func (f FileEntry) WithContent(content string) FileEntry {
	f.Content = content
	return f
}

// Removed marks the entry for deletion instead of creation.
func (f FileEntry) Removed() FileEntry {
	f.Remove = true
	return f
}

// Event helpers

// Added expects an added event for path (forward slashes).
func Added(path string) Event {
	return Event{Kind: "added", Path: path}
}

// Updated expects an updated event for path (forward slashes).
func Updated(path string) Event {
	return Event{Kind: "updated", Path: path}
}

// Deleted expects a deleted event for path (forward slashes).
func Deleted(path string) Event {
	return Event{Kind: "deleted", Path: path}
}
