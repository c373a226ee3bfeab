package pathutil

import (
	"path/filepath"
	"runtime"
	"strings"
)

// CaseInsensitive reports whether paths on this platform should be compared
// without regard to case. Only Linux filesystems are treated as case sensitive.
var CaseInsensitive = runtime.GOOS != "linux"

// IsEqualOrParent reports whether path is parent itself or lies beneath it.
// A trailing separator on parent is tolerated.
func IsEqualOrParent(path, parent string, ignoreCase bool) bool {
	if path == parent {
		return true
	}
	if path == "" || parent == "" || len(parent) > len(path) {
		return false
	}

	prefix := path[:len(parent)]
	if ignoreCase {
		if !strings.EqualFold(prefix, parent) {
			return false
		}
	} else if prefix != parent {
		return false
	}

	if len(parent) == len(path) {
		return true
	}
	if parent[len(parent)-1] == filepath.Separator {
		return true
	}
	return path[len(parent)] == filepath.Separator
}

// IsParent reports whether path lies strictly beneath parent.
func IsParent(path, parent string, ignoreCase bool) bool {
	path, parent = trimSeparator(path), trimSeparator(parent)
	if len(path) <= len(parent) {
		return false
	}
	return IsEqualOrParent(path, parent, ignoreCase)
}

// trimSeparator drops trailing separators but keeps a bare root intact.
func trimSeparator(path string) string {
	trimmed := strings.TrimRight(path, string(filepath.Separator))
	if trimmed == "" {
		return path
	}
	return trimmed
}
