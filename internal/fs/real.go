package fs

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// RealFileSystem performs actual filesystem operations.
type RealFileSystem struct {
	afero.Fs
}

// LstatIfPossible stats name without following a final symbolic link.
func (r *RealFileSystem) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	return lstat(r.Fs, name)
}

// Realpath resolves every symbolic link in path.
func (r *RealFileSystem) Realpath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

// RealCasePath returns the on-disk casing of path. Case-sensitive platforms
// return path as is.
func (r *RealFileSystem) RealCasePath(path string) (string, error) {
	if !pathutil.CaseInsensitive {
		return path, nil
	}
	return realCase(r.Fs, path)
}
