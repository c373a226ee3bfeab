package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileSystem extends afero.Fs with the probes needed to resolve watch roots.
type FileSystem interface {
	afero.Fs
	afero.Lstater

	// Realpath resolves symbolic links and returns an absolute path.
	Realpath(path string) (string, error)

	// RealCasePath returns path with the casing stored on disk.
	// On case-sensitive filesystems the path is returned unchanged.
	RealCasePath(path string) (string, error)
}

// NewReal creates a FileSystem backed by the operating system.
func NewReal() FileSystem {
	return &RealFileSystem{
		Fs: afero.NewOsFs(),
	}
}

// NewMemTest returns a MemFileSystem for testing with access to Must* helpers.
func NewMemTest() *MemFileSystem {
	return &MemFileSystem{Fs: afero.NewMemMapFs()}
}

// IsSymlink reports whether path itself is a symbolic link.
func IsSymlink(fsys FileSystem, path string) (bool, error) {
	info, _, err := fsys.LstatIfPossible(path)
	if err != nil {
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// lstat falls back to Stat when the underlying Fs cannot lstat.
func lstat(fsys afero.Fs, name string) (os.FileInfo, bool, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		return l.LstatIfPossible(name)
	}
	info, err := fsys.Stat(name)
	return info, false, err
}

// realCase rebuilds path one element at a time from directory listings,
// preferring an exact match over a case-insensitive one.
func realCase(fsys afero.Fs, path string) (string, error) {
	path = filepath.Clean(path)
	vol := filepath.VolumeName(path)
	sep := string(filepath.Separator)
	rest := strings.Trim(path[len(vol):], sep)
	if rest == "" {
		return path, nil
	}

	current := vol + sep
	for _, part := range strings.Split(rest, sep) {
		entries, err := afero.ReadDir(fsys, current)
		if err != nil {
			return "", err
		}

		name := ""
		for _, e := range entries {
			if e.Name() == part {
				name = part
				break
			}
		}
		if name == "" {
			for _, e := range entries {
				if strings.EqualFold(e.Name(), part) {
					name = e.Name()
					break
				}
			}
		}
		if name == "" {
			return "", &os.PathError{Op: "realcase", Path: path, Err: os.ErrNotExist}
		}
		current = filepath.Join(current, name)
	}
	return current, nil
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
