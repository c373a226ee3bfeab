package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// maxLinkHops bounds symlink resolution, like ELOOP.
const maxLinkHops = 40

// MemFileSystem is an in-memory filesystem for testing. MemMapFs has no
// symbolic links, so they are simulated with a link table consulted by
// Stat, LstatIfPossible and Realpath.
type MemFileSystem struct {
	afero.Fs

	mu    sync.RWMutex
	links map[string]string
}

// Stat follows simulated symbolic links.
func (m *MemFileSystem) Stat(name string) (os.FileInfo, error) {
	resolved, err := m.resolve(name)
	if err != nil {
		return nil, err
	}
	return m.Fs.Stat(resolved)
}

// LstatIfPossible reports simulated links as symlinks without following them.
func (m *MemFileSystem) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	clean := filepath.Clean(name)
	m.mu.RLock()
	target, ok := m.links[clean]
	m.mu.RUnlock()
	if ok {
		return linkInfo{name: filepath.Base(clean), target: target}, true, nil
	}

	parent, err := m.resolve(filepath.Dir(clean))
	if err != nil {
		return nil, true, err
	}
	info, _, err := lstat(m.Fs, filepath.Join(parent, filepath.Base(clean)))
	return info, true, err
}

// Realpath resolves simulated links in every element of path.
func (m *MemFileSystem) Realpath(path string) (string, error) {
	resolved, err := m.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := m.Fs.Stat(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// RealCasePath returns the casing stored in the in-memory tree.
func (m *MemFileSystem) RealCasePath(path string) (string, error) {
	return realCase(m.Fs, path)
}

func (m *MemFileSystem) resolve(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := filepath.Clean(name)
	if len(m.links) == 0 {
		return current, nil
	}

	// Longest links first so nested links resolve innermost-last.
	links := make([]string, 0, len(m.links))
	for l := range m.links {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return len(links[i]) > len(links[j]) })

	for hop := 0; hop < maxLinkHops; hop++ {
		rewritten := false
		for _, link := range links {
			if pathutil.IsEqualOrParent(current, link, false) {
				current = filepath.Join(m.links[link], current[len(link):])
				rewritten = true
				break
			}
		}
		if !rewritten {
			return current, nil
		}
	}
	return "", &os.PathError{Op: "resolve", Path: name, Err: fmt.Errorf("too many levels of symbolic links")}
}

// MustSymlink records link as a symbolic link to target and panics on
// error. For use in tests.
func (m *MemFileSystem) MustSymlink(target, link string) {
	link = filepath.Clean(link)
	if _, err := m.Fs.Stat(link); err == nil {
		panic(fmt.Sprintf("MustSymlink(%q, %q): link path exists", target, link))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[link] = filepath.Clean(target)
}

// MustMkdirAll creates a directory and panics on error. For use in tests.
func (m *MemFileSystem) MustMkdirAll(path string) {
	if err := m.Fs.MkdirAll(path, 0755); err != nil {
		panic(fmt.Sprintf("MustMkdirAll(%q): %v", path, err))
	}
}

// MustWriteFile creates a file with content and panics on error. For use in tests.
func (m *MemFileSystem) MustWriteFile(path, content string) {
	if err := afero.WriteFile(m.Fs, path, []byte(content), 0644); err != nil {
		panic(fmt.Sprintf("MustWriteFile(%q): %v", path, err))
	}
}

// MustRemoveAll removes a path and panics on error. For use in tests.
func (m *MemFileSystem) MustRemoveAll(path string) {
	if err := m.Fs.RemoveAll(path); err != nil {
		panic(fmt.Sprintf("MustRemoveAll(%q): %v", path, err))
	}
}

type linkInfo struct {
	name   string
	target string
}

func (l linkInfo) Name() string       { return l.name }
func (l linkInfo) Size() int64        { return int64(len(l.target)) }
func (l linkInfo) Mode() os.FileMode  { return os.ModeSymlink | 0777 }
func (l linkInfo) ModTime() time.Time { return time.Time{} }
func (l linkInfo) IsDir() bool        { return false }
func (l linkInfo) Sys() any           { return nil }
