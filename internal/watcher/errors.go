package watcher

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"go.trai.ch/zerr"
)

var (
	// ErrResourceExhausted means the OS ran out of watch descriptors.
	ErrResourceExhausted = zerr.New("watch resources exhausted")
	// ErrRescanRequired means the backend dropped events and rescans itself.
	ErrRescanRequired = zerr.New("event queue overflowed")
	ErrRootDeleted    = zerr.New("watched root was deleted")
	ErrNotDirectory   = zerr.New("not a directory")
	ErrRestarting     = zerr.New("watcher is restarting")
	ErrNotWatched     = zerr.New("path is not watched")
	ErrStopped        = zerr.New("watcher is stopped")
)

// withPath tags sentinel with the path it concerns. When cause is set it
// stays reachable through errors.Is.
func withPath(sentinel, cause error, path string) error {
	var err error
	if cause != nil {
		err = zerr.Wrap(fmt.Errorf("%w: %w", sentinel, cause), "")
	} else {
		err = zerr.Wrap(sentinel, "")
	}
	return zerr.With(err, "path", path)
}

// classifyBackendError maps native errors onto the sentinels the
// coordinator acts on. Anything unrecognized is returned as is.
func classifyBackendError(err error, root string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, ErrRescanRequired):
		return err
	case errors.Is(err, fsnotify.ErrEventOverflow):
		return withPath(ErrRescanRequired, err, root)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EMFILE):
		return withPath(ErrResourceExhausted, err, root)
	}
	return zerr.With(err, "path", root)
}
