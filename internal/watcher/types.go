package watcher

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/prettymuchbryce/treewatch/internal/glob"
)

// EventKind is the kind of a filesystem change.
type EventKind int

const (
	Updated EventKind = iota
	Added
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	default:
		return "updated"
	}
}

// MarshalText renders the kind as its lower-case name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a lower-case kind name.
func (k *EventKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "updated", "changed":
		*k = Updated
	case "added", "created":
		*k = Added
	case "deleted", "removed":
		*k = Deleted
	default:
		return fmt.Errorf("unknown event kind %q", text)
	}
	return nil
}

// EventKindMask selects event kinds. The zero mask selects everything.
type EventKindMask uint8

const (
	MaskUpdated EventKindMask = 1 << (iota + 1)
	MaskAdded
	MaskDeleted
)

// MaskOf returns the mask bit for kind.
func MaskOf(kind EventKind) EventKindMask {
	switch kind {
	case Added:
		return MaskAdded
	case Deleted:
		return MaskDeleted
	default:
		return MaskUpdated
	}
}

// Allows reports whether kind passes the mask.
func (m EventKindMask) Allows(kind EventKind) bool {
	return m == 0 || m&MaskOf(kind) != 0
}

// UnmarshalYAML accepts a list of kind names, e.g. [added, deleted].
func (m *EventKindMask) UnmarshalYAML(value *yaml.Node) error {
	var names []EventKind
	if value.Kind == yaml.ScalarNode {
		var single EventKind
		if err := value.Decode(&single); err != nil {
			return err
		}
		names = append(names, single)
	} else if err := value.Decode(&names); err != nil {
		return err
	}

	*m = 0
	for _, k := range names {
		*m |= MaskOf(k)
	}
	return nil
}

// RawEvent is an event as reported by a backend, before normalization.
type RawEvent struct {
	Path string
	Kind EventKind
}

// FileChangeEvent is delivered to consumers after the pipeline.
type FileChangeEvent struct {
	Kind          EventKind `json:"kind"`
	Path          string    `json:"path"`
	CorrelationID *int64    `json:"correlation_id,omitempty"`
}

// WatchRequest asks for path to be watched recursively.
type WatchRequest struct {
	Path     string
	Excludes []string
	// Includes limits events to matching paths. Empty means everything.
	Includes []glob.RelativePattern
	// ExcludeExpression excludes paths, optionally depending on siblings.
	ExcludeExpression glob.Expression
	// PollingInterval selects polling instead of a native subscription.
	PollingInterval time.Duration
	CorrelationID   *int64
	// Filter is only honored for correlated requests.
	Filter EventKindMask
}

// Correlated reports whether the request carries a correlation id.
func (r WatchRequest) Correlated() bool {
	return r.CorrelationID != nil
}

// Key identifies the instance serving the request.
func (r WatchRequest) Key(ignoreCase bool) string {
	path := r.Path
	if ignoreCase {
		path = strings.ToLower(path)
	}
	if r.CorrelationID != nil {
		return fmt.Sprintf("cid:%d:%s", *r.CorrelationID, path)
	}
	return path
}

// Fingerprint hashes the fields that decide whether a running instance can
// keep serving the request.
func (r WatchRequest) Fingerprint() uint64 {
	h := xxhash.New()
	write := func(s string) {
		h.WriteString(s)
		h.Write([]byte{0})
	}

	write(r.Path)
	for _, e := range r.Excludes {
		write(e)
	}
	write("\x01includes")
	for _, inc := range r.Includes {
		write(inc.Base)
		write(inc.Pattern)
	}
	write("\x01expression")
	keys := make([]string, 0, len(r.ExcludeExpression))
	for k := range r.ExcludeExpression {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		c := r.ExcludeExpression[k]
		write(fmt.Sprintf("%s=%t:%s", k, c.Enabled, c.When))
	}

	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(r.PollingInterval))
	buf[8] = byte(r.Filter)
	h.Write(buf[:])
	return h.Sum64()
}

// Equal reports whether both requests can be served by the same instance.
func (r WatchRequest) Equal(other WatchRequest) bool {
	if (r.CorrelationID == nil) != (other.CorrelationID == nil) {
		return false
	}
	if r.CorrelationID != nil && *r.CorrelationID != *other.CorrelationID {
		return false
	}
	return r.Fingerprint() == other.Fingerprint()
}

func (r WatchRequest) String() string {
	if r.CorrelationID != nil {
		return fmt.Sprintf("%s (correlation %d)", r.Path, *r.CorrelationID)
	}
	return r.Path
}

// InstanceState is the lifecycle state of an instance.
type InstanceState int

const (
	StateStarting InstanceState = iota
	StateActive
	StateRestarting
	StateFailed
	StateStopped
)

func (s InstanceState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal reports whether the instance will never deliver events again.
func (s InstanceState) Terminal() bool {
	return s == StateFailed || s == StateStopped
}
