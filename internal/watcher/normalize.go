package watcher

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/prettymuchbryce/treewatch/internal/fs"
	"github.com/prettymuchbryce/treewatch/internal/pathindex"
)

// probeConcurrency bounds the stat calls issued for one Normalize call.
const probeConcurrency = 16

// RejectReason says why a request was dropped by the normalizer.
type RejectReason int

const (
	RejectExcludesAll RejectReason = iota
	RejectDuplicate
	RejectCovered
	RejectStatFailed
	RejectNotDirectory
)

func (r RejectReason) String() string {
	switch r {
	case RejectExcludesAll:
		return "everything excluded"
	case RejectDuplicate:
		return "duplicate"
	case RejectCovered:
		return "covered by ancestor"
	case RejectStatFailed:
		return "cannot stat"
	case RejectNotDirectory:
		return "not a directory"
	}
	return "unknown"
}

// Rejection is a request the normalizer dropped.
type Rejection struct {
	Request WatchRequest
	Reason  RejectReason
	// Ancestor is the request path that covers this one, if any.
	Ancestor string
	Err      error
}

// Unwatched reports whether the rejected request ends up without any watch
// covering it. Duplicates and covered paths are still watched.
func (r Rejection) Unwatched() bool {
	switch r.Reason {
	case RejectStatFailed, RejectNotDirectory:
		return true
	case RejectCovered:
		return r.Err != nil
	}
	return false
}

// Normalizer reduces a desired request set to the requests that need their
// own subscription.
type Normalizer struct {
	fs         fs.FileSystem
	ignoreCase bool
}

// NewNormalizer creates a Normalizer probing filesystem.
func NewNormalizer(filesystem fs.FileSystem, ignoreCase bool) *Normalizer {
	return &Normalizer{fs: filesystem, ignoreCase: ignoreCase}
}

type probe struct {
	symlink  bool
	lstatErr error
	isDir    bool
	statErr  error
}

// Normalize returns the surviving requests and the rejected ones. Individual
// failures never fail the batch; the error is only set when ctx ends.
func (n *Normalizer) Normalize(ctx context.Context, requests []WatchRequest) ([]WatchRequest, []Rejection, error) {
	var rejected []Rejection

	// Partition by correlation id, keeping first-seen partition order.
	var order []string
	partitions := make(map[string][]WatchRequest)
	for _, req := range requests {
		if excludesAll(req.Excludes) {
			rejected = append(rejected, Rejection{Request: req, Reason: RejectExcludesAll})
			continue
		}
		key := partitionKey(req)
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], req)
	}

	var out []WatchRequest
	for _, key := range order {
		part := partitions[key]
		slices.SortStableFunc(part, func(a, b WatchRequest) int {
			return len(a.Path) - len(b.Path)
		})

		// Exact duplicates first.
		seen := make(map[string]bool, len(part))
		var candidates []WatchRequest
		for _, req := range part {
			folded := n.fold(req.Path)
			if seen[folded] {
				slog.Debug("dropping duplicate watch request", "path", req.Path)
				rejected = append(rejected, Rejection{Request: req, Reason: RejectDuplicate, Ancestor: req.Path})
				continue
			}
			seen[folded] = true
			candidates = append(candidates, req)
		}

		probes, err := n.probeAll(ctx, candidates)
		if err != nil {
			return nil, nil, err
		}

		// Decisions are applied in path-length order so ancestors are
		// indexed before their descendants.
		index := pathindex.New[WatchRequest](n.ignoreCase)
		for i, req := range candidates {
			p := probes[i]

			if ancestor, _, ok := index.FindAncestor(req.Path); ok {
				switch {
				case p.lstatErr != nil:
					rejected = append(rejected, Rejection{Request: req, Reason: RejectCovered, Ancestor: ancestor, Err: p.lstatErr})
					continue
				case !p.symlink:
					slog.Debug("watch request covered by ancestor", "path", req.Path, "ancestor", ancestor)
					rejected = append(rejected, Rejection{Request: req, Reason: RejectCovered, Ancestor: ancestor})
					continue
				}
				// Native watches do not follow links, so a linked
				// child needs its own subscription.
			}

			if p.statErr != nil {
				rejected = append(rejected, Rejection{Request: req, Reason: RejectStatFailed, Err: p.statErr})
				continue
			}
			if !p.isDir {
				rejected = append(rejected, Rejection{Request: req, Reason: RejectNotDirectory, Err: withPath(ErrNotDirectory, nil, req.Path)})
				continue
			}

			index.Insert(req.Path, req)
		}

		for _, req := range index.All() {
			out = append(out, req)
		}
	}

	return out, rejected, nil
}

func (n *Normalizer) probeAll(ctx context.Context, requests []WatchRequest) ([]probe, error) {
	probes := make([]probe, len(requests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	for i, req := range requests {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := &probes[i]
			p.symlink, p.lstatErr = fs.IsSymlink(n.fs, req.Path)

			var info os.FileInfo
			info, p.statErr = n.fs.Stat(req.Path)
			if p.statErr == nil {
				p.isDir = info.IsDir()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return probes, nil
}

func (n *Normalizer) fold(path string) string {
	if n.ignoreCase {
		return strings.ToLower(path)
	}
	return path
}

func partitionKey(req WatchRequest) string {
	if req.CorrelationID == nil {
		return "-"
	}
	return "cid:" + strconv.FormatInt(*req.CorrelationID, 10)
}

// excludesAll reports whether excludes contain a bare "**", which excludes
// every path.
func excludesAll(excludes []string) bool {
	for _, e := range excludes {
		if strings.TrimSpace(e) == "**" {
			return true
		}
	}
	return false
}
