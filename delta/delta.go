// Package delta computes the set of changes between two observations of a
// remote directory tree. It is shared between storage drivers: each driver
// supplies a Lister and delta compares the listing against the previous
// snapshot.
package delta

import (
	"context"
	"sort"

	"github.com/cloudsyncd/pcloudfs"
)

// ChangeType classifies a single change.
type ChangeType int

const (
	Created ChangeType = iota
	Modified
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Change is one observed difference.
type Change struct {
	Type ChangeType
	Item pcloudfs.FileStat
}

// Lister returns the current entries under path.
type Lister func(ctx context.Context, path string) ([]pcloudfs.FileStat, error)

// Result carries the computed changes plus the snapshot to feed into the
// next computation.
type Result struct {
	Changes  []Change
	Snapshot map[string]pcloudfs.FileStat
}

// Compute lists path once and diffs the listing against the since snapshot
// keyed by entry path. An entry is Modified when its Updated timestamp
// differs. Entries present in since but absent from the listing are reported
// Deleted with the Deleted flag set. Changes are ordered by path.
func Compute(ctx context.Context, path string, since map[string]pcloudfs.FileStat, list Lister) (*Result, error) {
	items, err := list(ctx, path)
	if err != nil {
		return nil, err
	}

	res := &Result{Snapshot: make(map[string]pcloudfs.FileStat, len(items))}
	for _, item := range items {
		res.Snapshot[item.Path] = item
		prev, seen := since[item.Path]
		switch {
		case !seen:
			res.Changes = append(res.Changes, Change{Type: Created, Item: item})
		case prev.Updated != item.Updated:
			res.Changes = append(res.Changes, Change{Type: Modified, Item: item})
		}
	}
	for p, prev := range since {
		if _, still := res.Snapshot[p]; still {
			continue
		}
		prev.Deleted = true
		res.Changes = append(res.Changes, Change{Type: Deleted, Item: prev})
	}

	sort.Slice(res.Changes, func(i, j int) bool {
		return res.Changes[i].Item.Path < res.Changes[j].Item.Path
	})
	return res, nil
}
