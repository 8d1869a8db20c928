package oplog

import (
	"sort"

	"scalefs/defs"
)

// DepSet is the working set of inumbers a fsync's dependency closure
// walk has determined matter so far.
type DepSet map[defs.Inum]bool

// NewDepSet seeds a DepSet with the given inumbers.
func NewDepSet(seed ...defs.Inum) DepSet {
	d := make(DepSet, len(seed))
	for _, s := range seed {
		d[s] = true
	}
	return d
}

// Add inserts i, reporting whether it was not already present.
func (d DepSet) Add(i defs.Inum) bool {
	if d[i] {
		return false
	}
	d[i] = true
	return true
}

// Has reports whether i is in the set.
func (d DepSet) Has(i defs.Inum) bool { return d[i] }

// FindDependentOps computes the fixed point of mfs_operation's
// check_dependency/check_parent_dependency walk: starting from seed
// (typically the single inode an fsync(2) named), it repeatedly scans
// ops for any operation touching an inumber already in the dependency
// set, pulling in every other inumber that operation touches, until a
// pass adds nothing new. It returns every op that touches the final
// set, in timestamp order — the complete, minimal set of logical
// operations that must be durable before the fsync can return.
func FindDependentOps(ops []LogicalOp, seed []defs.Inum) []LogicalOp {
	deps := NewDepSet(seed...)

	for changed := true; changed; {
		changed = false
		for _, op := range ops {
			touches := false
			for _, n := range op.Nodes() {
				if deps.Has(n) {
					touches = true
					break
				}
			}
			if !touches {
				continue
			}
			for _, n := range op.Nodes() {
				if deps.Add(n) {
					changed = true
				}
			}
		}
	}

	var result []LogicalOp
	for _, op := range ops {
		for _, n := range op.Nodes() {
			if deps.Has(n) {
				result = append(result, op)
				break
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp() < result[j].Timestamp()
	})
	return result
}
