package oplog

import "scalefs/defs"

type linkKey struct {
	parent defs.Inum
	name   string
	inum   defs.Inum
}

// Prune absorbs cancelling operation pairs out of ops before they are
// folded into a physical Transaction: when an inode's create is
// followed later in ops by its delete, both are dropped, and likewise
// a link followed by an unlink of the same (parent, name, inode). Ops
// that fall between the two halves of a pair are not examined and are
// kept. Grounded on mfs_interface's pruning of its operation index
// (create_idx/link_idx/unlink_idx/rename_idx/delete_idx) before
// add_operation folds the survivors into a transaction. Ops not
// involved in a cancelling pair are returned unchanged, in their
// original order.
func Prune(ops []LogicalOp) []LogicalOp {
	createIdx := make(map[defs.Inum]int)
	deleteIdx := make(map[defs.Inum]int)
	linkIdx := make(map[linkKey]int)
	unlinkIdx := make(map[linkKey]int)

	for i, op := range ops {
		switch o := op.(type) {
		case *CreateOp:
			createIdx[o.Inum] = i
		case *DeleteOp:
			deleteIdx[o.Inum] = i
		case *LinkOp:
			linkIdx[linkKey{o.Parent, o.Name, o.Inum}] = i
		case *UnlinkOp:
			unlinkIdx[linkKey{o.Parent, o.Name, o.Inum}] = i
		}
	}

	drop := make(map[int]bool)
	for inum, ci := range createIdx {
		if di, ok := deleteIdx[inum]; ok && di > ci {
			drop[ci] = true
			drop[di] = true
		}
	}
	for k, li := range linkIdx {
		if ui, ok := unlinkIdx[k]; ok && ui > li {
			drop[li] = true
			drop[ui] = true
		}
	}

	result := make([]LogicalOp, 0, len(ops))
	for i, op := range ops {
		if !drop[i] {
			result = append(result, op)
		}
	}
	return result
}
