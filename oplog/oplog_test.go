package oplog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scalefs/defs"
)

func mkInum(n uint64) defs.Inum { return defs.MkInum(defs.TypeFile, 0, n) }

func TestLogDrainAllOrdersByTimestampAcrossShards(t *testing.T) {
	log := NewLog(2)
	log.Add(0, &CreateOp{TS: 3, Parent: mkInum(1), Name: "c", Inum: mkInum(4)})
	log.Add(1, &CreateOp{TS: 1, Parent: mkInum(1), Name: "a", Inum: mkInum(2)})
	log.Add(0, &CreateOp{TS: 2, Parent: mkInum(1), Name: "b", Inum: mkInum(3)})

	all := log.DrainAll()
	require.Len(t, all, 3)
	require.Equal(t, uint64(1), all[0].Timestamp())
	require.Equal(t, uint64(2), all[1].Timestamp())
	require.Equal(t, uint64(3), all[2].Timestamp())

	require.Empty(t, log.DrainAll())
}

func TestFindDependentOpsWalksFixedPoint(t *testing.T) {
	root := mkInum(1)
	a := mkInum(2)
	b := mkInum(3)

	ops := []LogicalOp{
		&CreateOp{TS: 1, Parent: root, Name: "a", Inum: a, Kind: defs.TypeFile},
		&RenameOp{TS: 2, SrcParent: root, DstParent: root, SrcName: "a", DstName: "b", Inum: a},
		&LinkOp{TS: 3, Parent: root, Name: "c", Inum: b},
	}

	deps := FindDependentOps(ops, []defs.Inum{a})
	require.Len(t, deps, 3) // create + rename touch `a`; the create pulls `root` in, and with it the link on `b` under `root`
	require.Equal(t, uint64(1), deps[0].Timestamp())
	require.Equal(t, uint64(2), deps[1].Timestamp())
	require.Equal(t, uint64(3), deps[2].Timestamp())
}

func TestFindDependentOpsPullsInParentDirectory(t *testing.T) {
	root := mkInum(1)
	a := mkInum(2)

	ops := []LogicalOp{
		&CreateOp{TS: 1, Parent: root, Name: "a", Inum: a},
	}
	deps := FindDependentOps(ops, []defs.Inum{a})
	require.Len(t, deps, 1)

	deps2 := FindDependentOps(ops, []defs.Inum{root})
	require.Len(t, deps2, 1)
}

func TestPruneAbsorbsCreateThenDelete(t *testing.T) {
	f := mkInum(2)
	root := mkInum(1)
	ops := []LogicalOp{
		&CreateOp{TS: 1, Parent: root, Name: "tmp", Inum: f},
		&DeleteOp{TS: 2, Inum: f},
	}
	pruned := Prune(ops)
	require.Empty(t, pruned)
}

func TestPruneAbsorbsLinkThenUnlink(t *testing.T) {
	f := mkInum(2)
	root := mkInum(1)
	ops := []LogicalOp{
		&LinkOp{TS: 1, Parent: root, Name: "x", Inum: f},
		&UnlinkOp{TS: 2, Parent: root, Name: "x", Inum: f},
	}
	pruned := Prune(ops)
	require.Empty(t, pruned)
}

func TestPruneKeepsUnrelatedOps(t *testing.T) {
	f := mkInum(2)
	g := mkInum(3)
	root := mkInum(1)
	ops := []LogicalOp{
		&CreateOp{TS: 1, Parent: root, Name: "keep", Inum: f},
		&CreateOp{TS: 2, Parent: root, Name: "tmp", Inum: g},
		&DeleteOp{TS: 3, Inum: g},
	}
	pruned := Prune(ops)
	require.Len(t, pruned, 1)
	require.Equal(t, f, pruned[0].(*CreateOp).Inum)
}
