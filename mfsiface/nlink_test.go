package mfsiface

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scalefs/defs"
	"scalefs/mnode"
)

// TestSubdirectoryNlinkTracksChildDirectories exercises the ".."
// accounting spec.md §8 requires: a directory's link count is one (its
// own name in its parent) plus one per direct child subdirectory, and
// moving a child subdirectory to a new parent transfers that claim.
func TestSubdirectoryNlinkTracksChildDirectories(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()
	require.Equal(t, int64(1), root.Node.Link.Load())

	dir1, err := i.CreateDir(0, root.Node.Inum, "dir1")
	require.NoError(t, err)
	defer dir1.Release()
	dir2, err := i.CreateDir(0, root.Node.Inum, "dir2")
	require.NoError(t, err)
	defer dir2.Release()

	// root: itself, plus dir1 and dir2's ".." claims.
	require.Equal(t, int64(3), root.Node.Link.Load())
	require.Equal(t, int64(1), dir1.Node.Link.Load())
	require.Equal(t, int64(1), dir2.Node.Link.Load())

	child, err := i.CreateDir(0, dir1.Node.Inum, "child")
	require.NoError(t, err)
	defer child.Release()

	// dir1: itself, plus child's ".." claim.
	require.Equal(t, int64(2), dir1.Node.Link.Load())
	require.Equal(t, int64(1), child.Node.Link.Load())

	require.NoError(t, i.Rename(0, dir1.Node.Inum, "child", dir2.Node.Inum, "child"))

	require.Equal(t, int64(1), dir1.Node.Link.Load())
	require.Equal(t, int64(2), dir2.Node.Link.Load())

	lr, e := child.Node.Dir.Lookup(mnode.NewName(".."))
	require.Equal(t, defs.EOK, e)
	require.Equal(t, dir2.Node.Inum, lr.Node.Inum)
	lr.Release()
}

// TestEmptyDirectoryDeleteGivesBackParentNlink confirms Kill's
// counterpart to ApplyCreate's increment: removing a now-empty
// subdirectory gives its parent back the nlink unit that creation
// claimed.
func TestEmptyDirectoryDeleteGivesBackParentNlink(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	dir, err := i.CreateDir(0, root.Node.Inum, "sub")
	require.NoError(t, err)
	defer dir.Release()
	require.Equal(t, int64(2), root.Node.Link.Load())

	require.NoError(t, i.Unlink(0, root.Node.Inum, "sub"))
	require.Equal(t, int64(1), root.Node.Link.Load())
}

// TestNonEmptyDirectoryKeepsParentClaimAfterUnlink confirms a
// directory that still has a live child subdirectory never actually
// reaches zero nlink when its own name is removed from its parent — it
// is left unreachable from the root, but its mnode survives, matching
// the nlink invariant that kept Kill's emptiness check from ever
// firing in the first place.
func TestNonEmptyDirectoryKeepsParentClaimAfterUnlink(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	dir, err := i.CreateDir(0, root.Node.Inum, "sub")
	require.NoError(t, err)
	defer dir.Release()

	_, err = i.CreateDir(0, dir.Node.Inum, "child")
	require.NoError(t, err)

	require.NoError(t, i.Unlink(0, root.Node.Inum, "sub"))
	require.Equal(t, int64(1), dir.Node.Link.Load())
	_, stillInterned := i.fs.Get(dir.Node.Inum)
	require.True(t, stillInterned)
}
