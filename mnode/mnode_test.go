package mnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scalefs/defs"
)

func TestAllocProducesDistinctInumbers(t *testing.T) {
	fs := NewFS(2)
	a := fs.Alloc(0, defs.TypeFile)
	b := fs.Alloc(0, defs.TypeFile)
	require.NotEqual(t, a.Inum, b.Inum)
	require.Equal(t, defs.TypeFile, a.Inum.Type())
}

func TestDirInsertLookupRemove(t *testing.T) {
	fs := NewFS(1)
	root := fs.InitRoot(0)
	defer root.Release()

	file := fs.Alloc(0, defs.TypeFile)
	lr := Transfer(file)

	name := NewName("hello.txt")
	require.Equal(t, defs.EOK, root.Node.Dir.Insert(name, file.Inum))
	require.Equal(t, defs.EEXIST, root.Node.Dir.Insert(name, file.Inum))

	got, err := root.Node.Dir.Lookup(name)
	require.Equal(t, defs.EOK, err)
	require.Equal(t, file.Inum, got.Node.Inum)
	got.Release()

	require.Equal(t, defs.EOK, root.Node.Dir.Remove(name, file.Inum))
	_, err = root.Node.Dir.Lookup(name)
	require.Equal(t, defs.ENOTFOUND, err)

	lr.Release()
}

func TestDirDotAndDotDot(t *testing.T) {
	fs := NewFS(1)
	root := fs.InitRoot(0)
	defer root.Release()

	dot, err := root.Node.Dir.Lookup(NewName("."))
	require.Equal(t, defs.EOK, err)
	require.Equal(t, root.Node.Inum, dot.Node.Inum)
	dot.Release()

	dotdot, err := root.Node.Dir.Lookup(NewName(".."))
	require.Equal(t, defs.EOK, err)
	require.Equal(t, root.Node.Inum, dotdot.Node.Inum)
	dotdot.Release()
}

func TestDirKillRequiresEmpty(t *testing.T) {
	fs := NewFS(1)
	root := fs.InitRoot(0)
	defer root.Release()

	sub := fs.Alloc(0, defs.TypeDir)
	lr := Transfer(sub)
	require.Equal(t, defs.EOK, root.Node.Dir.Insert(NewName("sub"), sub.Inum))

	require.Equal(t, defs.EOK, sub.Dir.Kill())
	require.True(t, sub.Dir.Killed())

	require.Equal(t, defs.ENOTFOUND, sub.Dir.Insert(NewName("x"), sub.Inum))
	lr.Release()
}

func TestDirKillFailsWhenNotEmpty(t *testing.T) {
	fs := NewFS(1)
	root := fs.InitRoot(0)
	defer root.Release()

	f := fs.Alloc(0, defs.TypeFile)
	lr := Transfer(f)
	require.Equal(t, defs.EOK, root.Node.Dir.Insert(NewName("a"), f.Inum))
	require.Equal(t, defs.ENOTEMPTY, root.Node.Dir.Kill())
	lr.Release()
}

func TestReplaceCommonInodeMovesNameAtomically(t *testing.T) {
	fs := NewFS(1)
	root := fs.InitRoot(0)
	defer root.Release()

	f := fs.Alloc(0, defs.TypeFile)
	lr := Transfer(f)
	defer lr.Release()

	require.Equal(t, defs.EOK, root.Node.Dir.Insert(NewName("old"), f.Inum))
	require.Equal(t, defs.EOK, root.Node.Dir.ReplaceCommonInode(NewName("old"), NewName("new")))

	require.False(t, root.Node.Dir.Exists(NewName("old")))
	got, err := root.Node.Dir.Lookup(NewName("new"))
	require.Equal(t, defs.EOK, err)
	require.Equal(t, f.Inum, got.Node.Inum)
	got.Release()
}

func TestLinkCountUnderflowClampsAtZero(t *testing.T) {
	var lc LinkCount
	v, underflow := lc.Dec()
	require.Equal(t, int64(0), v)
	require.True(t, underflow)

	lc.Inc()
	v, underflow = lc.Dec()
	require.Equal(t, int64(0), v)
	require.False(t, underflow)
}

func TestRefcacheWeakResurrectionWindow(t *testing.T) {
	fs := NewFS(1)
	m := fs.Alloc(0, defs.TypeFile)
	m.Unref() // strong count -> 0, epochDead set to current epoch (0)

	require.True(t, m.TryRef()) // epoch hasn't advanced yet
	m.Unref()

	fs.runReclaim() // epoch -> 1, cur - dead(0) == 1 < 2: not yet swept
	_, ok := fs.Get(m.Inum)
	require.True(t, ok)

	fs.runReclaim() // epoch -> 2, cur - dead(0) == 2: swept
	_, ok = fs.Get(m.Inum)
	require.False(t, ok)
}

func TestFileResizerSeqlockSizeRoundTrip(t *testing.T) {
	fs := NewFS(1)
	m := fs.Alloc(0, defs.TypeFile)

	r := m.File.Resize()
	require.Equal(t, defs.EOK, r.Append(4096))
	r.Release()
	require.Equal(t, uint64(4096), m.File.Size())

	r = m.File.Resize()
	require.Equal(t, defs.EINVAL, r.Append(100))
	require.Equal(t, defs.EOK, r.Truncate(100))
	r.Release()
	require.Equal(t, uint64(100), m.File.Size())
}

func TestStartReclaimerAdvancesEpochOverTime(t *testing.T) {
	fs := NewFS(1)
	fs.StartReclaimer(5 * time.Millisecond)
	defer fs.Stop()

	m := fs.Alloc(0, defs.TypeFile)
	m.Unref()

	require.Eventually(t, func() bool {
		_, ok := fs.Get(m.Inum)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
