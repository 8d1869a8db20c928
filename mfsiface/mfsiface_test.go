package mfsiface

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"scalefs/bitmap"
	"scalefs/blockdev"
	"scalefs/defs"
	"scalefs/diskinode"
	"scalefs/journal"
	"scalefs/metrics"
	"scalefs/mnode"
	"scalefs/oplog"
)

// testMount builds a small, self-contained Interface: one inode
// block, a journalBlocks-block physical journal right after it, and a
// free-bit vector covering whatever is left. The journal's Applier
// writes straight back through the same Store, so a committed
// transaction's inode writes are visible to a later ReadBlock the way
// they would be against a real block device.
func testMount(t *testing.T, journalBlocks uint32) *Interface {
	t.Helper()
	const inodeRegionBlocks = 1
	const freeRegionBlocks = 32
	total := inodeRegionBlocks + int(journalBlocks) + freeRegionBlocks

	disk := blockdev.NewMemDisk(total)
	store := blockdev.New(disk)
	vec := bitmap.NewVector(uint32(inodeRegionBlocks)+journalBlocks, freeRegionBlocks)

	applier := journal.ApplierFunc(func(bno uint32, data []byte) error {
		return store.WriteBlock(bno, data)
	})
	jrn := journal.New(store, vec, applier, inodeRegionBlocks, journalBlocks)

	fs := mnode.NewFS(1)
	log := oplog.NewLog(1)
	locator := FlatLocator{FirstBlock: 0, PerBlock: uint32(diskinode.PerBlock)}
	m := metrics.New("test")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	iface := New(fs, log, jrn, vec, store, locator, m, logger)
	iface.Mount(0)
	return iface
}

func readInode(t *testing.T, i *Interface, inum defs.Inum) *diskinode.Inode {
	t.Helper()
	block, slot := i.locator.Locate(inum)
	buf, err := i.store.ReadBlock(block)
	require.NoError(t, err)
	slots, err := diskinode.DecodeBlock(buf)
	require.NoError(t, err)
	return slots[slot]
}

func TestCreateUnlinkRoundTrip(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	file, err := i.CreateFile(0, root.Node.Inum, "hello.txt")
	require.NoError(t, err)
	defer file.Release()

	require.Equal(t, int64(1), file.Node.Link.Load())
	require.True(t, root.Node.Dir.Exists(mnode.NewName("hello.txt")))

	require.NoError(t, i.Fsync(file.Node.Inum))
	ondisk := readInode(t, i, file.Node.Inum)
	require.Equal(t, defs.TypeFile, ondisk.Type)
	require.Equal(t, int16(1), ondisk.Nlink)

	// root and file share an inode block (the test region is one block
	// wide): committing the file's dependency closure must not clobber
	// root's own record, which that same transaction also staged.
	rootOndisk := readInode(t, i, root.Node.Inum)
	require.Equal(t, defs.TypeDir, rootOndisk.Type)
	require.Equal(t, int16(1), rootOndisk.Nlink)

	require.NoError(t, i.Unlink(0, root.Node.Inum, "hello.txt"))
	require.False(t, root.Node.Dir.Exists(mnode.NewName("hello.txt")))
	_, stillInterned := i.fs.Get(file.Node.Inum)
	require.False(t, stillInterned)

	require.NoError(t, i.Fsync(file.Node.Inum))
}

func TestRenameRoundTrip(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	dir, err := i.CreateDir(0, root.Node.Inum, "sub")
	require.NoError(t, err)
	defer dir.Release()

	file, err := i.CreateFile(0, root.Node.Inum, "a.txt")
	require.NoError(t, err)
	defer file.Release()

	require.NoError(t, i.Rename(0, root.Node.Inum, "a.txt", dir.Node.Inum, "b.txt"))
	require.False(t, root.Node.Dir.Exists(mnode.NewName("a.txt")))
	require.True(t, dir.Node.Dir.Exists(mnode.NewName("b.txt")))

	lr, e := dir.Node.Dir.Lookup(mnode.NewName("b.txt"))
	require.Equal(t, defs.EOK, e)
	require.Equal(t, file.Node.Inum, lr.Node.Inum)
	lr.Release()

	require.NoError(t, i.Fsync(file.Node.Inum))
}

func TestFsyncOnlyCommitsDependencyClosure(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	// Commit "other" first, so its CreateOp (which touches root) is no
	// longer in the log to link the two files' closures through root.
	unrelatedDir, err := i.CreateDir(0, root.Node.Inum, "other")
	require.NoError(t, err)
	defer unrelatedDir.Release()
	require.NoError(t, i.Fsync(unrelatedDir.Node.Inum))

	related, err := i.CreateFile(0, root.Node.Inum, "related.txt")
	require.NoError(t, err)
	defer related.Release()

	unrelatedFile, err := i.CreateFile(0, unrelatedDir.Node.Inum, "unrelated.txt")
	require.NoError(t, err)
	defer unrelatedFile.Release()

	before := i.log.SnapshotAll()
	require.Len(t, before, 2) // the two CreateOps

	require.NoError(t, i.Fsync(related.Node.Inum))

	after := i.log.SnapshotAll()
	require.Len(t, after, 1)
	_, isCreate := after[0].(*oplog.CreateOp)
	require.True(t, isCreate)
	require.Equal(t, unrelatedFile.Node.Inum, after[0].(*oplog.CreateOp).Inum)
}

func TestRecoveryReplaysThenIsIdempotent(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	file, err := i.CreateFile(0, root.Node.Inum, "durable.txt")
	require.NoError(t, err)
	defer file.Release()

	require.NoError(t, i.Fsync(file.Node.Inum))

	report, err := i.Recover()
	require.NoError(t, err)
	require.Greater(t, report.Applied, 0)

	report2, err := i.Recover()
	require.NoError(t, err)
	require.Equal(t, 0, report2.Applied)
}

func TestCreateTruncatesNameToDirsiz(t *testing.T) {
	i := testMount(t, 16)
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	longName := "this-name-is-way-too-long-for-dirsiz"
	file, err := i.CreateFile(0, root.Node.Inum, longName)
	require.NoError(t, err)
	defer file.Release()

	truncated := mnode.NewName(longName)
	require.True(t, root.Node.Dir.Exists(truncated))
	require.Equal(t, len(truncated.String()), defs.DIRSIZ)
}

func TestFsyncFailsWhenTransactionExceedsJournalCapacity(t *testing.T) {
	i := testMount(t, 2) // room for only prolog+epilog, no data blocks
	root, ok := i.LoadRoot()
	require.True(t, ok)
	defer root.Release()

	file, err := i.CreateFile(0, root.Node.Inum, "toobig.txt")
	require.NoError(t, err)
	defer file.Release()

	err = i.Fsync(file.Node.Inum)
	require.Error(t, err)

	// The failed commit must not have silently dropped the op.
	require.NotEmpty(t, i.log.SnapshotAll())
}
