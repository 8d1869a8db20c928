package mfsiface

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"scalefs/bitmap"
	"scalefs/defs"
	"scalefs/diskinode"
	"scalefs/journal"
	"scalefs/mnode"
	"scalefs/oplog"
	"scalefs/pageidx"
)

// Fsync makes every logical operation inum's durability depends on
// durable, coalescing concurrent callers for the same inum onto a
// single underlying commit via golang.org/x/sync/singleflight —
// spec.md §4.3 calls out that two threads fsyncing the same file
// concurrently should not each drive their own journal transaction.
// Mirrors mfs_interface::mfs_sync_dirty_files's per-file path combined
// with fsync_lock's coalescing role, realized here at a module
// boundary neither mnode.FileNode's lock (per-mnode only) nor the
// journal (no inum awareness) could express alone.
func (i *Interface) Fsync(inum defs.Inum) error {
	key := strconv.FormatUint(uint64(inum), 10)
	_, err, _ := i.sf.Do(key, func() (interface{}, error) {
		return nil, i.fsyncOnce(inum)
	})
	return err
}

// fsyncOnce performs the actual dependency-closure walk, prune, and
// commit for one inode, outside of any singleflight coalescing.
func (i *Interface) fsyncOnce(inum defs.Inum) error {
	start := time.Now()
	defer func() {
		if i.metrics != nil {
			i.metrics.FsyncLatency.Observe(time.Since(start).Seconds())
		}
	}()

	all := i.log.SnapshotAll()
	deps := oplog.FindDependentOps(all, []defs.Inum{inum})
	if len(deps) == 0 {
		return nil
	}

	if err := i.commitOps(deps); err != nil {
		if i.metrics != nil {
			i.metrics.FsyncFailures.Inc()
		}
		i.logger.WithError(err).WithField("inum", inum.String()).Warn("fsync failed")
		return err
	}
	return nil
}

// SyncAll drains every per-CPU logical log and commits the entire
// backlog as one physical journal transaction, mirroring
// mfs_interface::mfs_sync_dirty_files's whole-filesystem sweep (as
// used at unmount, or periodically by a background syncer).
func (i *Interface) SyncAll() error {
	ops := i.log.DrainAll()
	if len(ops) == 0 {
		return nil
	}
	return i.commitOps(ops)
}

// commitOps prunes cancelling op pairs out of ops, stages the
// remaining ones' inode metadata into one journal.Transaction, commits
// it, and removes exactly ops (the original, pre-prune set) from the
// logical log on success.
func (i *Interface) commitOps(ops []oplog.LogicalOp) error {
	pruned := oplog.Prune(ops)
	if len(pruned) == 0 {
		i.log.Remove(ops)
		return nil
	}

	pending := bitmap.NewPending()
	tx := journal.NewTransaction(pending)
	ts := i.timestamp()

	staged := make(map[defs.Inum]bool)
	for _, op := range pruned {
		if del, ok := op.(*oplog.DeleteOp); ok {
			staged[del.Inum] = true
			if err := i.stageDelete(tx, del.Inum, ts); err != nil {
				i.jrn.Abort(tx)
				return err
			}
			continue
		}
		for _, n := range op.Nodes() {
			if staged[n] {
				continue
			}
			staged[n] = true
			if err := i.stageInode(tx, n, ts); err != nil {
				i.jrn.Abort(tx)
				return err
			}
		}
	}

	if err := i.jrn.Commit(tx, ts); err != nil {
		return err
	}

	i.log.Remove(ops)
	if i.metrics != nil {
		i.metrics.TransactionsCommitted.Inc()
		i.metrics.BytesJournaled.Add(float64((tx.NumBlocks() + 2) * defs.BSIZE))
		i.metrics.FreeBlocks.Set(float64(i.vec.Free()))
	}
	i.logger.WithFields(logrus.Fields{
		"timestamp": ts,
		"ops":       len(pruned),
		"blocks":    tx.NumBlocks(),
	}).Info("transaction committed")
	return nil
}

// stageInode read-modify-writes the inode block holding inum's record
// into tx, with its in-memory mnode state folded in, and — for a
// directory or a file with unwritten page-cache data — the block(s)
// that record's direct pointers name. A node that has since been
// deleted (ApplyDelete already dropped it from the interner) is
// skipped: stageDelete handles reclaiming whatever it left on disk.
func (i *Interface) stageInode(tx *journal.Transaction, inum defs.Inum, ts uint64) error {
	m, ok := i.fs.Get(inum)
	if !ok {
		return nil
	}

	block, slot := i.locator.Locate(inum)
	buf, staged := tx.StagedBlock(block)
	if !staged {
		var err error
		buf, err = i.store.ReadBlock(block)
		if err != nil {
			return err
		}
	}
	slots, err := diskinode.DecodeBlock(buf)
	if err != nil {
		return err
	}

	ino := diskInodeFromMnode(m)
	ino.Direct = slots[slot].Direct // carry forward any already-assigned data blocks

	switch m.Kind {
	case defs.TypeDir:
		if err := i.stageDirBlock(tx, m, ino, ts); err != nil {
			return err
		}
	case defs.TypeFile:
		if err := i.stageFileBlocks(tx, m, ino, ts); err != nil {
			return err
		}
	}

	slots[slot] = ino
	newBuf, err := diskinode.EncodeBlock(slots)
	if err != nil {
		return err
	}
	tx.AddBlock(block, newBuf, ts)
	return nil
}

// stageDirBlock encodes m's current entries into its single data
// block (spec.md §6's inode carries direct[]/indirect pointers; a
// directory here only ever uses direct[0], the simplest layout that
// still journals real entry content instead of treating the buffer
// cache as the only place names ever become durable), allocating the
// block on first use.
func (i *Interface) stageDirBlock(tx *journal.Transaction, m *mnode.Mnode, ino *diskinode.Inode, ts uint64) error {
	entries := make([]diskinode.DirEntry, 0, diskinode.DirEntriesPerBlock)
	var overflow bool
	m.Dir.Enumerate(func(name mnode.Name, child defs.Inum) bool {
		if name.IsDot() || name.IsDotDot() {
			return true
		}
		if len(entries) >= diskinode.DirEntriesPerBlock {
			overflow = true
			return false
		}
		entries = append(entries, diskinode.DirEntry{Inum: uint64(child), Name: name.String()})
		return true
	})
	if overflow {
		return errors.Errorf("mfsiface: directory %s has more entries than fit in one data block", m.Inum)
	}

	dirBlock, err := diskinode.EncodeDirBlock(entries)
	if err != nil {
		return err
	}

	if ino.Direct[0] == 0 {
		bno, ok := tx.AddAllocatedBlock(i.vec, dirBlock, ts)
		if !ok {
			return errors.New("mfsiface: out of space staging directory block")
		}
		ino.Direct[0] = bno
		return nil
	}
	tx.AddBlock(ino.Direct[0], dirBlock, ts)
	return nil
}

// stageFileBlocks flushes every dirty page of m's body into tx,
// assigning a fresh direct block on first write and reusing it
// afterward. Mirrors mfile::sync_file's "writes dirty pages through
// the journal" (spec.md §4.1). Pages at or beyond diskinode.NumDirect
// are rejected: this module's write path only populates direct[], so
// a file's journaled content is capped at NumDirect*BSIZE bytes — the
// indirect pointer stays in the on-disk layout for forward
// compatibility but nothing in this package ever allocates through it.
func (i *Interface) stageFileBlocks(tx *journal.Transaction, m *mnode.Mnode, ino *diskinode.Inode, ts uint64) error {
	if m.File == nil {
		return nil
	}
	var stageErr error
	m.File.Pages().ForEachValid(func(pageIdx int, s *pageidx.PageState) bool {
		if !s.Dirty() {
			return true
		}
		if pageIdx >= diskinode.NumDirect {
			stageErr = errors.Errorf("mfsiface: file %s has a dirty page beyond this module's direct-block range", m.Inum)
			return false
		}

		s.Lock()
		pi := s.Load()
		data := make([]byte, len(pi.Data))
		copy(data, pi.Data)
		s.ClearDirty()
		s.Unlock()

		if ino.Direct[pageIdx] == 0 {
			bno, ok := tx.AddAllocatedBlock(i.vec, data, ts)
			if !ok {
				stageErr = errors.New("mfsiface: out of space staging file data block")
				return false
			}
			ino.Direct[pageIdx] = bno
			return true
		}
		tx.AddBlock(ino.Direct[pageIdx], data, ts)
		return true
	})
	return stageErr
}

// stageDelete reclaims whatever op.Inum left on disk: every direct
// block its inode record pointed at is staged for release, and the
// inode slot itself is zeroed so a later DecodeBlock reads it back as
// unused (Type 0 is never a valid mnode kind). Reached only through a
// DeleteOp, never through the general Nodes()-driven loop in
// commitOps, since by the time a DeleteOp is replayed ApplyDelete has
// already removed the mnode from the interner — stageInode's normal
// path has nothing left to read the in-memory state from.
func (i *Interface) stageDelete(tx *journal.Transaction, inum defs.Inum, ts uint64) error {
	block, slot := i.locator.Locate(inum)
	buf, staged := tx.StagedBlock(block)
	if !staged {
		var err error
		buf, err = i.store.ReadBlock(block)
		if err != nil {
			return err
		}
	}
	slots, err := diskinode.DecodeBlock(buf)
	if err != nil {
		return err
	}

	ino := slots[slot]
	for _, bno := range ino.Direct {
		if bno != 0 {
			tx.AddFreeBlock(bno)
		}
	}
	slots[slot] = &diskinode.Inode{}

	newBuf, err := diskinode.EncodeBlock(slots)
	if err != nil {
		return err
	}
	tx.AddBlock(block, newBuf, ts)
	return nil
}

func diskInodeFromMnode(m *mnode.Mnode) *diskinode.Inode {
	ino := &diskinode.Inode{Type: m.Kind, Nlink: int16(m.Link.Load())}
	switch m.Kind {
	case defs.TypeFile:
		if m.File != nil {
			ino.Size = uint32(m.File.Size())
		}
	case defs.TypeDev:
		if m.Dev != nil {
			ino.Major = int16(m.Dev.Major)
			ino.Minor = int16(m.Dev.Minor)
		}
	}
	return ino
}
