package mfsiface

import (
	"github.com/pkg/errors"

	"scalefs/defs"
	"scalefs/diskinode"
	"scalefs/mnode"
)

// RebuildRoot reconstructs the mnode graph from on-disk content for a
// fresh Interface built over a Store a prior mount left behind —
// call Recover first to replay the physical journal, then RebuildRoot
// to repopulate mnode.FS purely from the resulting inode and directory
// blocks, without ever calling Mount. It walks every entry reachable
// from rootInum recursively, restoring each mnode with nlink taken
// verbatim from its on-disk record (never recomputed), and marks every
// directory and file data block it finds allocated in vec so a write
// after rebuild cannot hand out a block already in use. Grounded on
// mfs_interface::get_mfs_root combined with the graph-rebuild half of
// scalefs.hh's recovery story, which the physical journal replay alone
// does not cover (that only restores block *contents*, not the live
// object graph a running mount needs).
//
// rootInum is deterministic for a single-mount Interface built with
// Mount(0) against a fresh mnode.FS: the first directory Alloc'd on
// cpu 0, i.e. defs.MkInum(defs.TypeDir, 0, 1).
func (i *Interface) RebuildRoot(rootInum defs.Inum) (*mnode.LinkRef, error) {
	m, err := i.loadInode(rootInum, rootInum)
	if err != nil {
		return nil, err
	}
	if m.Dir == nil {
		return nil, errors.New("mfsiface: rebuild root is not a directory")
	}
	m.Dir.SetParent(rootInum)

	i.mu.Lock()
	i.root = rootInum
	i.mu.Unlock()

	return mnode.Acquire(m), nil
}

// loadInode restores inum's mnode from its on-disk record if it is not
// already interned (a node can be reached by more than one path only
// via a hard link, in which case the second visit is a no-op), fixing
// up a freshly restored directory's parent pointer to parentInum and
// recursing into its entries.
func (i *Interface) loadInode(inum, parentInum defs.Inum) (*mnode.Mnode, error) {
	if m, ok := i.fs.Get(inum); ok {
		return m, nil
	}

	block, slot := i.locator.Locate(inum)
	buf, err := i.store.ReadBlock(block)
	if err != nil {
		return nil, err
	}
	slots, err := diskinode.DecodeBlock(buf)
	if err != nil {
		return nil, err
	}
	ino := slots[slot]
	if ino.Type == 0 {
		return nil, errors.Errorf("mfsiface: inode %s has no on-disk record", inum)
	}

	for _, bno := range ino.Direct {
		if bno != 0 {
			if err := i.vec.MarkAllocated(bno); err != nil {
				return nil, err
			}
		}
	}

	m := i.fs.Restore(inum, ino.Type)
	for n := int64(0); n < int64(ino.Nlink); n++ {
		m.Link.Inc()
	}

	switch ino.Type {
	case defs.TypeDir:
		m.Dir.SetParent(parentInum)
		if ino.Direct[0] != 0 {
			dirBuf, err := i.store.ReadBlock(ino.Direct[0])
			if err != nil {
				return nil, err
			}
			entries, err := diskinode.DecodeDirBlock(dirBuf)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				child := defs.Inum(e.Inum)
				if _, err := i.loadInode(child, inum); err != nil {
					return nil, err
				}
				m.Dir.RestoreEntry(mnode.NewName(e.Name), child)
			}
		}
	case defs.TypeFile:
		r := m.File.Resize()
		r.InitializeFromDisk(uint64(ino.Size))
		r.Release()
	case defs.TypeDev:
		m.Dev.Major = int(ino.Major)
		m.Dev.Minor = int(ino.Minor)
	}
	return m, nil
}
