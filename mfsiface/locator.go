package mfsiface

import "scalefs/defs"

// InodeLocator maps an inumber to its on-disk inode record's block
// number and in-block slot, so Fsync knows which inode block to
// read-modify-write for a given logical operation. A directory or
// file's data block(s) are found indirectly, through that inode
// record's own Direct pointers (see stageDirBlock/stageFileBlocks) —
// this locator only ever needs to find the fixed-size inode record
// itself.
type InodeLocator interface {
	Locate(inum defs.Inum) (block uint32, slot int)
}

// FlatLocator is the simplest possible InodeLocator: a single
// contiguous inode region starting at FirstBlock, PerBlock records per
// block, indexed by an inumber's Count() component only. Count() is
// unique only among inumbers minted on the same cpu shard (each shard
// has its own counter in mnode.FS), so two inumbers from different
// shards with equal Count() map to the same slot.
type FlatLocator struct {
	FirstBlock uint32
	PerBlock   uint32
}

// Locate implements InodeLocator.
func (l FlatLocator) Locate(inum defs.Inum) (uint32, int) {
	n := inum.Count()
	return l.FirstBlock + uint32(n)/l.PerBlock, int(uint32(n) % l.PerBlock)
}
