// Package oplog implements C6: the per-CPU logical log of high-level
// metadata operations, the dependency closure walk fsync needs to
// find every operation a given inode's durability depends on, and the
// pruning pass that absorbs cancelling operation pairs (a file
// created and deleted before it was ever synced needs no journal
// entry at all). Grounded on original_source/include/scalefs.hh's
// mfs_operation hierarchy (mfs_operation_create/link/unlink/delete/
// rename) and mfs_logical_log.
package oplog

import "scalefs/defs"

// LogicalOp is one high-level metadata operation recorded in a
// per-CPU log before it has been folded into a physical journal
// Transaction. Nodes reports every inumber the operation's durability
// is entangled with, for the dependency closure walk in deps.go.
type LogicalOp interface {
	Timestamp() uint64
	Nodes() []defs.Inum
	Apply(a Applier) error
}

// Applier receives exactly one callback per concrete LogicalOp kind,
// matching the double-dispatch mfs_operation::apply used in the
// original against mfs_interface.
type Applier interface {
	ApplyCreate(op *CreateOp) error
	ApplyLink(op *LinkOp) error
	ApplyUnlink(op *UnlinkOp) error
	ApplyDelete(op *DeleteOp) error
	ApplyRename(op *RenameOp) error
}

// CreateOp records that Name was created under Parent, naming a fresh
// inode Inum of the given Kind (one of defs.TypeDir/TypeFile/TypeDev/
// TypeSock).
type CreateOp struct {
	TS     uint64
	Parent defs.Inum
	Name   string
	Inum   defs.Inum
	Kind   uint8
}

// Timestamp implements LogicalOp.
func (o *CreateOp) Timestamp() uint64 { return o.TS }

// Nodes implements LogicalOp.
func (o *CreateOp) Nodes() []defs.Inum { return []defs.Inum{o.Parent, o.Inum} }

// Apply implements LogicalOp.
func (o *CreateOp) Apply(a Applier) error { return a.ApplyCreate(o) }

// LinkOp records that Name was added under Parent, naming the
// existing inode Inum (a hard link). Creating a new inode is recorded
// as a single CreateOp, not a create followed by a link.
type LinkOp struct {
	TS     uint64
	Parent defs.Inum
	Name   string
	Inum   defs.Inum
}

// Timestamp implements LogicalOp.
func (o *LinkOp) Timestamp() uint64 { return o.TS }

// Nodes implements LogicalOp.
func (o *LinkOp) Nodes() []defs.Inum { return []defs.Inum{o.Parent, o.Inum} }

// Apply implements LogicalOp.
func (o *LinkOp) Apply(a Applier) error { return a.ApplyLink(o) }

// UnlinkOp records that Name was removed from Parent, where Name had
// named Inum.
type UnlinkOp struct {
	TS     uint64
	Parent defs.Inum
	Name   string
	Inum   defs.Inum
}

// Timestamp implements LogicalOp.
func (o *UnlinkOp) Timestamp() uint64 { return o.TS }

// Nodes implements LogicalOp.
func (o *UnlinkOp) Nodes() []defs.Inum { return []defs.Inum{o.Parent, o.Inum} }

// Apply implements LogicalOp.
func (o *UnlinkOp) Apply(a Applier) error { return a.ApplyUnlink(o) }

// DeleteOp records that Inum's last link is gone and its blocks and
// inode slot may be reclaimed.
type DeleteOp struct {
	TS   uint64
	Inum defs.Inum
}

// Timestamp implements LogicalOp.
func (o *DeleteOp) Timestamp() uint64 { return o.TS }

// Nodes implements LogicalOp.
func (o *DeleteOp) Nodes() []defs.Inum { return []defs.Inum{o.Inum} }

// Apply implements LogicalOp.
func (o *DeleteOp) Apply(a Applier) error { return a.ApplyDelete(o) }

// RenameOp records that SrcName under SrcParent (naming Inum) became
// DstName under DstParent.
type RenameOp struct {
	TS                   uint64
	SrcParent, DstParent defs.Inum
	SrcName, DstName     string
	Inum                 defs.Inum
}

// Timestamp implements LogicalOp.
func (o *RenameOp) Timestamp() uint64 { return o.TS }

// Nodes implements LogicalOp.
func (o *RenameOp) Nodes() []defs.Inum {
	return []defs.Inum{o.SrcParent, o.DstParent, o.Inum}
}

// Apply implements LogicalOp.
func (o *RenameOp) Apply(a Applier) error { return a.ApplyRename(o) }
