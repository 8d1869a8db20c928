package mfsiface

import (
	"github.com/sirupsen/logrus"

	"scalefs/defs"
	"scalefs/mnode"
	"scalefs/oplog"
)

// getDir resolves inum to a directory mnode, failing with ENOTDIR if
// it is not one or does not exist.
func (i *Interface) getDir(inum defs.Inum) (*mnode.Mnode, error) {
	m, ok := i.fs.Get(inum)
	if !ok || m.Dir == nil {
		return nil, wrapErr(defs.ENOTDIR)
	}
	return m, nil
}

// create is shared by CreateFile/CreateDir/CreateDev: it allocates a
// fresh mnode of kind and a CreateOp linking it into parent under
// name, in one MetadataOpStart-bracketed unit. Mirrors
// mfs_interface::mfs_create.
func (i *Interface) create(cpu int, parent defs.Inum, name string, kind uint8) (*mnode.LinkRef, error) {
	p, err := i.getDir(parent)
	if err != nil {
		return nil, err
	}
	nm := mnode.NewName(name)
	if p.Dir.Exists(nm) {
		return nil, wrapErr(defs.EEXIST)
	}

	m := i.fs.Alloc(cpu, kind)
	ts := i.MetadataOpStart()
	defer i.MetadataOpEnd(ts)

	op := &oplog.CreateOp{TS: ts, Parent: parent, Name: name, Inum: m.Inum, Kind: kind}
	if err := i.record(cpu, op); err != nil {
		m.Unref()
		return nil, err
	}
	i.logger.WithFields(logrus.Fields{"inum": m.Inum, "parent": parent, "name": name}).Debug("create")
	return mnode.Transfer(m), nil
}

// CreateFile creates a new, empty regular file named name under
// parent.
func (i *Interface) CreateFile(cpu int, parent defs.Inum, name string) (*mnode.LinkRef, error) {
	return i.create(cpu, parent, name, defs.TypeFile)
}

// CreateDir creates a new, empty subdirectory named name under
// parent, with its ".." fixed up to point back at parent.
func (i *Interface) CreateDir(cpu int, parent defs.Inum, name string) (*mnode.LinkRef, error) {
	lr, err := i.create(cpu, parent, name, defs.TypeDir)
	if err != nil {
		return nil, err
	}
	lr.Node.Dir.SetParent(parent)
	return lr, nil
}

// CreateDev creates a device special file named name under parent
// with the given major/minor pair.
func (i *Interface) CreateDev(cpu int, parent defs.Inum, name string, major, minor int) (*mnode.LinkRef, error) {
	lr, err := i.create(cpu, parent, name, defs.TypeDev)
	if err != nil {
		return nil, err
	}
	lr.Node.Dev.Major = major
	lr.Node.Dev.Minor = minor
	return lr, nil
}

// Link adds a new name under parent naming the already-existing inode
// target (a hard link). Mirrors mfs_interface::mfs_link.
func (i *Interface) Link(cpu int, parent defs.Inum, name string, target defs.Inum) error {
	p, err := i.getDir(parent)
	if err != nil {
		return err
	}
	if p.Dir.Exists(mnode.NewName(name)) {
		return wrapErr(defs.EEXIST)
	}
	if _, ok := i.fs.Get(target); !ok {
		return wrapErr(defs.ENOTFOUND)
	}
	op := &oplog.LinkOp{TS: i.timestamp(), Parent: parent, Name: name, Inum: target}
	return i.record(cpu, op)
}

// Unlink removes name from parent. If that was the inode's last link,
// the inode is deleted outright (its mnode leaves the interner; any
// LinkRef a caller still holds stays valid until released, matching
// Unix unlink-while-open semantics at the mnode level — the
// underlying pages are reclaimed by Go's GC once the last reference
// drops, rather than by an explicit free list sweep). Mirrors
// mfs_interface::mfs_unlink.
func (i *Interface) Unlink(cpu int, parent defs.Inum, name string) error {
	p, err := i.getDir(parent)
	if err != nil {
		return err
	}
	lr, e := p.Dir.Lookup(mnode.NewName(name))
	if e != defs.EOK {
		return wrapErr(e)
	}
	inum := lr.Node.Inum
	lr.Release()

	op := &oplog.UnlinkOp{TS: i.timestamp(), Parent: parent, Name: name, Inum: inum}
	if err := i.record(cpu, op); err != nil {
		return err
	}

	if target, ok := i.fs.Get(inum); ok && target.Link.Load() == 0 {
		return i.Delete(cpu, inum)
	}
	return nil
}

// Delete records that inum's last link is gone, removing it from the
// interner. Ordinarily reached through Unlink, not called directly.
func (i *Interface) Delete(cpu int, inum defs.Inum) error {
	op := &oplog.DeleteOp{TS: i.timestamp(), Inum: inum}
	return i.record(cpu, op)
}

// Rename moves srcName under srcParent to dstName under dstParent,
// overwriting dstName if it already exists. Mirrors
// mfs_interface::mfs_rename, simplified to the common case; the
// same-inode replace_common_inode path (spec.md §9 Open Question ii)
// is exercised directly through mnode.DirNode.ReplaceCommonInode by a
// caller that already knows it is renaming one of two links of the
// same file, rather than through this higher-level entry point.
func (i *Interface) Rename(cpu int, srcParent defs.Inum, srcName string, dstParent defs.Inum, dstName string) error {
	sp, err := i.getDir(srcParent)
	if err != nil {
		return err
	}
	if _, err := i.getDir(dstParent); err != nil {
		return err
	}

	lr, e := sp.Dir.Lookup(mnode.NewName(srcName))
	if e != defs.EOK {
		return wrapErr(e)
	}
	inum := lr.Node.Inum
	lr.Release()

	ts := i.MetadataOpStart()
	defer i.MetadataOpEnd(ts)
	op := &oplog.RenameOp{
		TS: ts, SrcParent: srcParent, DstParent: dstParent,
		SrcName: srcName, DstName: dstName, Inum: inum,
	}
	return i.record(cpu, op)
}

// ApplyCreate implements oplog.Applier: it links op.Inum into
// op.Parent under op.Name, which is what actually grants op.Inum its
// first unit of nlink (see mnode.DirNode.Insert). When op.Kind is a
// directory, the new mnode's implicit ".." also claims a unit of
// op.Parent's nlink — mirrored from mdir::kill's parent->nlink_.dec(),
// whose counterpart increment (never shown in the surviving original
// source) has to happen exactly once, at creation.
func (i *Interface) ApplyCreate(op *oplog.CreateOp) error {
	p, err := i.getDir(op.Parent)
	if err != nil {
		return err
	}
	if e := p.Dir.Insert(mnode.NewName(op.Name), op.Inum); e != defs.EOK {
		return wrapErr(e)
	}
	if op.Kind == defs.TypeDir {
		p.Link.Inc()
	}
	return nil
}

// ApplyLink implements oplog.Applier.
func (i *Interface) ApplyLink(op *oplog.LinkOp) error {
	p, err := i.getDir(op.Parent)
	if err != nil {
		return err
	}
	return wrapErr(p.Dir.Insert(mnode.NewName(op.Name), op.Inum))
}

// ApplyUnlink implements oplog.Applier.
func (i *Interface) ApplyUnlink(op *oplog.UnlinkOp) error {
	p, err := i.getDir(op.Parent)
	if err != nil {
		return err
	}
	return wrapErr(p.Dir.Remove(mnode.NewName(op.Name), op.Inum))
}

// ApplyDelete implements oplog.Applier. A directory must give back its
// implicit ".." claim on its parent's nlink (mnode.DirNode.Kill) and
// must still be empty — a non-empty directory's nlink never reaches
// zero in the first place (each child subdirectory keeps a claim on
// it via ApplyCreate), but Kill is the authoritative check regardless.
func (i *Interface) ApplyDelete(op *oplog.DeleteOp) error {
	if m, ok := i.fs.Get(op.Inum); ok && m.Dir != nil {
		if e := m.Dir.Kill(); e != defs.EOK {
			return wrapErr(e)
		}
	}
	i.fs.Delete(op.Inum)
	return nil
}

// ApplyRename implements oplog.Applier: it removes the source entry
// and installs the destination one, retargeting an existing
// destination entry in place (via ReplaceFrom) rather than leaving a
// transient window with no destination entry at all. When op.Inum is
// itself a directory, its ".." must move with it: op.SrcParent gives
// back the nlink claim the renamed directory held on it, op.DstParent
// gains that same claim, and the directory's own parent pointer is
// fixed up via SetParent so a later Lookup("..") resolves to its new
// parent rather than its old one.
func (i *Interface) ApplyRename(op *oplog.RenameOp) error {
	sp, err := i.getDir(op.SrcParent)
	if err != nil {
		return err
	}
	dp, err := i.getDir(op.DstParent)
	if err != nil {
		return err
	}

	if e := sp.Dir.Remove(mnode.NewName(op.SrcName), op.Inum); e != defs.EOK {
		return wrapErr(e)
	}

	dstName := mnode.NewName(op.DstName)
	var applyErr defs.Err_t
	if old, e := dp.Dir.Lookup(dstName); e == defs.EOK {
		oldInum := old.Node.Inum
		old.Release()
		applyErr = dp.Dir.ReplaceFrom(dstName, oldInum, op.Inum)
	} else {
		applyErr = dp.Dir.Insert(dstName, op.Inum)
	}
	if applyErr != defs.EOK {
		return wrapErr(applyErr)
	}

	if m, ok := i.fs.Get(op.Inum); ok && m.Dir != nil && op.SrcParent != op.DstParent {
		sp.Link.Dec()
		dp.Link.Inc()
		m.Dir.SetParent(op.DstParent)
	}
	return nil
}
