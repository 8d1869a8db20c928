package mnode

import (
	"sync/atomic"

	"scalefs/defs"
)

// DirNode is a directory's entry table: name -> inumber, plus the
// synthetic "." and ".." entries spec.md §3 calls for. Grounded on
// mnode.hh's mdir class; the striped hash table backing entries
// generalizes the same lock-striping idea as DirNode's interner
// sibling in FS (see striped.go) instead of mdir's single chained hash
// table, so lookups on distinct names in a large directory do not
// serialize against each other.
type DirNode struct {
	fs      *FS
	self    *Mnode
	entries *striped[Name, defs.Inum]
	parent  defs.Inum
	killed  atomic.Bool
}

func newDirNode(fs *FS, self *Mnode, parent defs.Inum) *DirNode {
	return &DirNode{
		fs:      fs,
		self:    self,
		entries: newStriped[Name, defs.Inum](16, hashName),
		parent:  parent,
	}
}

// SetParent fixes up the ".." target once the parent directory's
// inumber is known (e.g. right after FS.Alloc, before the new
// directory is linked into its parent).
func (d *DirNode) SetParent(parent defs.Inum) {
	d.parent = parent
}

func dotOrDotDot(name Name) bool {
	return name.IsDot() || name.IsDotDot()
}

// Insert adds name -> inum, failing with EEXIST if the name is
// already present (including the synthetic "." and ".." names, which
// can never be inserted) or ENOTFOUND if the directory has been
// killed. On success, the target inode's nlink is incremented: a
// directory entry is what creates a unit of nlink, not the taking of
// a reference to it (see LinkRef in mnode.go).
func (d *DirNode) Insert(name Name, inum defs.Inum) defs.Err_t {
	if d.Killed() {
		return defs.ENOTFOUND
	}
	if dotOrDotDot(name) {
		return defs.EEXIST
	}
	if _, loaded := d.entries.LoadOrStore(name, inum); loaded {
		return defs.EEXIST
	}
	if target, ok := d.fs.Get(inum); ok {
		target.Link.Inc()
	}
	return defs.EOK
}

// Remove deletes name only if it currently maps to expect, matching
// mdir::remove's compare-and-remove semantics so a caller that raced
// with a rename cannot remove the wrong inode out from under it. On
// success, the removed entry's nlink claim is given back.
func (d *DirNode) Remove(name Name, expect defs.Inum) defs.Err_t {
	if dotOrDotDot(name) {
		return defs.EINVAL
	}
	if !d.entries.CompareAndDelete(name, expect, inumEq) {
		return defs.ENOTFOUND
	}
	if target, ok := d.fs.Get(expect); ok {
		target.Link.Dec()
	}
	return defs.EOK
}

// ReplaceFrom retargets name from oldExpect to newInum, failing with
// ENOTFOUND if name does not currently map to oldExpect. Used by
// rename when the destination name already exists and must be
// atomically repointed at the source's inode. nlink moves with the
// name: oldExpect gives back its claim, newInum gains one.
func (d *DirNode) ReplaceFrom(name Name, oldExpect, newInum defs.Inum) defs.Err_t {
	if dotOrDotDot(name) {
		return defs.EINVAL
	}
	if !d.entries.CompareAndSwap(name, oldExpect, newInum, inumEq) {
		return defs.ENOTFOUND
	}
	if old, ok := d.fs.Get(oldExpect); ok {
		old.Link.Dec()
	}
	if nw, ok := d.fs.Get(newInum); ok {
		nw.Link.Inc()
	}
	return defs.EOK
}

// ReplaceCommonInode makes newName point at whatever inode oldName
// currently names, and removes oldName, without an intervening state
// where neither name is present. This is mdir::replace_common_inode,
// used by a hard-link-style rename where the source and destination
// already share the same inode (e.g. renaming one of two links of the
// same file within one directory) — Open Question (ii) in spec.md §9
// is resolved as "live, not dead code": a plain unlink(newName)
// followed by link(oldName -> newName) would transiently expose a
// missing newName to a concurrent lookup, which this avoids.
func (d *DirNode) ReplaceCommonInode(oldName, newName Name) defs.Err_t {
	if dotOrDotDot(oldName) || dotOrDotDot(newName) {
		return defs.EINVAL
	}
	inum, ok := d.entries.Load(oldName)
	if !ok {
		return defs.ENOTFOUND
	}
	d.entries.Store(newName, inum)
	d.entries.Delete(oldName)
	return defs.EOK
}

// Exists reports whether name is currently present. The synthetic "."
// and ".." entries always report present.
func (d *DirNode) Exists(name Name) bool {
	if dotOrDotDot(name) {
		return true
	}
	_, ok := d.entries.Load(name)
	return ok
}

// Lookup resolves name to a LinkRef on its target mnode. "." resolves
// to d's own mnode and ".." to the parent, both without touching the
// entry table. A name whose entry exists but whose mnode has already
// been reclaimed from the interner (a narrow race with the refcache
// sweeping a zero-refcount mnode) is reported as ERETRY once before
// falling back to ENOTFOUND if the entry is confirmed gone on retry,
// mirroring mdir::lookup's retry-once-then-abort behavior.
func (d *DirNode) Lookup(name Name) (*LinkRef, defs.Err_t) {
	if name.IsDot() {
		return Acquire(d.self), defs.EOK
	}
	if name.IsDotDot() {
		m, ok := d.fs.Get(d.parent)
		if !ok {
			return nil, defs.ENOTFOUND
		}
		return Acquire(m), defs.EOK
	}
	if d.Killed() {
		return nil, defs.ENOTFOUND
	}

	inum, ok := d.entries.Load(name)
	if !ok {
		return nil, defs.ENOTFOUND
	}
	m, ok := d.fs.Get(inum)
	if ok {
		return Acquire(m), defs.EOK
	}
	// Entry present but mnode not interned: either a benign race with
	// reclamation (retry), or the name changed under us.
	inum2, ok2 := d.entries.Load(name)
	if ok2 && inum2 == inum {
		return nil, defs.ERETRY
	}
	return nil, defs.ENOTFOUND
}

// LookupLink is Lookup with the entry re-verified after the reference
// is taken, for callers (link(2), rename(2)) that must not hand back a
// reference to an inode some concurrent rename has already retargeted
// the name away from. This is one of the two documented POSIX
// deviations mdir::lookup_link carries forward: a lookup_link can
// observe a name transiently resolve to no mnode (reported as ERETRY) rather
// than guarantee forward progress against an adversarial renamer, and
// it re-validates under no directory-wide lock, only a per-name
// compare.
func (d *DirNode) LookupLink(name Name) (*LinkRef, defs.Err_t) {
	for {
		inum, ok := d.entries.Load(name)
		if !ok {
			if dotOrDotDot(name) {
				return d.Lookup(name)
			}
			return nil, defs.ENOTFOUND
		}
		m, ok := d.fs.Get(inum)
		if !ok {
			return nil, defs.ERETRY
		}
		lr := Acquire(m)
		inum2, ok2 := d.entries.Load(name)
		if ok2 && inum2 == inum {
			return lr, defs.EOK
		}
		lr.Release()
		// name was retargeted or removed between the two loads; retry.
	}
}

// Enumerate walks every entry, synthesizing "." and ".." first, in
// that order, then the directory's real entries in no particular
// order. fn's return value controls early termination.
func (d *DirNode) Enumerate(fn func(name Name, inum defs.Inum) bool) {
	if !fn(NewName("."), d.self.Inum) {
		return
	}
	if !fn(NewName(".."), d.parent) {
		return
	}
	d.entries.Range(fn)
}

// Kill marks the directory as no longer linkable, failing with
// ENOTEMPTY if it still has entries. Open Question (i) in spec.md §9
// is resolved here: once Killed reports true, Insert and Lookup (for
// names other than "." and "..") both fail — but an Enumerate already
// in progress when Kill was called keeps iterating the snapshot it is
// mid-walk of, since Range only locks one bucket at a time and Kill
// never clears entries itself.
//
// Kill also gives back d's implicit ".." claim on its parent's nlink,
// mirroring mdir::kill(parent): the original removes ".." from its own
// entry map and decrements parent->nlink_ in the same call. This
// module keeps ".." as a cached field (d.parent) rather than a literal
// map entry, but the nlink contribution is real: mfsiface.ApplyCreate
// incremented the parent's Link when it created d, and a
// directory that outlives d must give that unit back exactly once,
// here.
func (d *DirNode) Kill() defs.Err_t {
	if d.entries.Len() > 0 {
		return defs.ENOTEMPTY
	}
	if !d.killed.CompareAndSwap(false, true) {
		return defs.EOK
	}
	if p, ok := d.fs.Get(d.parent); ok && p != d.self {
		p.Link.Dec()
	}
	return defs.EOK
}

// Killed reports whether Kill has succeeded on this directory.
func (d *DirNode) Killed() bool {
	return d.killed.Load()
}

func inumEq(a, b defs.Inum) bool { return a == b }

// RestoreEntry installs name -> inum directly, without touching nlink
// or checking Killed. Used only while reconstructing a directory's
// in-memory entry table from its on-disk content at mount/recovery
// time, when nlink has already been loaded verbatim from the inode
// record and must not be double-counted.
func (d *DirNode) RestoreEntry(name Name, inum defs.Inum) {
	d.entries.Store(name, inum)
}
