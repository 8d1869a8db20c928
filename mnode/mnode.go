package mnode

import (
	"runtime"
	"sync/atomic"
	"time"

	"scalefs/defs"
)

// Mnode is one node of the filesystem's in-memory object graph: an
// inumber, a type tag, a strong reference count that pins it against
// reclamation, and exactly one of Dir/File/Dev/Sock populated
// according to Kind. Grounded on mnode.hh's mnode base class, with the
// original's virtual-dispatch subclasses (mdir/mfile/mdev/msock)
// flattened into a tagged union, the idiomatic Go rendering of a
// closed type hierarchy.
type Mnode struct {
	Inum defs.Inum
	Kind uint8

	fs *FS

	refs      atomic.Int32
	epochDead atomic.Int64 // epoch at which refs last hit zero; -1 while refs > 0

	Link LinkCount

	Dir  *DirNode
	File *FileNode
	Dev  *DevNode
	Sock *SockNode
}

// Ref takes an additional strong reference, for a caller that already
// holds one (e.g. a directory iterator returning nodes it found some
// other way). Most callers should go through Acquire/Transfer instead,
// which wrap the reference in a releasable LinkRef.
func (m *Mnode) Ref() {
	m.refs.Add(1)
}

// Unref drops one strong reference. When the count reaches zero, the
// mnode becomes eligible for reclamation once the refcache epoch has
// advanced twice without a TryRef resurrecting it (spec.md §5).
func (m *Mnode) Unref() {
	if m.refs.Add(-1) == 0 {
		m.epochDead.Store(int64(m.fs.epoch.Load()))
	}
}

// TryRef attempts to take a strong reference from a weak one,
// resurrecting the mnode if its strong count is still zero but the
// refcache epoch has not advanced twice since it dropped to zero.
// Reports whether it succeeded; failure means the mnode is gone (or
// about to be) and the caller must re-resolve its inumber.
func (m *Mnode) TryRef() bool {
	for {
		r := m.refs.Load()
		if r < 0 {
			return false
		}
		if r == 0 {
			cur := int64(m.fs.epoch.Load())
			if cur-m.epochDead.Load() >= 2 {
				return false
			}
		}
		if m.refs.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

// LinkRef is the Go rendering of mnode.hh's mlinkref: a strong,
// RAII-style cache pin on an mnode. nlink itself is tracked
// separately, directly by DirNode's Insert/Remove/ReplaceFrom — a
// directory entry is what creates or destroys a unit of nlink, not
// the act of taking out a reference to read or pass around the
// mnode — so LinkRef's only job is the strong-reference half of the
// original's combined type. Acquire and Transfer differ only in
// whether they also take out a fresh strong reference.
type LinkRef struct {
	Node     *Mnode
	released bool
}

// Acquire takes a new strong reference on m, for handing a caller a
// pinned mnode it did not already hold a reference to (the common case
// coming out of a directory lookup).
func Acquire(m *Mnode) *LinkRef {
	m.Ref()
	return &LinkRef{Node: m}
}

// Transfer adopts the strong reference m already carries (as returned
// by FS.Alloc, which hands back one reference to its caller) without
// incrementing the strong count a second time. Used immediately after
// allocating a fresh mnode, to turn Alloc's implicit reference into an
// explicit, releasable LinkRef.
func Transfer(m *Mnode) *LinkRef {
	return &LinkRef{Node: m}
}

// Release gives back the strong reference. Safe to call at most
// meaningfully once; subsequent calls are no-ops.
func (lr *LinkRef) Release() {
	if lr.released {
		return
	}
	lr.released = true
	lr.Node.Unref()
}

// FS is the filesystem's mnode graph root: the inumber allocator and
// the interner mapping inumbers back to live mnodes. Grounded on
// mnode.hh's mfs class (get/alloc) and mfs::next_inum_, a percpu<u64>
// here realized as one atomic counter per CPU shard.
type FS struct {
	interner *striped[defs.Inum, *Mnode]
	counters []atomic.Uint64
	epoch    atomic.Uint64
	stop     chan struct{}
}

// NewFS builds an empty mnode graph sized for ncpu inumber-allocation
// shards. ncpu is typically runtime.GOMAXPROCS(0); it need not match
// the number of goroutines that will call Alloc, only bound how many
// independent counters exist.
func NewFS(ncpu int) *FS {
	if ncpu < 1 {
		ncpu = 1
	}
	return &FS{
		interner: newStriped[defs.Inum, *Mnode](64, hashInum),
		counters: make([]atomic.Uint64, ncpu),
		stop:     make(chan struct{}),
	}
}

// NumCPU returns how many per-cpu counter shards this FS was built
// with.
func (fs *FS) NumCPU() int { return len(fs.counters) }

// InitRoot allocates the root directory, whose ".." points at itself,
// and returns a LinkRef the caller owns for the lifetime of the mount.
func (fs *FS) InitRoot(cpu int) *LinkRef {
	m := fs.Alloc(cpu, defs.TypeDir)
	m.Dir.SetParent(m.Inum)
	m.Link.Inc()
	return Transfer(m)
}

// Alloc mints a fresh mnode of the given kind, owned by cpu, and
// registers it in the interner. The returned Mnode carries one strong
// reference, which the caller must eventually pair with Transfer (to
// link it) or an explicit Unref (to discard it on an error path).
func (fs *FS) Alloc(cpu int, kind uint8) *Mnode {
	count := fs.counters[cpu%len(fs.counters)].Add(1)
	inum := defs.MkInum(kind, uint8(cpu), count)
	m := &Mnode{Inum: inum, Kind: kind, fs: fs}
	m.refs.Store(1)
	m.epochDead.Store(-1)

	switch kind {
	case defs.TypeDir:
		m.Dir = newDirNode(fs, m, 0)
	case defs.TypeFile:
		m.File = newFileNode(m)
	case defs.TypeDev:
		m.Dev = &DevNode{}
	case defs.TypeSock:
		m.Sock = &SockNode{}
	}

	fs.interner.Store(inum, m)
	return m
}

// Restore re-creates the mnode for an inumber already known (recovered
// from an on-disk inode record), bumping the owning cpu's counter so a
// later Alloc on that cpu never mints a colliding inumber. Unlike
// Alloc, it does not hand the caller a strong reference: a caller
// rebuilding the graph from disk is expected to wire the returned
// mnode into its parent's DirNode (via RestoreEntry) rather than hold
// it open. nlink is left at zero; the caller must set it from the
// on-disk record via Link.Inc() or equivalent before the graph is
// considered consistent.
func (fs *FS) Restore(inum defs.Inum, kind uint8) *Mnode {
	cpu := int(inum.Cpu())
	count := inum.Count()
	for {
		cur := fs.counters[cpu%len(fs.counters)].Load()
		if cur >= count {
			break
		}
		if fs.counters[cpu%len(fs.counters)].CompareAndSwap(cur, count) {
			break
		}
	}

	m := &Mnode{Inum: inum, Kind: kind, fs: fs}
	m.refs.Store(0)
	m.epochDead.Store(-1)

	switch kind {
	case defs.TypeDir:
		m.Dir = newDirNode(fs, m, 0)
	case defs.TypeFile:
		m.File = newFileNode(m)
	case defs.TypeDev:
		m.Dev = &DevNode{}
	case defs.TypeSock:
		m.Sock = &SockNode{}
	}

	fs.interner.Store(inum, m)
	return m
}

// Get resolves an inumber to its live mnode, if the interner still
// holds one. It does not take a reference; callers that intend to
// keep the result should Ref() it (or, more commonly, reach Get only
// through DirNode.Lookup/LookupLink, which return a LinkRef).
func (fs *FS) Get(inum defs.Inum) (*Mnode, bool) {
	return fs.interner.Load(inum)
}

// Delete removes inum from the interner immediately, for a caller
// (ApplyDelete) that has determined the mnode's last link is gone and
// does not want to wait on the refcache epoch sweep to reclaim it.
func (fs *FS) Delete(inum defs.Inum) {
	fs.interner.Delete(inum)
}

// runReclaim advances the refcache epoch and sweeps mnodes that have
// held a zero strong count for at least two epochs, removing them
// from the interner. Kept as its own unexported method (rather than
// only reachable via StartReclaimer) so tests can single-step it
// deterministically.
func (fs *FS) runReclaim() {
	cur := int64(fs.epoch.Add(1))
	fs.interner.Range(func(inum defs.Inum, m *Mnode) bool {
		if m.refs.Load() != 0 {
			return true
		}
		dead := m.epochDead.Load()
		if dead < 0 || cur-dead < 2 {
			return true
		}
		fs.interner.DeleteIf(inum, func(cand *Mnode) bool {
			return cand == m && cand.refs.Load() == 0 && cur-cand.epochDead.Load() >= 2
		})
		return true
	})
}

// StartReclaimer launches a background goroutine that advances the
// refcache epoch on the given interval until Stop is called. This is
// the Go-hosted stand-in for the original's scanning garbage
// collector thread.
func (fs *FS) StartReclaimer(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-fs.stop:
				return
			case <-t.C:
				fs.runReclaim()
			}
		}
	}()
}

// Stop halts the reclaimer goroutine started by StartReclaimer.
func (fs *FS) Stop() {
	close(fs.stop)
}

// DefaultCPUCount returns runtime.GOMAXPROCS(0), the usual shard count
// passed to NewFS.
func DefaultCPUCount() int {
	return runtime.GOMAXPROCS(0)
}
