package mnode

import (
	"sync"
	"sync/atomic"

	"scalefs/defs"
	"scalefs/pageidx"
)

// FileNode is a regular file's body: a seqlock-protected size and a
// sparse, page-indexed content area. Grounded on mnode.hh's mfile
// class. The original's page_state bit-packing lives in package
// pageidx (see pageidx/pageidx.go for why); FileNode only owns the
// size seqlock, the resize_lock serializing concurrent resizes, and
// the fsync_lock spec.md §4.1 calls out as already serializing fsync
// at the mnode level.
type FileNode struct {
	self *Mnode

	seq  atomic.Uint64
	size atomic.Uint64

	pages *pageidx.Index

	resizeMu sync.Mutex
	fsyncMu  sync.Mutex
}

func newFileNode(self *Mnode) *FileNode {
	return &FileNode{self: self, pages: pageidx.NewIndex()}
}

// Size returns the file's current size via a seqlock read: it retries
// whenever it observes a resize in progress, never blocking the
// writer, matching "seqlock-protected file size... never suspend" in
// spec.md §5.
func (f *FileNode) Size() uint64 {
	for {
		s1 := f.seq.Load()
		if s1&1 != 0 {
			continue
		}
		sz := f.size.Load()
		s2 := f.seq.Load()
		if s1 == s2 {
			return sz
		}
	}
}

func (f *FileNode) setSize(sz uint64) {
	f.seq.Add(1)
	f.size.Store(sz)
	f.seq.Add(1)
}

// Pages returns the file's page index, for callers (mfsiface) that
// need to populate or write back individual pages.
func (f *FileNode) Pages() *pageidx.Index {
	return f.pages
}

// GetPage returns the resident page at pageIdx, or a *pageidx.PageFault
// if the caller must load it first.
func (f *FileNode) GetPage(pageIdx int) (*pageidx.PageInfo, error) {
	return f.pages.GetPage(pageIdx)
}

// FaultIn resolves a page fault at pageIdx using loader, installing
// whichever PageInfo ends up resident.
func (f *FileNode) FaultIn(pageIdx int, loader pageidx.Loader) (*pageidx.PageInfo, error) {
	return f.pages.FaultIn(pageIdx, loader)
}

// WithFsyncLock serializes fn against any other fsync of this file,
// mirroring mfile's fsync_lock. Callers that want cross-file-
// descriptor fsync coalescing layer golang.org/x/sync/singleflight on
// top of this at the mfsiface boundary (spec.md §4.3); this lock alone
// only guarantees one fsync per mnode runs at a time.
func (f *FileNode) WithFsyncLock(fn func() error) error {
	f.fsyncMu.Lock()
	defer f.fsyncMu.Unlock()
	return fn()
}

// Resizer is an RAII-style token for a resize in progress, mirroring
// mfile::resizer: acquiring one takes resize_lock, and the caller must
// Release it exactly once (typically via defer) to let the next
// resize proceed.
type Resizer struct {
	file     *FileNode
	released bool
}

// Resize acquires the resize lock and returns a token permitting the
// caller to change the file's size. The lock is a sleeping mutex, per
// spec.md §5 — resizes are rare enough relative to reads/writes that
// blocking here is acceptable.
func (f *FileNode) Resize() *Resizer {
	f.resizeMu.Lock()
	return &Resizer{file: f}
}

// Append grows the file to newSize, failing with EINVAL if newSize is
// not larger than the current size. Mirrors resizer::resize_append.
func (r *Resizer) Append(newSize uint64) defs.Err_t {
	if newSize <= r.file.Size() {
		return defs.EINVAL
	}
	r.file.setSize(newSize)
	return defs.EOK
}

// Truncate sets the file's size to newSize without requiring growth,
// for both shrinking and setting an identical size. Mirrors
// resizer::resize_nogrow.
func (r *Resizer) Truncate(newSize uint64) defs.Err_t {
	r.file.setSize(newSize)
	return defs.EOK
}

// InitializeFromDisk sets the file's size during load from an on-disk
// inode, before any reader could have observed a different value.
// Mirrors resizer::initialize_from_disk.
func (r *Resizer) InitializeFromDisk(size uint64) {
	r.file.setSize(size)
}

// Release gives back the resize lock. Safe to call at most
// meaningfully once.
func (r *Resizer) Release() {
	if r.released {
		return
	}
	r.released = true
	r.file.resizeMu.Unlock()
}

// DevNode is a device special file's identity: a major/minor pair, per
// spec.md §6's inode layout. Grounded on the teacher's
// biscuit/src/defs/device.go Mkdev/Unmkdev packing, kept unpacked here
// since nothing in this module needs the packed wire form outside the
// on-disk inode codec (see package diskinode).
type DevNode struct {
	Major int
	Minor int
}

// SockNode is a Unix-domain socket special file. Sockets carry no
// filesystem-visible state beyond their mnode identity; the socket
// implementation itself is an external collaborator, per spec.md §1.
type SockNode struct{}
