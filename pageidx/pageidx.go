// Package pageidx implements C3: the sparse, page-indexed file body
// and its per-page state, grounded on original_source/include/mnode.hh's
// mfile::page_state and mfile::resizer. The original bit-packs four
// flag bits together with a page pointer into one machine word; doing
// the same in Go via unsafe.Pointer/uintptr would be unsound, because
// the garbage collector cannot trace a pointer hidden inside a
// non-pointer-typed integer and could reclaim a page still referenced
// only by its packed bits. This package keeps the bit semantics (a
// page is some combination of valid/dirty/partial, and lockable for
// the duration of a resize or a write-back) but stores the flags in a
// separate atomic.Uint32 next to an atomic.Pointer[PageInfo], per the
// redesign already called for in spec.md §9.
package pageidx

import "sync/atomic"

// Page state flag bits, named to match mnode.hh's FLAG_VALID/
// FLAG_DIRTY/FLAG_PARTIAL/FLAG_LOCK.
const (
	FlagValid uint32 = 1 << iota
	FlagDirty
	FlagPartial
	FlagLock
)

// PageInfo is the payload a PageState slot points at: one BSIZE page
// of file data. Data's length and capacity are the disk block size
// from the moment a page is installed — callers never reslice it
// shorter, so a concurrent CopyConsistent cannot observe a
// partially-resliced buffer.
type PageInfo struct {
	Data []byte
}

// PageState is one slot of a PageIndex: the flags and page pointer for
// a single page offset of a file's body. The zero value is a state
// with no page installed and no flags set, matching an unextended
// sparse array slot.
type PageState struct {
	flags atomic.Uint32
	page  atomic.Pointer[PageInfo]
}

// TryLock attempts to set FlagLock and reports whether it won the
// race. Mirrors mfile::page_state's use of FLAG_LOCK as a bit
// spinlock guarding a resize or write-back against a concurrent one.
func (s *PageState) TryLock() bool {
	for {
		old := s.flags.Load()
		if old&FlagLock != 0 {
			return false
		}
		if s.flags.CompareAndSwap(old, old|FlagLock) {
			return true
		}
	}
}

// Lock spins until it acquires FlagLock. Bit spinlocks never suspend,
// per spec.md §5 — callers must only hold it across non-blocking work.
func (s *PageState) Lock() {
	for !s.TryLock() {
	}
}

// Unlock clears FlagLock.
func (s *PageState) Unlock() {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old&^FlagLock) {
			return
		}
	}
}

func (s *PageState) has(bit uint32) bool {
	return s.flags.Load()&bit != 0
}

func (s *PageState) set(bit uint32) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

func (s *PageState) clear(bit uint32) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// Valid reports whether this slot has a page installed and readable.
func (s *PageState) Valid() bool { return s.has(FlagValid) }

// SetValid marks the slot as holding a readable page.
func (s *PageState) SetValid() { s.set(FlagValid) }

// Dirty reports whether this slot has unwritten-back data.
func (s *PageState) Dirty() bool { return s.has(FlagDirty) }

// SetDirty marks the slot as having data not yet committed to disk.
func (s *PageState) SetDirty() { s.set(FlagDirty) }

// ClearDirty marks the slot's data as committed.
func (s *PageState) ClearDirty() { s.clear(FlagDirty) }

// Partial reports whether the slot's page is valid only up to the
// current file size (the last page of a file whose size is not a
// multiple of BSIZE).
func (s *PageState) Partial() bool { return s.has(FlagPartial) }

// SetPartial marks the slot's page as partially valid.
func (s *PageState) SetPartial() { s.set(FlagPartial) }

// ClearPartial marks the slot's page as fully valid.
func (s *PageState) ClearPartial() { s.clear(FlagPartial) }

// Load atomically returns the installed page, or nil if none.
func (s *PageState) Load() *PageInfo {
	return s.page.Load()
}

// Install atomically installs pi as the slot's page and marks it
// valid. Any previously installed page is dropped.
func (s *PageState) Install(pi *PageInfo) {
	s.page.Store(pi)
	s.SetValid()
}

// CompareAndInstall installs pi only if the current page pointer is
// old, for callers racing to populate the same slot after a page
// fault (see Index.FaultIn). Returns whether it won the race.
func (s *PageState) CompareAndInstall(old, pi *PageInfo) bool {
	if !s.page.CompareAndSwap(old, pi) {
		return false
	}
	s.SetValid()
	return true
}

// CopyConsistent returns a private copy of the page's bytes, taken
// while the slot is locked, mirroring mfile::page_state::copy_consistent
// (invoked there under a scoped_cli so a concurrent writer cannot
// install a new page mid-copy).
func (s *PageState) CopyConsistent() []byte {
	s.Lock()
	defer s.Unlock()
	pi := s.page.Load()
	if pi == nil {
		return nil
	}
	cp := make([]byte, len(pi.Data))
	copy(cp, pi.Data)
	return cp
}
