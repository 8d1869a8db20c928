package pageidx

import (
	"sync"
	"sync/atomic"
)

// level2Fanout is the number of PageState slots in one second-level
// block. A file's pages are addressed as (pageIdx / level2Fanout,
// pageIdx % level2Fanout), so small files (the overwhelming common
// case) touch exactly one level2 block.
const level2Fanout = 512

type level2 struct {
	slots [level2Fanout]PageState
}

// Index is the sparse, two-level page table behind one file's body
// (spec.md §4.4). The top level grows under a mutex (file extension
// is rare relative to page reads/writes); each top-level slot is an
// atomic.Pointer[level2] so concurrent readers/writers of already
// up-sized slots never take that mutex, and two goroutines racing to
// materialize the same level2 block resolve the race with a single
// CAS rather than a lock.
type Index struct {
	mu  sync.RWMutex
	top []atomic.Pointer[level2]
}

// NewIndex returns an empty page index.
func NewIndex() *Index {
	return &Index{}
}

func topIdx(pageIdx int) (top, sub int) {
	return pageIdx / level2Fanout, pageIdx % level2Fanout
}

// grow ensures the top slice has at least n entries, extending it
// under the write lock if not. Existing *atomic.Pointer[level2] values
// already handed out remain valid: append only ever grows the backing
// array forward, and callers that already hold an RLock from before a
// concurrent grow keep reading the pre-grow backing array, which is
// never mutated in place.
func (ix *Index) grow(n int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.top) >= n {
		return
	}
	grown := make([]atomic.Pointer[level2], n)
	copy(grown, ix.top)
	ix.top = grown
}

// slot returns the PageState for pageIdx, materializing the top-level
// entry and the level2 block on demand.
func (ix *Index) slot(pageIdx int) *PageState {
	top, sub := topIdx(pageIdx)

	ix.mu.RLock()
	needGrow := top >= len(ix.top)
	ix.mu.RUnlock()
	if needGrow {
		ix.grow(top + 1)
	}

	ix.mu.RLock()
	slotPtr := &ix.top[top]
	ix.mu.RUnlock()

	l2 := slotPtr.Load()
	if l2 == nil {
		fresh := &level2{}
		if !slotPtr.CompareAndSwap(nil, fresh) {
			l2 = slotPtr.Load()
		} else {
			l2 = fresh
		}
	}
	return &l2.slots[sub]
}

// Get returns the PageState for pageIdx without installing anything,
// materializing table structure as needed but leaving the slot's page
// pointer untouched.
func (ix *Index) Get(pageIdx int) *PageState {
	return ix.slot(pageIdx)
}

// NumPages reports how many page slots are currently addressable
// (i.e. the number of top-level entries times the fanout).
func (ix *Index) NumPages() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.top) * level2Fanout
}

// ForEachValid calls fn for every page slot with FlagValid set, in
// ascending page-index order, stopping early if fn returns false.
// Used by fsync to find dirty pages and by enumerate-like callers that
// need a consistent walk of a file's materialized pages.
func (ix *Index) ForEachValid(fn func(pageIdx int, s *PageState) bool) {
	ix.mu.RLock()
	tops := ix.top
	ix.mu.RUnlock()
	for t := range tops {
		l2 := tops[t].Load()
		if l2 == nil {
			continue
		}
		for s := range l2.slots {
			ps := &l2.slots[s]
			if !ps.Valid() {
				continue
			}
			if !fn(t*level2Fanout+s, ps) {
				return
			}
		}
	}
}
