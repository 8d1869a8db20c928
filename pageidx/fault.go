package pageidx

import "fmt"

// PageFault is returned in place of an error by a page-index lookup
// that found no resident page. It replaces the original's blocking_io
// C++ exception with the explicit Ready|NeedsIO retry marker spec.md's
// REDESIGN FLAGS section calls for: a caller that gets a *PageFault is
// expected to load the page (e.g. read it from the BlockStore) and
// call Index's installer, then retry the lookup, rather than have the
// page index itself block while holding any lock.
type PageFault struct {
	PageIdx int
}

func (f *PageFault) Error() string {
	return fmt.Sprintf("pageidx: page %d not resident, needs io", f.PageIdx)
}

// Loader fetches a page's contents from the backing store. Passed to
// FaultIn by callers that want the fault-then-install loop done for
// them rather than handling *PageFault themselves.
type Loader interface {
	LoadPage(pageIdx int) (*PageInfo, error)
}

// GetPage returns the resident page at pageIdx, or a *PageFault if
// none is installed yet.
func (ix *Index) GetPage(pageIdx int) (*PageInfo, error) {
	s := ix.Get(pageIdx)
	if s.Valid() {
		if pi := s.Load(); pi != nil {
			return pi, nil
		}
	}
	return nil, &PageFault{PageIdx: pageIdx}
}

// FaultIn resolves a page fault by calling loader and installing the
// result, returning whichever PageInfo ends up resident (the loaded
// one, or another goroutine's if it won the race to install first).
func (ix *Index) FaultIn(pageIdx int, loader Loader) (*PageInfo, error) {
	s := ix.Get(pageIdx)
	if s.Valid() {
		if pi := s.Load(); pi != nil {
			return pi, nil
		}
	}
	pi, err := loader.LoadPage(pageIdx)
	if err != nil {
		return nil, err
	}
	if !s.CompareAndInstall(nil, pi) {
		if existing := s.Load(); existing != nil {
			return existing, nil
		}
	}
	return pi, nil
}
