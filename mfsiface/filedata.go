package mfsiface

import (
	"github.com/pkg/errors"

	"scalefs/defs"
	"scalefs/diskinode"
	"scalefs/pageidx"
)

// maxDirectBytes is the largest file size this module's write path
// supports: diskinode.NumDirect direct pointers, one BSIZE page each.
// See stageFileBlocks for why the indirect pointer is never populated.
const maxDirectBytes = uint64(diskinode.NumDirect) * defs.BSIZE

// Write copies data into inum's page cache starting at offset, growing
// the file if the write extends past its current size. The write only
// becomes durable once the caller Fsyncs inum; until then it lives
// purely in the mnode's page index, mirroring mfile's page-cache-only
// writes that sync_file later flushes through the journal (spec.md
// §4.1).
func (i *Interface) Write(inum defs.Inum, offset uint64, data []byte) error {
	m, ok := i.fs.Get(inum)
	if !ok {
		return wrapErr(defs.ENOTFOUND)
	}
	if m.File == nil {
		return wrapErr(defs.EISDIR)
	}

	end := offset + uint64(len(data))
	if end > maxDirectBytes {
		return errors.Errorf("mfsiface: write to offset %d, length %d exceeds this module's %d-byte direct-block limit", offset, len(data), maxDirectBytes)
	}

	if end > m.File.Size() {
		r := m.File.Resize()
		e := r.Append(end)
		r.Release()
		if e != defs.EOK {
			return wrapErr(e)
		}
	}

	loader := &diskPageLoader{i: i, inum: inum}
	remaining := data
	pos := offset
	for len(remaining) > 0 {
		pageIdx := int(pos / defs.BSIZE)
		pageOff := int(pos % defs.BSIZE)
		n := defs.BSIZE - pageOff
		if n > len(remaining) {
			n = len(remaining)
		}

		pi, err := m.File.FaultIn(pageIdx, loader)
		if err != nil {
			return err
		}
		s := m.File.Pages().Get(pageIdx)
		s.Lock()
		copy(pi.Data[pageOff:pageOff+n], remaining[:n])
		s.SetDirty()
		s.Unlock()

		remaining = remaining[n:]
		pos += uint64(n)
	}
	return nil
}

// Read copies up to length bytes of inum's body starting at offset,
// faulting in from disk whatever pages are not already resident in
// the page cache.
func (i *Interface) Read(inum defs.Inum, offset uint64, length int) ([]byte, error) {
	m, ok := i.fs.Get(inum)
	if !ok {
		return nil, wrapErr(defs.ENOTFOUND)
	}
	if m.File == nil {
		return nil, wrapErr(defs.EISDIR)
	}

	size := m.File.Size()
	if offset >= size {
		return nil, nil
	}
	if offset+uint64(length) > size {
		length = int(size - offset)
	}

	loader := &diskPageLoader{i: i, inum: inum}
	out := make([]byte, 0, length)
	pos := offset
	remaining := length
	for remaining > 0 {
		pageIdx := int(pos / defs.BSIZE)
		pageOff := int(pos % defs.BSIZE)
		n := defs.BSIZE - pageOff
		if n > remaining {
			n = remaining
		}

		pi, err := m.File.FaultIn(pageIdx, loader)
		if err != nil {
			return nil, err
		}
		out = append(out, pi.Data[pageOff:pageOff+n]...)
		pos += uint64(n)
		remaining -= n
	}
	return out, nil
}

// diskPageLoader implements pageidx.Loader by reading the direct block
// a file's on-disk inode record currently names for a page index,
// zero-filling a page that was never written back (the common case
// for a page in a freshly extended but not-yet-synced file).
type diskPageLoader struct {
	i    *Interface
	inum defs.Inum
}

func (l *diskPageLoader) LoadPage(pageIdx int) (*pageidx.PageInfo, error) {
	bno, err := l.i.directBlockFor(l.inum, pageIdx)
	if err != nil {
		return nil, err
	}
	if bno == 0 {
		return &pageidx.PageInfo{Data: make([]byte, defs.BSIZE)}, nil
	}
	buf, err := l.i.store.ReadBlock(bno)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, defs.BSIZE)
	copy(cp, buf)
	return &pageidx.PageInfo{Data: cp}, nil
}

// directBlockFor reads inum's current on-disk inode record (not
// whatever a not-yet-committed transaction might be staging) to find
// the block backing pageIdx.
func (i *Interface) directBlockFor(inum defs.Inum, pageIdx int) (uint32, error) {
	if pageIdx >= diskinode.NumDirect {
		return 0, errors.Errorf("mfsiface: page %d is beyond this module's direct-block range", pageIdx)
	}
	block, slot := i.locator.Locate(inum)
	buf, err := i.store.ReadBlock(block)
	if err != nil {
		return 0, err
	}
	slots, err := diskinode.DecodeBlock(buf)
	if err != nil {
		return 0, err
	}
	return slots[slot].Direct[pageIdx], nil
}
