package diskinode

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"scalefs/defs"
)

// DirEntry is one on-disk directory entry: a fixed DIRSIZ-byte name
// paired with the inumber it names, matching the classic Unix dirent
// layout spec.md §6 calls for ("exact layout inherited from the
// hosting kernel"). The in-memory DirNode (package mnode) keeps its
// entries in a striped hash map rather than this flat array form;
// this type exists solely for the on-disk representation a directory's
// data block is journaled as.
type DirEntry struct {
	Inum uint64
	Name string
}

const dirEntrySize = 8 + defs.DIRSIZ

// DirEntriesPerBlock is how many DirEntry records fit in one BSIZE
// directory data block.
const DirEntriesPerBlock = defs.BSIZE / dirEntrySize

// EncodeDirBlock packs entries into one BSIZE block, in the given
// order. An all-zero record (Inum 0) marks an unused slot, the same
// convention a classic Unix directory uses for a freed entry. Slots
// beyond len(entries) are left zeroed.
func EncodeDirBlock(entries []DirEntry) ([]byte, error) {
	if len(entries) > DirEntriesPerBlock {
		return nil, errors.Errorf("diskinode: %d directory entries do not fit in one block of %d", len(entries), DirEntriesPerBlock)
	}
	buf := make([]byte, defs.BSIZE)
	for i, e := range entries {
		off := i * dirEntrySize
		binary.LittleEndian.PutUint64(buf[off:], e.Inum)
		copy(buf[off+8:off+dirEntrySize], e.Name)
	}
	return buf, nil
}

// DecodeDirBlock unpacks every occupied slot (Inum != 0) from one
// BSIZE directory data block, in slot order.
func DecodeDirBlock(buf []byte) ([]DirEntry, error) {
	if len(buf) < defs.BSIZE {
		return nil, errors.Errorf("diskinode: directory block too small: got %d bytes, need %d", len(buf), defs.BSIZE)
	}
	var out []DirEntry
	for i := 0; i < DirEntriesPerBlock; i++ {
		off := i * dirEntrySize
		inum := binary.LittleEndian.Uint64(buf[off:])
		if inum == 0 {
			continue
		}
		nameBuf := buf[off+8 : off+dirEntrySize]
		n := 0
		for n < len(nameBuf) && nameBuf[n] != 0 {
			n++
		}
		out = append(out, DirEntry{Inum: inum, Name: string(nameBuf[:n])})
	}
	return out, nil
}
