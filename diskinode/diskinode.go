// Package diskinode implements C10: the fixed-layout on-disk inode
// record named in spec.md §6 (type, nlink, major/minor, size, direct
// and indirect block pointers), and its packing into whole inode
// blocks. Grounded on the teacher's biscuit/src/stat/stat.go, which
// views a Stat_t as a fixed-layout byte buffer via an unsafe pointer
// cast; this package gets the same fixed layout with
// encoding/binary.LittleEndian instead, since spec.md §6 requires a
// portable wire format and an unsafe cast would bake in the host's
// native endianness.
package diskinode

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"scalefs/defs"
)

// NumDirect is how many direct block pointers an inode record carries
// before falling back to its single indirect block, matching the
// classic Unix inode shape spec.md §6 describes.
const NumDirect = 10

// Size is the encoded byte length of one inode record: 1 (type) + 2
// (nlink) + 2 (major) + 2 (minor) + 4 (size) + NumDirect*4 (direct) + 4
// (indirect) = 55 bytes, with no padding: records are packed
// back to back within a block.
const Size = 1 + 2 + 2 + 2 + 4 + NumDirect*4 + 4

// PerBlock is how many inode records fit in one disk block.
const PerBlock = defs.BSIZE / Size

// Inode is the decoded form of one on-disk inode record.
type Inode struct {
	Type     uint8
	Nlink    int16
	Major    int16
	Minor    int16
	Size     uint32
	Direct   [NumDirect]uint32
	Indirect uint32
}

// Encode writes ino's fixed-layout record into buf, which must be at
// least Size bytes.
func Encode(ino *Inode, buf []byte) error {
	if len(buf) < Size {
		return errors.Errorf("diskinode: buffer too small: got %d bytes, need %d", len(buf), Size)
	}
	off := 0
	buf[off] = ino.Type
	off++
	binary.LittleEndian.PutUint16(buf[off:], uint16(ino.Nlink))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(ino.Major))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(ino.Minor))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], ino.Size)
	off += 4
	for i := 0; i < NumDirect; i++ {
		binary.LittleEndian.PutUint32(buf[off:], ino.Direct[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], ino.Indirect)
	return nil
}

// Decode reads one fixed-layout record from buf, which must be at
// least Size bytes.
func Decode(buf []byte) (*Inode, error) {
	if len(buf) < Size {
		return nil, errors.Errorf("diskinode: buffer too small: got %d bytes, need %d", len(buf), Size)
	}
	ino := &Inode{}
	off := 0
	ino.Type = buf[off]
	off++
	ino.Nlink = int16(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	ino.Major = int16(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	ino.Minor = int16(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	ino.Size = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	for i := 0; i < NumDirect; i++ {
		ino.Direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	ino.Indirect = binary.LittleEndian.Uint32(buf[off:])
	return ino, nil
}

// EncodeBlock packs up to PerBlock inodes into one BSIZE block, in
// slot order. Slots beyond len(inodes) are left zeroed (an all-zero
// record decodes as Type 0, never a valid mnode type).
func EncodeBlock(inodes []*Inode) ([]byte, error) {
	if len(inodes) > PerBlock {
		return nil, errors.Errorf("diskinode: %d inodes do not fit in one block of %d", len(inodes), PerBlock)
	}
	buf := make([]byte, defs.BSIZE)
	for i, ino := range inodes {
		if ino == nil {
			continue
		}
		if err := Encode(ino, buf[i*Size:(i+1)*Size]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeBlock unpacks every inode slot (valid or not) from one BSIZE
// block. Callers distinguish an unused slot by its Type field being 0.
func DecodeBlock(buf []byte) ([]*Inode, error) {
	if len(buf) < defs.BSIZE {
		return nil, errors.Errorf("diskinode: block too small: got %d bytes, need %d", len(buf), defs.BSIZE)
	}
	out := make([]*Inode, PerBlock)
	for i := range out {
		ino, err := Decode(buf[i*Size : (i+1)*Size])
		if err != nil {
			return nil, err
		}
		out[i] = ino
	}
	return out, nil
}

// SlotFor returns the inode block number and in-block slot index for
// inode number n, given the on-disk inode region's first block.
func SlotFor(firstBlock uint32, n uint32) (block uint32, slot int) {
	return firstBlock + n/uint32(PerBlock), int(n % uint32(PerBlock))
}
