// Package journal implements C5, the single physical journal that
// every per-CPU logical log ultimately drains into: two-phase
// transaction commit (prolog, data blocks, flush, epilog, flush),
// crash recovery by scanning for matching prolog/epilog pairs, and
// deferred free-bit-vector bookkeeping so a transaction that runs out
// of space partway through can roll back cleanly. Grounded on
// original_source/include/scalefs.hh's transaction and journal
// classes and mfs_interface's jrnl_start/jrnl_data/jrnl_commit
// control-record protocol.
package journal

import (
	"encoding/binary"

	"scalefs/defs"
)

// journalMagic tags a control record (prolog or epilog) so a scan
// that lands on stale or torn data can recognize it is not looking at
// one.
const journalMagic uint32 = 0x5343414c // "SCAL"

const (
	kindProlog uint32 = 1
	kindEpilog uint32 = 2
)

// controlHeaderSize is the fixed portion of a control record: magic,
// kind, timestamp, block count.
const controlHeaderSize = 4 + 4 + 8 + 4

// maxBlocksPerRecord bounds how many block numbers a single prolog
// record can list, set by how many 4-byte entries fit after the fixed
// header in one disk block. This is also the largest transaction
// FitsInJournal will ever accept, matching spec.md §6's closed-form
// on-disk layout.
const maxBlocksPerRecord = (defs.BSIZE - controlHeaderSize) / 4

// controlRecord is a prolog or epilog block: recovery trusts a
// transaction only once it has found a prolog and a matching epilog
// (same timestamp, same block count) bracketing exactly that many
// data blocks.
type controlRecord struct {
	Kind      uint32
	Timestamp uint64
	BlockNums []uint32
}

func encodeControl(rec controlRecord) []byte {
	buf := make([]byte, defs.BSIZE)
	binary.LittleEndian.PutUint32(buf[0:4], journalMagic)
	binary.LittleEndian.PutUint32(buf[4:8], rec.Kind)
	binary.LittleEndian.PutUint64(buf[8:16], rec.Timestamp)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(rec.BlockNums)))
	off := controlHeaderSize
	for _, bno := range rec.BlockNums {
		binary.LittleEndian.PutUint32(buf[off:off+4], bno)
		off += 4
	}
	return buf
}

// decodeControl parses buf as a control record. It returns ok=false if
// the block does not carry the journal magic (i.e. it is an ordinary
// data block, uninitialized space, or torn by a crash), or if the
// encoded block count could not possibly fit in one block.
func decodeControl(buf []byte) (controlRecord, bool) {
	if len(buf) < controlHeaderSize {
		return controlRecord{}, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != journalMagic {
		return controlRecord{}, false
	}
	kind := binary.LittleEndian.Uint32(buf[4:8])
	if kind != kindProlog && kind != kindEpilog {
		return controlRecord{}, false
	}
	ts := binary.LittleEndian.Uint64(buf[8:16])
	n := binary.LittleEndian.Uint32(buf[16:20])
	if n > maxBlocksPerRecord {
		return controlRecord{}, false
	}
	nums := make([]uint32, n)
	off := controlHeaderSize
	for i := range nums {
		nums[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return controlRecord{Kind: kind, Timestamp: ts, BlockNums: nums}, true
}
