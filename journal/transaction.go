package journal

import (
	"sort"

	"scalefs/bitmap"
	"scalefs/defs"
)

// TransactionDiskBlock is one block's worth of staged data within a
// Transaction, grounded on scalefs.hh's transaction_diskblock.
type TransactionDiskBlock struct {
	Bno       uint32
	Data      []byte
	Timestamp uint64
}

// Transaction accumulates the block-level effects of one or more
// logical operations (spec.md §4.6) before they are committed to the
// physical journal as a single atomic unit. Grounded on scalefs.hh's
// transaction class; add_unique_block's explicit 4099-bucket
// hashtable is realized here as a plain Go map, since a map already
// gives O(1) dedup by block number without needing a fixed bucket
// count tuned for a kernel allocator.
type Transaction struct {
	blocks  map[uint32]*TransactionDiskBlock
	pending *bitmap.Pending
}

// NewTransaction starts an empty transaction. pending is the
// free-bit-vector staging area this transaction's allocations and
// frees are recorded against; the caller commits or rolls it back
// alongside the transaction itself (see Journal.Commit and
// Journal.Abort).
func NewTransaction(pending *bitmap.Pending) *Transaction {
	return &Transaction{blocks: make(map[uint32]*TransactionDiskBlock), pending: pending}
}

// Pending returns the free-bit-vector staging area backing this
// transaction's allocated/freed blocks.
func (tx *Transaction) Pending() *bitmap.Pending {
	return tx.pending
}

// addBlock stages data for bno, keeping whichever of the new write and
// any existing staged write for the same block has the later
// timestamp (last-writer-wins), matching add_unique_block's dedup
// rule. AddBlock and AddUniqueBlock differ in the original only in
// whether a duplicate bno was expected to be rare (AddBlock) or common
// enough to dedup eagerly (AddUniqueBlock); a Go map makes that
// distinction immaterial, so both call this.
func (tx *Transaction) addBlock(bno uint32, data []byte, timestamp uint64) {
	cp := make([]byte, len(data))
	copy(cp, data)
	if existing, ok := tx.blocks[bno]; ok {
		if timestamp >= existing.Timestamp {
			existing.Data = cp
			existing.Timestamp = timestamp
		}
		return
	}
	tx.blocks[bno] = &TransactionDiskBlock{Bno: bno, Data: cp, Timestamp: timestamp}
}

// AddBlock stages a write to bno.
func (tx *Transaction) AddBlock(bno uint32, data []byte, timestamp uint64) {
	tx.addBlock(bno, data, timestamp)
}

// AddUniqueBlock stages a write to bno, deduplicating against any
// other write to the same block already staged in this transaction.
func (tx *Transaction) AddUniqueBlock(bno uint32, data []byte, timestamp uint64) {
	tx.addBlock(bno, data, timestamp)
}

// StagedBlock returns the data currently staged for bno within this
// transaction, if any. A caller building up a transaction from
// several independent read-modify-write steps that may land on the
// same physical block (e.g. mfsiface staging two inodes packed into
// one inode block) must check here first, rather than re-reading the
// block's pre-transaction contents from the store a second time and
// clobbering the first step's change.
func (tx *Transaction) StagedBlock(bno uint32) ([]byte, bool) {
	b, ok := tx.blocks[bno]
	if !ok {
		return nil, false
	}
	return b.Data, true
}

// AddAllocatedBlock allocates a fresh block from vec and stages a
// write to it in the same motion, returning the block number. The
// allocation is undone automatically if the transaction is later
// rolled back (see Journal.Abort).
func (tx *Transaction) AddAllocatedBlock(vec *bitmap.Vector, data []byte, timestamp uint64) (uint32, bool) {
	bno, err := tx.pending.Alloc(vec)
	if err != defs.EOK {
		return 0, false
	}
	tx.addBlock(bno, data, timestamp)
	return bno, true
}

// AddFreeBlock stages bno for release once the transaction commits.
func (tx *Transaction) AddFreeBlock(bno uint32) {
	tx.pending.Free(bno)
}

// NumBlocks reports how many distinct blocks are currently staged.
func (tx *Transaction) NumBlocks() int {
	return len(tx.blocks)
}

// PrepareForCommit returns the transaction's staged blocks sorted by
// block number, strictly increasing and unique (the dedup in addBlock
// already guarantees uniqueness; the sort gives commit a deterministic
// write order independent of map iteration).
func (tx *Transaction) PrepareForCommit() []*TransactionDiskBlock {
	list := make([]*TransactionDiskBlock, 0, len(tx.blocks))
	for _, b := range tx.blocks {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Bno < list[j].Bno })
	return list
}
