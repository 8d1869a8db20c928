package journal

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"scalefs/bitmap"
	"scalefs/blockdev"
	"scalefs/defs"
)

// Applier writes one recovered or newly-committed block through to
// its real home outside the journal region (the buffer cache, in the
// original; here, directly back to the block device's data area).
type Applier interface {
	Apply(bno uint32, data []byte) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(bno uint32, data []byte) error

// Apply implements Applier.
func (f ApplierFunc) Apply(bno uint32, data []byte) error { return f(bno, data) }

// Journal is the physical journal: a fixed, contiguous, circular
// region of blocks that every committed Transaction is durably
// recorded into before any of its writes are applied to their real
// locations. Grounded on scalefs.hh's journal class.
type Journal struct {
	store  *blockdev.Store
	vec    *bitmap.Vector
	apply  Applier
	first  uint32 // first block number of the journal region
	length uint32 // number of blocks in the journal region

	mu     sync.Mutex
	offset uint32 // next free block offset within the journal region
}

// New builds a Journal over [first, first+length) blocks of store,
// applying committed/recovered writes through apply and staging
// allocations against vec.
func New(store *blockdev.Store, vec *bitmap.Vector, apply Applier, first, length uint32) *Journal {
	return &Journal{store: store, vec: vec, apply: apply, first: first, length: length}
}

func (j *Journal) physicalBlock(offset uint32) uint32 {
	return j.first + offset%j.length
}

// FitsInJournal reports whether tx could be committed without
// exceeding the journal region's capacity: a prolog record, an epilog
// record, and one block per staged write.
func (j *Journal) FitsInJournal(tx *Transaction) bool {
	need := uint32(tx.NumBlocks()) + 2
	return need <= j.length && tx.NumBlocks() <= maxBlocksPerRecord
}

// Commit durably records tx via two-phase commit — prolog, data
// blocks (written asynchronously, then awaited), a flush barrier,
// epilog, a second flush barrier — and only then applies its writes
// to their real locations and commits its staged free-bit-vector
// changes. A failure up to and including the flush after the epilog
// rolls the free-bit-vector staging back, per scalefs.hh's
// ENOSPC-mid-transaction handling, and leaves the journal's write
// offset where it was, so the next commit overwrites whatever this one
// had written. A failure while applying the committed blocks returns
// the error without rolling back and without committing the staging:
// by then the epilog is durable.
func (j *Journal) Commit(tx *Transaction, timestamp uint64) error {
	if !j.FitsInJournal(tx) {
		j.vec.Rollback(tx.pending)
		return errors.Errorf("journal: transaction with %d blocks does not fit in a %d-block journal", tx.NumBlocks(), j.length)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries := tx.PrepareForCommit()
	bnos := make([]uint32, len(entries))
	for i, e := range entries {
		bnos[i] = e.Bno
	}

	startOffset := j.offset
	prologOffset := startOffset
	if err := j.store.WriteBlock(j.physicalBlock(prologOffset), encodeControl(controlRecord{
		Kind: kindProlog, Timestamp: timestamp, BlockNums: bnos,
	})); err != nil {
		j.vec.Rollback(tx.pending)
		return errors.Wrap(err, "journal: write prolog")
	}

	dataOffset := prologOffset + 1
	completions := make([]*blockdev.Completion, len(entries))
	for i, e := range entries {
		completions[i] = j.store.WriteBlockAsync(j.physicalBlock(dataOffset+uint32(i)), e.Data)
	}
	for _, c := range completions {
		if err := c.Wait(); err != nil {
			j.vec.Rollback(tx.pending)
			return errors.Wrap(err, "journal: write data block")
		}
	}
	if err := j.store.Flush(); err != nil {
		j.vec.Rollback(tx.pending)
		return errors.Wrap(err, "journal: flush before epilog")
	}

	epilogOffset := dataOffset + uint32(len(entries))
	if err := j.store.WriteBlock(j.physicalBlock(epilogOffset), encodeControl(controlRecord{
		Kind: kindEpilog, Timestamp: timestamp, BlockNums: bnos,
	})); err != nil {
		j.vec.Rollback(tx.pending)
		return errors.Wrap(err, "journal: write epilog")
	}
	if err := j.store.Flush(); err != nil {
		j.vec.Rollback(tx.pending)
		return errors.Wrap(err, "journal: flush after epilog")
	}

	j.offset = epilogOffset + 1

	for _, e := range entries {
		if err := j.apply.Apply(e.Bno, e.Data); err != nil {
			return errors.Wrap(err, "journal: apply committed block")
		}
	}
	j.vec.Commit(tx.pending)
	return nil
}

// Abort discards tx without committing it, rolling back any blocks it
// had tentatively allocated.
func (j *Journal) Abort(tx *Transaction) {
	j.vec.Rollback(tx.pending)
}

// recoveredTransaction is one prolog/epilog-bracketed run found during
// a scan of the journal region.
type recoveredTransaction struct {
	timestamp uint64
	blocks    []*TransactionDiskBlock
}

// RecoveryReport summarizes what Recover found, for the caller
// (mfsiface) to log: the number of transactions replayed and the
// number discarded.
type RecoveryReport struct {
	Applied   int
	Discarded int
}

// Recover scans the journal region from its first block, looking for
// prolog/epilog pairs with matching timestamps and block counts, and
// applies every valid transaction it finds, sorted by timestamp (the
// order they were originally committed in). The first position that
// does not decode as a well-formed, matching prolog/epilog pair ends
// the scan: anything after it is either free space or the tail of a
// transaction that was torn by the crash, and scalefs.hh's recovery
// deliberately does not try to recover a transaction whose epilog
// never made it to disk, since an uncommitted transaction was never
// supposed to be visible. After applying every recovered transaction,
// the journal region is cleared so a second Recover call is a no-op.
func (j *Journal) Recover() (RecoveryReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var found []recoveredTransaction
	var offset uint32
	discarded := 0

	for offset < j.length {
		prologBuf, err := j.store.ReadBlock(j.physicalBlock(offset))
		if err != nil {
			return RecoveryReport{}, errors.Wrap(err, "journal: recover: read prolog candidate")
		}
		prolog, ok := decodeControl(prologBuf)
		if !ok || prolog.Kind != kindProlog {
			break
		}

		n := uint32(len(prolog.BlockNums))
		if offset+2+n > j.length {
			discarded++
			break
		}

		blocks := make([]*TransactionDiskBlock, n)
		ok = true
		for i := uint32(0); i < n; i++ {
			buf, err := j.store.ReadBlock(j.physicalBlock(offset + 1 + i))
			if err != nil {
				return RecoveryReport{}, errors.Wrap(err, "journal: recover: read data block")
			}
			blocks[i] = &TransactionDiskBlock{Bno: prolog.BlockNums[i], Data: buf, Timestamp: prolog.Timestamp}
		}

		epilogBuf, err := j.store.ReadBlock(j.physicalBlock(offset + 1 + n))
		if err != nil {
			return RecoveryReport{}, errors.Wrap(err, "journal: recover: read epilog candidate")
		}
		epilog, eok := decodeControl(epilogBuf)
		if !eok || epilog.Kind != kindEpilog || epilog.Timestamp != prolog.Timestamp || uint32(len(epilog.BlockNums)) != n {
			discarded++
			break
		}

		found = append(found, recoveredTransaction{timestamp: prolog.Timestamp, blocks: blocks})
		offset += 2 + n
	}

	sort.Slice(found, func(i, k int) bool { return found[i].timestamp < found[k].timestamp })

	applied := 0
	for _, tx := range found {
		for _, b := range tx.blocks {
			if err := j.apply.Apply(b.Bno, b.Data); err != nil {
				return RecoveryReport{}, errors.Wrap(err, "journal: recover: apply recovered block")
			}
		}
		applied++
	}

	j.offset = 0
	if err := j.clearAtLocked(0); err != nil {
		return RecoveryReport{}, err
	}

	return RecoveryReport{Applied: applied, Discarded: discarded}, nil
}

// ClearJournal invalidates the journal region's first block so a
// subsequent Recover finds nothing to replay, and resets the write
// offset to the start of the region. Commit does not call it:
// committed transactions stay in the region until Recover or
// ClearJournal resets it.
func (j *Journal) ClearJournal() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.offset = 0
	return j.clearAtLocked(0)
}

func (j *Journal) clearAtLocked(offset uint32) error {
	zero := make([]byte, defs.BSIZE)
	return j.store.WriteBlock(j.physicalBlock(offset), zero)
}

// Offset returns the journal's current write offset, in blocks from
// the start of its region, for tests that want to assert the journal
// wraps or resets as expected.
func (j *Journal) Offset() uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.offset
}
