// Package mfsiface implements C7: the interface layer that glues the
// mnode graph (package mnode), the per-CPU logical log (package
// oplog), and the physical journal (package journal) into the
// operations spec.md §4 actually names — create, link, unlink,
// delete, rename, fsync, sync_all, recovery at mount. Grounded on
// original_source/include/scalefs.hh's mfs_interface class, which
// plays exactly this role between mfs (mnode) and the journal in the
// original.
package mfsiface

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"scalefs/bitmap"
	"scalefs/blockdev"
	"scalefs/defs"
	"scalefs/journal"
	"scalefs/metrics"
	"scalefs/mnode"
	"scalefs/oplog"
)

// Interface is one mounted filesystem's coordination point. Grounded
// on mfs_interface, which similarly holds a reference to the mfs
// object graph, the per-core logical logs, and the journal.
type Interface struct {
	fs      *mnode.FS
	log     *oplog.Log
	jrn     *journal.Journal
	vec     *bitmap.Vector
	store   *blockdev.Store
	locator InodeLocator
	metrics *metrics.Metrics
	logger  *logrus.Logger

	clock atomic.Uint64
	sf    singleflight.Group

	mu   sync.RWMutex
	root defs.Inum
}

// New wires together an already-constructed mnode graph, logical log,
// physical journal, free-bit vector, block store, inode locator, and
// metrics bundle into one Interface. logger may be nil, in which case
// logrus.StandardLogger() is used.
func New(fs *mnode.FS, log *oplog.Log, jrn *journal.Journal, vec *bitmap.Vector, store *blockdev.Store, locator InodeLocator, m *metrics.Metrics, logger *logrus.Logger) *Interface {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Interface{
		fs: fs, log: log, jrn: jrn, vec: vec, store: store,
		locator: locator, metrics: m, logger: logger,
	}
}

// Mount initializes a fresh root directory on cpu and records it as
// this Interface's root, returning a LinkRef the caller owns for the
// mount's lifetime. Call Recover first if the underlying store might
// already hold a committed journal from a prior mount.
func (i *Interface) Mount(cpu int) *mnode.LinkRef {
	root := i.fs.InitRoot(cpu)
	i.mu.Lock()
	i.root = root.Node.Inum
	i.mu.Unlock()
	return root
}

// LoadRoot resolves the mount's root directory to a fresh LinkRef.
// Mirrors mfs_interface::get_mfs_root.
func (i *Interface) LoadRoot() (*mnode.LinkRef, bool) {
	i.mu.RLock()
	root := i.root
	i.mu.RUnlock()
	m, ok := i.fs.Get(root)
	if !ok {
		return nil, false
	}
	return mnode.Acquire(m), true
}

// Recover replays the physical journal left behind by a prior mount
// (if any), then clears it, logging and counting what it found.
// mfsiface's own responsibility ends with the physical journal: the
// logical log is never itself made durable (spec.md §4.6), so there
// is nothing for this to replay there — a crash only ever loses
// logical operations that had not yet reached Fsync/SyncAll, which is
// precisely what fsync(2) is supposed to guarantee against.
func (i *Interface) Recover() (journal.RecoveryReport, error) {
	report, err := i.jrn.Recover()
	if err != nil {
		i.logger.WithError(err).Error("journal recovery failed")
		return report, err
	}
	i.metrics.RecoveryApplied.Add(float64(report.Applied))
	i.metrics.RecoveryDiscarded.Add(float64(report.Discarded))
	i.logger.WithFields(logrus.Fields{
		"applied":   report.Applied,
		"discarded": report.Discarded,
	}).Info("journal recovery complete")
	return report, nil
}

// timestamp mints the next logical clock value (spec.md §5's
// get_timestamp), used both to order operations within and across
// per-CPU logs and as a physical journal transaction's identifying
// timestamp.
func (i *Interface) timestamp() uint64 {
	return i.clock.Add(1)
}

// MetadataOpStart mints a fresh timestamp for one metadata operation;
// the create and rename paths stamp the oplog.LogicalOp they record
// with it. FindDependentOps does not group ops by timestamp: its walk
// follows the inumbers each op touches. Mirrors mfs_interface::
// metadata_op_start.
func (i *Interface) MetadataOpStart() uint64 {
	return i.timestamp()
}

// MetadataOpEnd is the closing bracket for a MetadataOpStart-bounded
// group of operations. It performs no bookkeeping of its own today;
// it exists so the pairing is explicit at call sites and to leave room
// for a future per-operation-group commit barrier without changing
// every caller's shape. Mirrors mfs_interface::metadata_op_end.
func (i *Interface) MetadataOpEnd(ts uint64) {}

// AddToMetadataLog appends op to the logical log shard owned by cpu,
// without touching the mnode graph. Mirrors mfs_interface::
// add_to_metadata_log. Exported for callers (tests, or a higher layer
// replaying externally-sourced operations) that want to separate
// logging from graph mutation; CreateFile/Link/Unlink/Rename/Delete
// below do both in one call via record.
func (i *Interface) AddToMetadataLog(cpu int, op oplog.LogicalOp) {
	i.log.Add(cpu, op)
}

// record applies op to the mnode graph and, only on success, appends
// it to the logical log — a failed mutation must never be durable.
func (i *Interface) record(cpu int, op oplog.LogicalOp) error {
	if err := op.Apply(i); err != nil {
		return err
	}
	i.AddToMetadataLog(cpu, op)
	return nil
}

func wrapErr(e defs.Err_t) error {
	if e == defs.EOK {
		return nil
	}
	return errors.New(e.String())
}
