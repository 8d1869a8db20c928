package oplog

import (
	"sort"
	"sync"
)

// CPULog is one CPU shard's append-only logical log. Grounded on
// scalefs.hh's per-core mfs_logical_log: each core appends operations
// without coordinating with any other core, so appends on different
// shards never contend.
type CPULog struct {
	mu  sync.Mutex
	ops []LogicalOp
}

// Append adds op to the shard's log.
func (c *CPULog) Append(op LogicalOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

// Drain removes and returns every op currently in the shard's log.
func (c *CPULog) Drain() []LogicalOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.ops
	c.ops = nil
	return out
}

// Snapshot returns a copy of the shard's current log without clearing
// it, for a dependency walk that must not disturb ops another
// in-flight commit is about to drain.
func (c *CPULog) Snapshot() []LogicalOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]LogicalOp, len(c.ops))
	copy(cp, c.ops)
	return cp
}

// Log is the full logical log: one CPULog per shard. Callers address
// a shard with an explicit cpu index rather than relying on OS thread
// affinity, since a hosted Go program cannot pin goroutines to CPUs
// the way the kernel pins kernel threads (spec.md §5) — the contract
// (one append-only log per shard, drained under a cross-shard
// snapshot) is preserved; only the mechanism selecting a shard changes.
type Log struct {
	shards []*CPULog
}

// NewLog builds a Log with ncpu shards.
func NewLog(ncpu int) *Log {
	if ncpu < 1 {
		ncpu = 1
	}
	shards := make([]*CPULog, ncpu)
	for i := range shards {
		shards[i] = &CPULog{}
	}
	return &Log{shards: shards}
}

// NumCPU returns how many shards this Log was built with.
func (l *Log) NumCPU() int { return len(l.shards) }

// Add appends op to the shard owned by cpu.
func (l *Log) Add(cpu int, op LogicalOp) {
	l.shards[cpu%len(l.shards)].Append(op)
}

// DrainAll drains every shard and returns their union, sorted by
// timestamp (the order the operations were originally appended in,
// since timestamps are assigned monotonically at append time).
func (l *Log) DrainAll() []LogicalOp {
	var all []LogicalOp
	for _, s := range l.shards {
		all = append(all, s.Drain()...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp() < all[j].Timestamp() })
	return all
}

// SnapshotAll returns a copy of every shard's current log, merged and
// sorted by timestamp, without draining anything.
func (l *Log) SnapshotAll() []LogicalOp {
	var all []LogicalOp
	for _, s := range l.shards {
		all = append(all, s.Snapshot()...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp() < all[j].Timestamp() })
	return all
}

// Remove deletes exactly the given ops from whichever shards hold
// them, by identity. Used after a fsync commits a dependency closure
// computed via SnapshotAll: the ops that made it into the journal
// transaction must come out of the logical log, but any op appended
// by another CPU concurrently with the fsync must survive untouched,
// which ruling out a blanket DrainAll guarantees.
func (l *Log) Remove(ops []LogicalOp) {
	if len(ops) == 0 {
		return
	}
	victims := make(map[LogicalOp]bool, len(ops))
	for _, op := range ops {
		victims[op] = true
	}
	for _, s := range l.shards {
		s.mu.Lock()
		kept := s.ops[:0]
		for _, op := range s.ops {
			if !victims[op] {
				kept = append(kept, op)
			}
		}
		s.ops = kept
		s.mu.Unlock()
	}
}
