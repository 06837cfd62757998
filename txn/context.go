package txn

import (
	"github.com/spitfiredb/spitfire/common"
)

// Result is a transaction's terminal (or in-flight) outcome (spec.md §3).
type Result int

const (
	ResultInFlight Result = iota
	ResultSuccess
	ResultFailure
	ResultAborted
)

func (r Result) String() string {
	switch r {
	case ResultInFlight:
		return "IN_FLIGHT"
	case ResultSuccess:
		return "SUCCESS"
	case ResultFailure:
		return "FAILURE"
	case ResultAborted:
		return "ABORTED"
	default:
		return "UNKNOWN_RESULT"
	}
}

// RollbackClosure is the tagged variant of spec.md §9 Design Notes
// ("Rollback closures: ... Represent as a small tagged variant
// {ReinstateIndexEntry(key, saved_bytes), Noop, DeleteIndexEntry(key)} to
// avoid closure capture and keep abort deterministic and serializable").
// It is a Go sum type via an interface with an unexported marker method,
// rather than arbitrary func() closures.
type RollbackClosure interface {
	rollbackMarker()
}

// ReinstateIndexEntry restores an index entry to a prior (key, pointer)
// pair on abort — used when an update replaced the index's pointer to the
// newest version and must point it back at the predecessor. SavedPtr is
// opaque to package txn (an index.Index value, e.g. engine's
// VersionPointer) since the concrete pointer shape is a property of the
// table that recorded the closure, not of the transaction manager.
type ReinstateIndexEntry struct {
	Key      any
	SavedPtr any
}

func (ReinstateIndexEntry) rollbackMarker() {}

// Noop performs no action on abort; recorded so read-only operations still
// have a uniform rollback-map entry where the executor wants one.
type Noop struct{}

func (Noop) rollbackMarker() {}

// DeleteIndexEntry removes an index entry on abort — used when an insert
// created a brand new index entry that must vanish if the inserting
// transaction never commits.
type DeleteIndexEntry struct {
	Key any
}

func (DeleteIndexEntry) rollbackMarker() {}

// VersionWrite is one entry of a transaction's write set: the predecessor
// header it took ownership of (Old) and the new version header it
// installed (New) (spec.md §4.6 ownership protocol steps 2-3).
type VersionWrite struct {
	Old common.TuplePointer
	New common.TuplePointer
}

// rollbackEntry pairs a version write with the closure to run against it,
// preserving insertion order for reverse-order replay (spec.md §4.6
// "abort(ctx): invoke every recorded rollback closure in reverse insertion
// order").
type rollbackEntry struct {
	write   VersionWrite
	closure RollbackClosure
}

// Context is the per-transaction state of spec.md §3 "Transaction
// context".
type Context struct {
	TID      uint64
	ReadTS   uint64
	CommitTS uint64
	Result   Result

	ReadSet  []common.TuplePointer
	WriteSet []VersionWrite

	rollback []rollbackEntry
	owned    map[common.TuplePointer]struct{}
}

// NewContext constructs a fresh in-flight transaction context.
func NewContext(tid, readTS uint64) *Context {
	return &Context{
		TID:    tid,
		ReadTS: readTS,
		Result: ResultInFlight,
		owned:  make(map[common.TuplePointer]struct{}),
	}
}

// RecordRead appends ptr to the read set.
func (c *Context) RecordRead(ptr common.TuplePointer) {
	c.ReadSet = append(c.ReadSet, ptr)
}

// RecordWrite appends a version write to the write set, marks both its
// pointers owned by this transaction, and records its rollback closure
// (spec.md §4.6 ownership protocol step 5).
func (c *Context) RecordWrite(write VersionWrite, closure RollbackClosure) {
	c.WriteSet = append(c.WriteSet, write)
	c.owned[write.Old] = struct{}{}
	c.owned[write.New] = struct{}{}
	c.rollback = append(c.rollback, rollbackEntry{write: write, closure: closure})
}

// Owns reports whether ptr was acquired for write by this context.
func (c *Context) Owns(ptr common.TuplePointer) bool {
	_, ok := c.owned[ptr]
	return ok
}

// RollbackClosures returns the recorded closures in reverse insertion
// order, ready for abort replay.
func (c *Context) RollbackClosures() []RollbackClosure {
	out := make([]RollbackClosure, len(c.rollback))
	for i, e := range c.rollback {
		out[len(out)-1-i] = e.closure
	}
	return out
}
