// Package mvto implements the multi-version timestamp-ordering transaction
// manager of spec.md §4.6: timestamps, visibility, ownership acquisition,
// and commit/abort. It is grounded on the teacher's striped-table shape
// (bufmgr.go's HashEntry stripe table) reused at a coarser granularity for
// the active-transaction table (SPEC_FULL.md §4.6), and on the txn
// package for header storage and transaction context.
package mvto

import (
	"github.com/spitfiredb/spitfire/txn"
)

// State is a tuple version's visibility outcome for a given reader
// (spec.md §4.6 "Visibility rule").
type State int

const (
	StateOK State = iota
	StateDeleted
	StateInvisible
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateDeleted:
		return "DELETED"
	case StateInvisible:
		return "INVISIBLE"
	case StateInvalid:
		return "INVALID"
	default:
		return "UNKNOWN_STATE"
	}
}

// Visibility implements spec.md §4.6's visibility rule for version h under
// ctx. isTombstone indicates whether the record this header points at is a
// delete marker (the hard header itself carries no tombstone bit; a
// tombstone is a version with no record body, i.e. an invalid body pointer).
func Visibility(h txn.Header, ctx *txn.Context, isTombstone bool) State {
	if h.BeginCID != txn.Infinity && h.EndCID != txn.Infinity && h.EndCID < h.BeginCID {
		return StateInvalid
	}

	visibleInterval := h.BeginCID <= ctx.ReadTS && ctx.ReadTS < h.EndCID
	ownedByMeOrNoOne := h.TransactionID == txn.NoOwner || h.TransactionID == ctx.TID

	if visibleInterval && ownedByMeOrNoOne {
		if isTombstone {
			return StateDeleted
		}
		return StateOK
	}
	return StateInvisible
}
