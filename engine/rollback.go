package engine

import (
	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/status"
	"github.com/spitfiredb/spitfire/txn"
)

// Rollback applies one recorded closure against this table's index,
// undoing the index-visible effect of a write the aborting transaction
// made (spec.md §4.6 "abort(ctx): invoke every recorded rollback closure").
// Table[K] is the only collaborator that knows both the concrete key type
// K and which index instance a closure's Key/SavedPtr belong to, which is
// why mvto.Manager.Abort takes this as a caller-supplied callback rather
// than performing the dispatch itself.
func (t *Table[K]) Rollback(rc txn.RollbackClosure) error {
	switch c := rc.(type) {
	case txn.Noop:
		return nil

	case txn.DeleteIndexEntry:
		key, ok := c.Key.(K)
		if !ok {
			return errors.Wrap(status.ErrInvariantViolation, "rollback closure key type mismatch")
		}
		t.Index.Delete(key)
		return nil

	case txn.ReinstateIndexEntry:
		key, ok := c.Key.(K)
		if !ok {
			return errors.Wrap(status.ErrInvariantViolation, "rollback closure key type mismatch")
		}
		saved, ok := c.SavedPtr.(VersionPointer)
		if !ok {
			return errors.Wrap(status.ErrInvariantViolation, "rollback closure saved pointer type mismatch")
		}
		_, _, set, release := t.Index.LookupForUpdate(key)
		set(saved)
		release()
		return nil

	default:
		return errors.Wrap(status.ErrInvariantViolation, "unrecognised rollback closure variant")
	}
}

// RollbackDispatch adapts Table[K].Rollback into the
// func(txn.RollbackClosure) error shape mvto.Manager.Abort expects.
func RollbackDispatch[K index.Ordered](t *Table[K]) func(txn.RollbackClosure) error {
	return t.Rollback
}
