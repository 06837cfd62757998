package engine

import (
	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/txn"
)

// ScanDeleteExecutor is spec.md §4.7's scan delete: "same [as point
// delete] but driven by an ordered scan with an early-termination
// predicate."
type ScanDeleteExecutor[K index.Ordered] struct {
	Table    *Table[K]
	MVTO     *mvto.Manager
	Buf      *buffer.Manager
	Lower    K
	Upper    K
	HasUpper bool
	Filter   func(key K, rec *Record) (apply, keepGoing bool)
}

// Execute implements Executor. Like ScanUpdateExecutor, the matching pass
// only reads under RangeScan's shared section; deletions apply in a
// second pass over the index's per-key exclusive section.
func (e *ScanDeleteExecutor[K]) Execute(ctx *txn.Context) bool {
	type match struct {
		key      K
		existing VersionPointer
	}
	var matches []match
	var scanErr bool

	e.Table.Index.RangeScan(e.Lower, e.Upper, e.HasUpper, func(key K, vp VersionPointer) bool {
		state, _, err := e.MVTO.PerformRead(ctx, vp.Header, false, vp.Body.Invalid())
		if err != nil {
			scanErr = true
			return false
		}
		if state != mvto.StateOK {
			return true
		}
		rec, err := e.Table.Heap.Read(e.Buf, vp.Body)
		if err != nil {
			scanErr = true
			return false
		}
		apply, keepGoing := e.Filter(key, rec)
		if apply {
			matches = append(matches, match{key: key, existing: vp})
		}
		return keepGoing
	})
	if scanErr {
		ctx.Result = txn.ResultFailure
		return false
	}

	for _, m := range matches {
		_, found, setIdx, release := e.Table.Index.LookupForUpdate(m.key)
		if !found {
			release()
			continue
		}
		newVP, ok := deleteOne(ctx, e.MVTO, m.key, m.existing)
		if !ok {
			release()
			return false
		}
		setIdx(newVP)
		release()
	}
	return true
}
