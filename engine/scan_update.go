package engine

import (
	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/txn"
)

// ScanUpdateExecutor is spec.md §4.7's scan update: "same [as point
// update] but driven by an ordered scan with an early-termination
// predicate." Filter is consulted for every visible row in [Lower, Upper):
// it returns whether that row should be updated and whether the scan
// should continue past it.
type ScanUpdateExecutor[K index.Ordered] struct {
	Table    *Table[K]
	MVTO     *mvto.Manager
	Buf      *buffer.Manager
	Lower    K
	Upper    K
	HasUpper bool
	Filter   func(key K, rec *Record) (apply, keepGoing bool)
	Mutate   func(*Record)
}

type scanUpdateMatch[K index.Ordered] struct {
	key      K
	existing VersionPointer
}

// Execute implements Executor. The scan itself only reads (it runs under
// the index's shared RangeScan section); matched rows are updated in a
// second pass so the index's exclusive per-key section is never acquired
// while its shared scan section is still held by the same goroutine.
func (e *ScanUpdateExecutor[K]) Execute(ctx *txn.Context) bool {
	var matches []scanUpdateMatch[K]
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
			matches = append(matches, scanUpdateMatch[K]{key: key, existing: vp})
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
			continue // concurrently deleted since the scan pass; skip
		}
		newVP, ok := updateOne(ctx, e.Table, e.MVTO, e.Buf, m.key, m.existing, e.Mutate)
		if !ok {
			release()
			return false
		}
		setIdx(newVP)
		release()
	}
	return true
}
