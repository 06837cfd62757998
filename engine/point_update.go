package engine

import (
	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/txn"
)

// PointUpdateExecutor is spec.md §4.7's point update: "lookup-for-update on
// index, check visibility, acquire ownership, create new version."
type PointUpdateExecutor[K index.Ordered] struct {
	Table  *Table[K]
	MVTO   *mvto.Manager
	Buf    *buffer.Manager
	Key    K
	Mutate func(*Record)
}

// Execute implements Executor.
func (e *PointUpdateExecutor[K]) Execute(ctx *txn.Context) bool {
	existing, found, setIdx, release := e.Table.Index.LookupForUpdate(e.Key)
	defer release()
	if !found {
		ctx.Result = txn.ResultFailure
		return false
	}
	newVP, ok := updateOne(ctx, e.Table, e.MVTO, e.Buf, e.Key, existing, e.Mutate)
	if !ok {
		return false
	}
	setIdx(newVP)
	return true
}

// updateOne implements the shared body of point and scan update: acquire
// ownership of the predecessor header, materialize its current body,
// apply mutate to a copy, and install the new version (spec.md §4.7).
// Scan update reuses it per matched row (engine/scan_update.go).
func updateOne[K index.Ordered](ctx *txn.Context, table *Table[K], mgr *mvto.Manager, buf *buffer.Manager, key K, existing VersionPointer, mutate func(*Record)) (VersionPointer, bool) {
	newHeaderPtr, _, err := mgr.AcquireOwnership(ctx, existing.Header, existing.Body.Invalid())
	if err != nil {
		return VersionPointer{}, false
	}

	cur, err := table.Heap.Read(buf, existing.Body)
	if err != nil {
		ctx.Result = txn.ResultFailure
		return VersionPointer{}, false
	}
	next := NewRecord(table.Schema)
	next.CopyFrom(cur)
	mutate(next)

	bodyPtr, err := table.Heap.Insert(buf, next)
	if err != nil {
		ctx.Result = txn.ResultFailure
		return VersionPointer{}, false
	}

	newVP := VersionPointer{Header: newHeaderPtr, Body: bodyPtr}
	table.linkBody(newHeaderPtr, bodyPtr)
	ctx.RecordWrite(
		txn.VersionWrite{Old: existing.Header, New: newHeaderPtr},
		txn.ReinstateIndexEntry{Key: key, SavedPtr: existing},
	)
	return newVP, true
}
