package engine

import (
	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/txn"
)

// PointDeleteExecutor is spec.md §4.7's point delete: "lookup-for-update on
// index, check visibility, acquire ownership, create new version" — the
// new version here is a tombstone (VersionPointer.Body invalid).
type PointDeleteExecutor[K index.Ordered] struct {
	Table *Table[K]
	MVTO  *mvto.Manager
	Buf   *buffer.Manager
	Key   K
}

// Execute implements Executor.
func (e *PointDeleteExecutor[K]) Execute(ctx *txn.Context) bool {
	existing, found, setIdx, release := e.Table.Index.LookupForUpdate(e.Key)
	defer release()
	if !found {
		ctx.Result = txn.ResultFailure
		return false
	}
	newVP, ok := deleteOne(ctx, e.MVTO, e.Key, existing)
	if !ok {
		return false
	}
	setIdx(newVP)
	return true
}

// deleteOne implements the shared body of point and scan delete: acquire
// ownership of the predecessor header and install a tombstone version
// (no record body) in its place. Scan delete reuses it per matched row
// (engine/scan_delete.go).
func deleteOne[K index.Ordered](ctx *txn.Context, mgr *mvto.Manager, key K, existing VersionPointer) (VersionPointer, bool) {
	newHeaderPtr, _, err := mgr.AcquireOwnership(ctx, existing.Header, existing.Body.Invalid())
	if err != nil {
		return VersionPointer{}, false
	}
	newVP := VersionPointer{Header: newHeaderPtr, Body: common.TuplePointer{}}
	ctx.RecordWrite(
		txn.VersionWrite{Old: existing.Header, New: newHeaderPtr},
		txn.ReinstateIndexEntry{Key: key, SavedPtr: existing},
	)
	return newVP, true
}
