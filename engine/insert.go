package engine

import (
	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/txn"
)

// Executor is the capability-set abstraction spec.md §9 Design Notes
// substitutes for the source's virtual-dispatch executor hierarchy: "an
// Executor trait with execute() → bool". Concrete variants are plain Go
// structs implementing this one method.
type Executor interface {
	Execute(ctx *txn.Context) bool
}

// InsertExecutor is spec.md §4.7's insert executor: "CAS-insert into the
// index predicated on no visible row; on predicate-true (existing deleted
// row), convert to an in-place update to resurrect the slot."
type InsertExecutor[K index.Ordered] struct {
	Table  *Table[K]
	MVTO   *mvto.Manager
	Buf    *buffer.Manager
	Key    K
	Record *Record
}

// Execute implements Executor.
func (e *InsertExecutor[K]) Execute(ctx *txn.Context) bool {
	existing, found, setIdx, release := e.Table.Index.LookupForUpdate(e.Key)
	defer release()

	if found {
		return e.resurrect(ctx, existing, setIdx)
	}

	headerPtr, err := e.Table.Headers.InsertHardHeader(e.Buf, txn.Header{
		RowID:         txn.NextRowID(),
		TransactionID: ctx.TID,
		BeginCID:      txn.Infinity,
		EndCID:        txn.Infinity,
	})
	if err != nil {
		ctx.Result = txn.ResultFailure
		return false
	}
	bodyPtr, err := e.Table.Heap.Insert(e.Buf, e.Record)
	if err != nil {
		ctx.Result = txn.ResultFailure
		return false
	}

	vp := VersionPointer{Header: headerPtr, Body: bodyPtr}
	e.Table.linkBody(headerPtr, bodyPtr)
	ctx.RecordWrite(txn.VersionWrite{Old: common.TuplePointer{}, New: headerPtr}, txn.DeleteIndexEntry{Key: e.Key})
	setIdx(vp)
	return true
}

// resurrect handles the case where an index entry already exists: it is
// only a valid insert target if the existing version is a committed
// tombstone (spec.md §4.7); any other visibility outcome fails the insert.
func (e *InsertExecutor[K]) resurrect(ctx *txn.Context, existing VersionPointer, setIdx func(VersionPointer)) bool {
	state, _, err := e.MVTO.PerformRead(ctx, existing.Header, false, existing.Body.Invalid())
	if err != nil {
		ctx.Result = txn.ResultFailure
		return false
	}
	if state != mvto.StateDeleted {
		ctx.Result = txn.ResultFailure
		return false
	}

	newHeaderPtr, _, err := e.MVTO.AcquireOwnership(ctx, existing.Header, false)
	if err != nil {
		return false
	}
	bodyPtr, err := e.Table.Heap.Insert(e.Buf, e.Record)
	if err != nil {
		ctx.Result = txn.ResultFailure
		return false
	}

	newVP := VersionPointer{Header: newHeaderPtr, Body: bodyPtr}
	e.Table.linkBody(newHeaderPtr, bodyPtr)
	ctx.RecordWrite(
		txn.VersionWrite{Old: existing.Header, New: newHeaderPtr},
		txn.ReinstateIndexEntry{Key: e.Key, SavedPtr: existing},
	)
	setIdx(newVP)
	return true
}
