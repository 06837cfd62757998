package engine

import (
	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/txn"
)

// TableScanExecutor is spec.md §4.7's table scan: "same [as index scan]
// but iterates the whole key space."
type TableScanExecutor[K index.Ordered] struct {
	Table *Table[K]
	MVTO  *mvto.Manager
	Buf   *buffer.Manager
	Visit func(key K, rec *Record) bool
}

// Execute implements Executor.
func (e *TableScanExecutor[K]) Execute(ctx *txn.Context) bool {
	ok := true
	e.Table.Index.ScanAll(func(key K, vp VersionPointer) bool {
		rec, found, err := visibleVersion(ctx, e.Table, e.MVTO, e.Buf, vp)
		if err != nil {
			ok = false
			return false
		}
		if found && e.Visit != nil {
			return e.Visit(key, rec)
		}
		return true
	})
	if !ok {
		ctx.Result = txn.ResultFailure
		return false
	}
	return true
}

// IntKey is a concrete Ordered key type for int64-keyed tables (e.g.
// TPC-C-style warehouse/district/customer ids), grounded on
// original_source's integer primary keys.
type IntKey int64

var _ index.Ordered = IntKey(0)

// Less implements index.Ordered.
func (k IntKey) Less(other any) bool { return k < other.(IntKey) }

// Equal implements index.Ordered.
func (k IntKey) Equal(other any) bool { return k == other.(IntKey) }
