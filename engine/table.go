package engine

import (
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/txn"
)

// VersionPointer addresses one tuple version's two halves: the MVCC
// header (owned by a txn.Store, shared process-wide) and the record body
// (owned by this table's own Heap). The index maps keys to the newest
// version's VersionPointer; header.NextVersion chains to the predecessor
// version's header only, so Table additionally keeps a side map from
// header pointer to body pointer for walking older bodies (spec.md §4.7
// "walks version chains across tiers").
type VersionPointer struct {
	Header common.TuplePointer
	Body   common.TuplePointer
}

// Invalid reports the zero value.
func (vp VersionPointer) Invalid() bool { return vp.Header.Invalid() }

// Table is the per-relation pairing of an ordered primary index with a
// version-chained record heap, the "partitioned record store" collaborator
// of spec.md §1.
type Table[K index.Ordered] struct {
	Schema  *Schema
	Index   *index.Index[K, VersionPointer]
	Heap    *Heap
	Headers *txn.Store

	bodyOf map[common.TuplePointer]common.TuplePointer // header ptr -> body ptr, for predecessor walks
}

// NewTable constructs an empty table over schema, sharing headers (the
// process-wide tuple header store of spec.md §4.5) with every other table
// so the MVTO manager addresses all versions uniformly.
func NewTable[K index.Ordered](schema *Schema, headers *txn.Store) *Table[K] {
	return &Table[K]{
		Schema:  schema,
		Index:   index.New[K, VersionPointer](),
		Heap:    NewHeap(schema),
		Headers: headers,
		bodyOf:  make(map[common.TuplePointer]common.TuplePointer),
	}
}

// recordBodyFor looks up the body pointer paired with a header pointer,
// used when walking to an older version in the chain.
func (t *Table[K]) recordBodyFor(headerPtr common.TuplePointer) (common.TuplePointer, bool) {
	bp, ok := t.bodyOf[headerPtr]
	return bp, ok
}

func (t *Table[K]) linkBody(headerPtr, bodyPtr common.TuplePointer) {
	t.bodyOf[headerPtr] = bodyPtr
}
