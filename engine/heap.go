package engine

import (
	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/status"
)

// pageHeaderSize mirrors txn.Store's reserved page header region
// (spec.md §6 "Page layout").
const pageHeaderSize = 16

// Heap is an append-only, fixed-width record body store addressed by
// TuplePointer, the "heap table data layout" of spec.md §1 — provided here
// as a thin, real partitioned record store (SPEC_FULL.md §1) rather than
// the original's variable-length slotted-page design, since physical
// layout of the heap table is out of scope (spec.md §1). It is built
// directly on buffer.Manager pages in the same style as txn.Store
// (txn/header.go).
type Heap struct {
	schema *Schema

	curPID    common.PID
	nextOff   uint16
	slotsLeft int
}

// NewHeap constructs an empty record heap for schema's fixed row width.
func NewHeap(schema *Schema) *Heap {
	return &Heap{schema: schema}
}

func (h *Heap) ensurePage(mgr *buffer.Manager) error {
	if h.curPID != common.InvalidPID && h.slotsLeft > 0 {
		return nil
	}
	pid, err := mgr.NewPage()
	if err != nil {
		return err
	}
	h.curPID = pid
	h.nextOff = pageHeaderSize
	if h.schema.RowSize == 0 {
		return errors.Wrap(status.ErrInvariantViolation, "schema has zero row size")
	}
	h.slotsLeft = (common.PageSize - pageHeaderSize) / h.schema.RowSize
	return nil
}

// Insert appends rec's bytes to the heap, rolling to a fresh page when
// full, and returns its stable TuplePointer.
func (h *Heap) Insert(mgr *buffer.Manager, rec *Record) (common.TuplePointer, error) {
	if err := h.ensurePage(mgr); err != nil {
		return common.TuplePointer{}, err
	}
	ptr := common.TuplePointer{PID: h.curPID, Off: h.nextOff}

	acc, err := mgr.Get(ptr.PID, common.IntentWriteFull)
	if err != nil {
		return common.TuplePointer{}, err
	}
	buf, err := acc.PrepareForWrite(int(ptr.Off), h.schema.RowSize)
	if err != nil {
		_ = mgr.Put(acc)
		return common.TuplePointer{}, err
	}
	copy(buf, rec.Data)
	if err := mgr.Put(acc); err != nil {
		return common.TuplePointer{}, err
	}

	h.nextOff += uint16(h.schema.RowSize)
	h.slotsLeft--
	return ptr, nil
}

// Read materializes the record at ptr into a fresh Record.
func (h *Heap) Read(mgr *buffer.Manager, ptr common.TuplePointer) (*Record, error) {
	if ptr.Invalid() {
		return nil, errors.Wrap(status.ErrInvariantViolation, "read on invalid tuple pointer")
	}
	acc, err := mgr.Get(ptr.PID, common.IntentReadFull)
	if err != nil {
		return nil, err
	}
	defer mgr.Put(acc)

	buf, err := acc.PrepareForRead(int(ptr.Off), h.schema.RowSize)
	if err != nil {
		return nil, err
	}
	rec := NewRecord(h.schema)
	copy(rec.Data, buf)
	return rec, nil
}

// Update overwrites the record at ptr in place. The executors do not call
// it: every write, including the insert that resurrects a deleted row,
// creates a new version at a new pointer with Insert.
func (h *Heap) Update(mgr *buffer.Manager, ptr common.TuplePointer, rec *Record) error {
	acc, err := mgr.Get(ptr.PID, common.IntentWriteFull)
	if err != nil {
		return err
	}
	buf, err := acc.PrepareForWrite(int(ptr.Off), h.schema.RowSize)
	if err != nil {
		_ = mgr.Put(acc)
		return err
	}
	copy(buf, rec.Data)
	return mgr.Put(acc)
}
