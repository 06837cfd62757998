// Package txn holds the MVCC version metadata (spec.md §3 "Tuple header
// (hard)", §4.5 "Tuple header store") and the per-transaction bookkeeping
// the MVTO manager drives (spec.md §3 "Transaction context"). It is kept
// separate from package mvto so the header store can be exercised without
// pulling in the full transaction-manager lifecycle, mirroring the
// teacher's habit of keeping storage concerns (bufmgr.go) and algorithm
// concerns (bltree.go) in their own files.
package txn

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/status"
)

// NoOwner is the sentinel transaction_id meaning a version is unowned
// (spec.md §3: "transaction_id = 0 means no owner").
const NoOwner uint64 = 0

// Infinity represents the unbounded end (or not-yet-visible begin) of a
// version's validity interval (spec.md §4.6 ownership protocol step 3:
// "begin_cid = ∞, end_cid = ∞"). Go has no infinite uint64, so the
// maximum representable value stands in for it; no real CID will ever
// reach it.
const Infinity uint64 = ^uint64(0)

// Header is the hard MVCC metadata for one tuple version (spec.md §3).
type Header struct {
	RowID         uint64
	TransactionID uint64
	BeginCID      uint64
	EndCID        uint64
	ReadTS        uint64
	NextVersion   common.TuplePointer
}

const headerEncodedSize = 8*6 + 2 // six u64 fields + the TuplePointer's u16 Off packed after its PID

// encode writes h into buf (must be at least headerEncodedSize bytes).
func (h Header) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.RowID)
	binary.LittleEndian.PutUint64(buf[8:16], h.TransactionID)
	binary.LittleEndian.PutUint64(buf[16:24], h.BeginCID)
	binary.LittleEndian.PutUint64(buf[24:32], h.EndCID)
	binary.LittleEndian.PutUint64(buf[32:40], h.ReadTS)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.NextVersion.PID))
	binary.LittleEndian.PutUint16(buf[48:50], h.NextVersion.Off)
}

func decodeHeader(buf []byte) Header {
	return Header{
		RowID:         binary.LittleEndian.Uint64(buf[0:8]),
		TransactionID: binary.LittleEndian.Uint64(buf[8:16]),
		BeginCID:      binary.LittleEndian.Uint64(buf[16:24]),
		EndCID:        binary.LittleEndian.Uint64(buf[24:32]),
		ReadTS:        binary.LittleEndian.Uint64(buf[32:40]),
		NextVersion: common.TuplePointer{
			PID: common.PID(binary.LittleEndian.Uint64(buf[40:48])),
			Off: binary.LittleEndian.Uint16(buf[48:50]),
		},
	}
}

// pageHeaderSize mirrors the buffer page layout's reserved header region
// (spec.md §6 "Page layout"); the tuple header store packs its fixed-size
// records after it.
const pageHeaderSize = 16

// Store is an append-only heap of fixed-size tuple headers addressed by
// TuplePointer, built directly on buffer.Manager pages (spec.md §4.5, and
// SPEC_FULL.md §4.5: "built directly on buffer.Manager pages so it
// exercises buffer's accessor API, not a separate store"). TuplePointers
// are stable: headers are never moved or compacted.
type Store struct {
	mgr *buffer.Manager

	curPID    common.PID
	nextOff   uint16
	slotsLeft int
}

// NewStore creates a tuple header store. The first backing page is
// allocated lazily on first InsertHardHeader.
func NewStore(mgr *buffer.Manager) *Store {
	return &Store{}
}

func (s *Store) ensurePage(mgr *buffer.Manager) error {
	if s.curPID != common.InvalidPID && s.slotsLeft > 0 {
		return nil
	}
	pid, err := mgr.NewPage()
	if err != nil {
		return err
	}
	s.curPID = pid
	s.nextOff = pageHeaderSize
	s.slotsLeft = (common.PageSize - pageHeaderSize) / headerEncodedSize
	return nil
}

// InsertHardHeader appends header to the store's current page, rolling
// over to a fresh page when full, and returns its stable TuplePointer
// (spec.md §4.5 "insert_hard_header(header) → TuplePointer — append-only").
func (s *Store) InsertHardHeader(mgr *buffer.Manager, header Header) (common.TuplePointer, error) {
	if err := s.ensurePage(mgr); err != nil {
		return common.TuplePointer{}, err
	}

	ptr := common.TuplePointer{PID: s.curPID, Off: s.nextOff}
	acc, err := mgr.Get(ptr.PID, common.IntentWriteFull)
	if err != nil {
		return common.TuplePointer{}, err
	}
	buf, err := acc.PrepareForWrite(int(ptr.Off), headerEncodedSize)
	if err != nil {
		_ = mgr.Put(acc)
		return common.TuplePointer{}, err
	}
	header.encode(buf)
	if err := mgr.Put(acc); err != nil {
		return common.TuplePointer{}, err
	}

	s.nextOff += headerEncodedSize
	s.slotsLeft--
	return ptr, nil
}

// Acquire returns a latched accessor bound to ptr's page and the header
// currently stored there (spec.md §4.5 "acquire(ptr, accessor) — latched
// access for update"). Release must be called exactly once.
func (s *Store) Acquire(mgr *buffer.Manager, ptr common.TuplePointer, write bool) (*Accessor, Header, error) {
	if ptr.Invalid() {
		return nil, Header{}, errors.Wrap(status.ErrInvariantViolation, "acquire on invalid tuple pointer")
	}
	mode := common.IntentReadFull
	if write {
		mode = common.IntentWriteFull
	}
	acc, err := mgr.Get(ptr.PID, mode)
	if err != nil {
		return nil, Header{}, err
	}
	buf, err := acc.PrepareForRead(int(ptr.Off), headerEncodedSize)
	if err != nil {
		_ = mgr.Put(acc)
		return nil, Header{}, err
	}
	h := decodeHeader(buf)
	return &Accessor{mgr: mgr, acc: acc, ptr: ptr, write: write}, h, nil
}

// Accessor is the scoped handle Acquire hands back; Release writes any
// pending header mutation and unpins the page.
type Accessor struct {
	mgr *buffer.Manager
	acc *buffer.Accessor
	ptr common.TuplePointer

	write    bool
	released bool
}

// Store overwrites the header in place. Only valid on a write-mode
// accessor.
func (a *Accessor) Store(h Header) error {
	if !a.write {
		return errors.Wrap(status.ErrInvariantViolation, "Store on a read-only tuple header accessor")
	}
	buf, err := a.acc.PrepareForWrite(int(a.ptr.Off), headerEncodedSize)
	if err != nil {
		return err
	}
	h.encode(buf)
	return nil
}

// Release latches off the header's page (spec.md §4.5 "release(accessor)").
func (a *Accessor) Release() error {
	if a.released {
		return nil
	}
	a.released = true
	return a.mgr.Put(a.acc)
}

// CASOwner atomically swaps the transaction_id field from `from` to `to`
// directly in the accessor's backing bytes, implementing the ownership CAS
// of spec.md §4.6 step 2 ("atomically CAS V.transaction_id from 0 to
// ctx.tid") without requiring a full Store round-trip. It must be called
// on a write-mode accessor and returns false if the current value did not
// match `from`.
func (a *Accessor) CASOwner(from, to uint64) (bool, error) {
	if !a.write {
		return false, errors.Wrap(status.ErrInvariantViolation, "CASOwner on a read-only tuple header accessor")
	}
	buf, err := a.acc.PrepareForWrite(int(a.ptr.Off)+8, 8)
	if err != nil {
		return false, err
	}
	cur := binary.LittleEndian.Uint64(buf)
	if cur != from {
		return false, nil
	}
	binary.LittleEndian.PutUint64(buf, to)
	return true, nil
}

// bumpReadTS raises the header's read_ts field to at least ts (spec.md §4.6
// read protocol step 2). Go gives no atomic CAS on an arbitrary byte slice,
// so this is a single compare-and-store with no retry loop, done under the
// accessor's exclusive page latch, which already serializes writers.
func bumpReadTS(buf []byte, ts uint64) {
	cur := binary.LittleEndian.Uint64(buf)
	if ts > cur {
		binary.LittleEndian.PutUint64(buf, ts)
	}
}

// BumpReadTS raises the header's read_ts to at least ts.
func (a *Accessor) BumpReadTS(ts uint64) error {
	if !a.write {
		return errors.Wrap(status.ErrInvariantViolation, "BumpReadTS on a read-only tuple header accessor")
	}
	buf, err := a.acc.PrepareForWrite(int(a.ptr.Off)+32, 8)
	if err != nil {
		return err
	}
	bumpReadTS(buf, ts)
	return nil
}

// globalRowID hands out row ids for newly inserted versions; the spec
// treats row_id as an opaque identifier distinct from TID/CID (spec.md §3).
var globalRowID uint64

// NextRowID returns a fresh, process-wide unique row id.
func NextRowID() uint64 {
	return atomic.AddUint64(&globalRowID, 1)
}
