package mvto

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/status"
	"github.com/spitfiredb/spitfire/txn"
	"github.com/spitfiredb/spitfire/wal"
)

var log = logrus.WithField("component", "mvto")

// DefaultRetryLimit is the reference bound on scanner retries against a
// racing installer (spec.md §4.6 "5 in the reference").
const DefaultRetryLimit = 5

// ResultSuccess, ResultFailure and ResultAborted are txn's transaction
// outcomes under this package's name.
const (
	ResultSuccess = txn.ResultSuccess
	ResultFailure = txn.ResultFailure
	ResultAborted = txn.ResultAborted
)

// Manager is the MVTO transaction manager of spec.md §4.6: timestamps,
// ownership, commit and abort, built over a tuple header store and the
// buffer manager it's paged through.
type Manager struct {
	tidCounter uint64
	cidCounter uint64

	headers *txn.Store
	bufMgr  *buffer.Manager
	w       *wal.WAL
	active  *activeTable

	RetryLimit int
}

// NewManager constructs an MVTO manager. startTID/startCID seed the
// counters, used on recovery to resume strictly past a previously
// persisted snapshot (spec.md §8 scenario 6: "next transaction receives a
// strictly greater TID").
func NewManager(bufMgr *buffer.Manager, headers *txn.Store, w *wal.WAL, startTID, startCID uint64) *Manager {
	return &Manager{
		tidCounter: startTID,
		cidCounter: startCID,
		headers:    headers,
		bufMgr:     bufMgr,
		w:          w,
		active:     newActiveTable(),
		RetryLimit: DefaultRetryLimit,
	}
}

func (m *Manager) nextTID() uint64 { return atomic.AddUint64(&m.tidCounter, 1) }
func (m *Manager) nextCID() uint64 { return atomic.AddUint64(&m.cidCounter, 1) }

// Snapshot reports the highest TID/CID handed out so far, for the caller to
// persist as a recovery point (spec.md §8 scenario 6).
func (m *Manager) Snapshot() (tid, cid uint64) {
	return atomic.LoadUint64(&m.tidCounter), atomic.LoadUint64(&m.cidCounter)
}

// Begin assigns tid and read_ts and registers the new context in the
// active-transaction table (spec.md §4.6 "begin() → ctx").
func (m *Manager) Begin() *txn.Context {
	tid := m.nextTID()
	readTS := m.nextCID()
	ctx := txn.NewContext(tid, readTS)
	m.active.Put(ctx)
	log.WithField("tid", tid).WithField("read_ts", readTS).Debug("begin transaction")
	return ctx
}

// PerformRead inspects the version at ptr and, if acquireOwner is set,
// attempts to CAS ownership to ctx (spec.md §4.6 ownership protocol step 2,
// and the plain read protocol). isTombstone reports whether the record
// this header addresses is a delete marker.
func (m *Manager) PerformRead(ctx *txn.Context, ptr common.TuplePointer, acquireOwner, isTombstone bool) (State, txn.Header, error) {
	acc, h, err := m.headers.Acquire(m.bufMgr, ptr, true)
	if err != nil {
		return StateInvalid, txn.Header{}, err
	}
	defer acc.Release()

	state := Visibility(h, ctx, isTombstone)
	if state != StateOK {
		return state, h, nil
	}

	if acquireOwner {
		ok, err := acc.CASOwner(txn.NoOwner, ctx.TID)
		if err != nil {
			return state, h, err
		}
		if !ok {
			ctx.Result = ResultFailure
			return StateInvisible, h, errors.Wrap(status.ErrConflict, "tuple owned by another transaction")
		}
		h.TransactionID = ctx.TID
	}

	if err := acc.BumpReadTS(ctx.ReadTS); err != nil {
		return state, h, err
	}
	if h.ReadTS < ctx.ReadTS {
		h.ReadTS = ctx.ReadTS
	}

	ctx.RecordRead(ptr)
	return state, h, nil
}

// AcquireOwnership implements spec.md §4.6 ownership protocol steps 1-4: it
// reads V, CASes ownership, and creates/installs a new pending version V'
// chained onto V. The caller (an executor, which alone knows how to
// update its index) is responsible for step 5 — pointing the index entry
// at the returned pointer and recording the matching rollback closure via
// ctx.RecordWrite.
func (m *Manager) AcquireOwnership(ctx *txn.Context, ptr common.TuplePointer, isTombstone bool) (common.TuplePointer, txn.Header, error) {
	state, oldHeader, err := m.PerformRead(ctx, ptr, true, isTombstone)
	if err != nil {
		return common.TuplePointer{}, txn.Header{}, err
	}
	if state != StateOK {
		ctx.Result = ResultFailure
		return common.TuplePointer{}, txn.Header{}, errors.Wrapf(status.ErrConflict, "version not visible: %s", state)
	}

	newHeader := txn.Header{
		RowID:         txn.NextRowID(),
		TransactionID: ctx.TID,
		BeginCID:      txn.Infinity,
		EndCID:        txn.Infinity,
		NextVersion:   ptr,
	}
	newPtr, err := m.headers.InsertHardHeader(m.bufMgr, newHeader)
	if err != nil {
		return common.TuplePointer{}, txn.Header{}, err
	}
	return newPtr, newHeader, nil
}

// Commit validates the write set, installs commit/expiry timestamps, and
// durably records the commit (spec.md §4.6 "commit(ctx) → SUCCESS |
// FAILURE").
func (m *Manager) Commit(ctx *txn.Context) error {
	if ctx.Result == ResultFailure || ctx.Result == ResultAborted {
		return errors.Wrap(status.ErrConflict, "commit on a failed transaction")
	}

	for _, vw := range ctx.WriteSet {
		if vw.Old.Invalid() {
			continue // a fresh insert has no predecessor to validate
		}
		acc, h, err := m.headers.Acquire(m.bufMgr, vw.Old, true)
		if err != nil {
			return err
		}
		violated := h.ReadTS > ctx.ReadTS
		if err := acc.Release(); err != nil {
			return err
		}
		if violated {
			ctx.Result = ResultFailure
			return errors.Wrap(status.ErrConflict, "write set validation failed: a later reader observed the predecessor")
		}
	}

	commitTS := m.nextCID()
	for _, vw := range ctx.WriteSet {
		if !vw.Old.Invalid() {
			if err := m.finalizeVersion(vw.Old, func(h *txn.Header) { h.EndCID = commitTS; h.TransactionID = txn.NoOwner }); err != nil {
				return err
			}
		}
		if err := m.finalizeVersion(vw.New, func(h *txn.Header) { h.BeginCID = commitTS; h.TransactionID = txn.NoOwner }); err != nil {
			return err
		}
	}

	if _, err := m.w.AppendSync(wal.RecordCommit, wal.CommitPayload(ctx.TID, commitTS)); err != nil {
		return err
	}

	ctx.CommitTS = commitTS
	ctx.Result = ResultSuccess
	m.active.Remove(ctx.TID)
	log.WithField("tid", ctx.TID).WithField("commit_ts", commitTS).Debug("commit transaction")
	return nil
}

func (m *Manager) finalizeVersion(ptr common.TuplePointer, mutate func(*txn.Header)) error {
	acc, h, err := m.headers.Acquire(m.bufMgr, ptr, true)
	if err != nil {
		return err
	}
	mutate(&h)
	if err := acc.Store(h); err != nil {
		_ = acc.Release()
		return err
	}
	return acc.Release()
}

// Abort invokes every recorded rollback closure in reverse insertion order
// via apply (which alone knows how to undo an index mutation for the
// concrete key type), then releases ownership on every header this
// transaction owns — both the predecessor it CASed into and the version
// it installed (spec.md §4.6 "abort(ctx)"; spec.md §8 "after abort of
// ctx, no version V has V.transaction_id = ctx.tid").
func (m *Manager) Abort(ctx *txn.Context, apply func(txn.RollbackClosure) error) error {
	for _, rc := range ctx.RollbackClosures() {
		if err := apply(rc); err != nil {
			return err
		}
	}

	for _, vw := range ctx.WriteSet {
		if !vw.Old.Invalid() {
			if err := m.finalizeVersion(vw.Old, func(h *txn.Header) { h.TransactionID = txn.NoOwner }); err != nil {
				return err
			}
		}
		if err := m.finalizeVersion(vw.New, func(h *txn.Header) { h.TransactionID = txn.NoOwner }); err != nil {
			return err
		}
	}

	ctx.Result = ResultAborted
	m.active.Remove(ctx.TID)
	log.WithField("tid", ctx.TID).Debug("abort transaction")
	return nil
}

// ActiveContext looks up a still-registered transaction by id.
func (m *Manager) ActiveContext(tid uint64) (*txn.Context, bool) {
	return m.active.Get(tid)
}
