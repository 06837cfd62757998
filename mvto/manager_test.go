package mvto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/storage/ssd"
	"github.com/spitfiredb/spitfire/txn"
	"github.com/spitfiredb/spitfire/wal"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ssdMgr, err := ssd.OpenMemory()
	require.NoError(t, err)
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	bufMgr := buffer.NewManager(buffer.Config{
		DRAMCapacityPages: 8,
		Policy:            buffer.DefaultMigrationPolicy(),
	}, ssdMgr, w, nil)
	headers := txn.NewStore(bufMgr)
	return NewManager(bufMgr, headers, w, 1, 1)
}

func insertFreshVersion(t *testing.T, mgr *Manager, ctx *txn.Context) common.TuplePointer {
	t.Helper()
	ptr, err := mgr.headers.InsertHardHeader(mgr.bufMgr, txn.Header{
		RowID:         txn.NextRowID(),
		TransactionID: ctx.TID,
		BeginCID:      txn.Infinity,
		EndCID:        txn.Infinity,
	})
	require.NoError(t, err)
	ctx.RecordWrite(txn.VersionWrite{New: ptr}, txn.Noop{})
	return ptr
}

func TestBeginAssignsIncreasingTIDAndReadTS(t *testing.T) {
	mgr := newTestManager(t)
	a := mgr.Begin()
	b := mgr.Begin()
	require.Less(t, a.TID, b.TID)
	require.Less(t, a.ReadTS, b.ReadTS)

	_, ok := mgr.ActiveContext(a.TID)
	require.True(t, ok)
}

func TestCommitInstallsTimestampsAndClearsOwner(t *testing.T) {
	mgr := newTestManager(t)
	ctx := mgr.Begin()
	ptr := insertFreshVersion(t, mgr, ctx)

	require.NoError(t, mgr.Commit(ctx))
	require.Equal(t, ResultSuccess, ctx.Result)

	acc, h, err := mgr.headers.Acquire(mgr.bufMgr, ptr, false)
	require.NoError(t, err)
	require.NoError(t, acc.Release())
	require.Equal(t, ctx.CommitTS, h.BeginCID)
	require.Equal(t, txn.Infinity, h.EndCID)
	require.Equal(t, txn.NoOwner, h.TransactionID)

	_, stillActive := mgr.ActiveContext(ctx.TID)
	require.False(t, stillActive)
}

func TestAbortInvokesClosuresOnFreshInsert(t *testing.T) {
	mgr := newTestManager(t)
	ctx := mgr.Begin()
	newPtr := insertFreshVersion(t, mgr, ctx)

	var applied []txn.RollbackClosure
	err := mgr.Abort(ctx, func(rc txn.RollbackClosure) error {
		applied = append(applied, rc)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ResultAborted, ctx.Result)
	require.Len(t, applied, 1)

	_, stillActive := mgr.ActiveContext(ctx.TID)
	require.False(t, stillActive)

	// spec.md §8: "after abort of ctx, no version V has V.transaction_id
	// = ctx.tid" — including the freshly installed version itself, which
	// has no predecessor to separately release ownership of.
	acc, h, err := mgr.headers.Acquire(mgr.bufMgr, newPtr, false)
	require.NoError(t, err)
	require.NoError(t, acc.Release())
	require.Equal(t, txn.NoOwner, h.TransactionID)
}

func TestAbortReleasesOwnershipOfPredecessorAndNewVersion(t *testing.T) {
	mgr := newTestManager(t)
	base := mgr.Begin()
	predecessor, err := mgr.headers.InsertHardHeader(mgr.bufMgr, txn.Header{
		BeginCID: 0,
		EndCID:   txn.Infinity,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(base))

	writer := mgr.Begin()
	newPtr, _, err := mgr.AcquireOwnership(writer, predecessor, false)
	require.NoError(t, err)
	writer.RecordWrite(txn.VersionWrite{Old: predecessor, New: newPtr}, txn.Noop{})

	err = mgr.Abort(writer, func(txn.RollbackClosure) error { return nil })
	require.NoError(t, err)

	acc, h, err := mgr.headers.Acquire(mgr.bufMgr, predecessor, false)
	require.NoError(t, err)
	require.NoError(t, acc.Release())
	require.Equal(t, txn.NoOwner, h.TransactionID) // ownership released on abort

	acc2, h2, err := mgr.headers.Acquire(mgr.bufMgr, newPtr, false)
	require.NoError(t, err)
	require.NoError(t, acc2.Release())
	require.Equal(t, txn.NoOwner, h2.TransactionID) // the installed version is released too
}

func TestPerformReadAcquiresOwnershipExclusively(t *testing.T) {
	mgr := newTestManager(t)
	owner := mgr.Begin()
	ptr, err := mgr.headers.InsertHardHeader(mgr.bufMgr, txn.Header{
		BeginCID: 0,
		EndCID:   txn.Infinity,
	})
	require.NoError(t, err)

	state, _, err := mgr.PerformRead(owner, ptr, true, false)
	require.NoError(t, err)
	require.Equal(t, StateOK, state)

	other := mgr.Begin()
	state, _, err = mgr.PerformRead(other, ptr, true, false)
	require.NoError(t, err)
	require.Equal(t, StateInvisible, state) // owned by `owner`, not yet committed
}

func TestCommitValidationFailsOnLateReaderConflict(t *testing.T) {
	mgr := newTestManager(t)
	base := mgr.Begin()
	predecessor, err := mgr.headers.InsertHardHeader(mgr.bufMgr, txn.Header{
		BeginCID: 0,
		EndCID:   txn.Infinity,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(base))

	writer := mgr.Begin()
	newPtr, _, err := mgr.AcquireOwnership(writer, predecessor, false)
	require.NoError(t, err)
	writer.RecordWrite(txn.VersionWrite{Old: predecessor, New: newPtr}, txn.Noop{})

	// A later reader finds the predecessor owned by writer, so PerformRead
	// leaves read_ts alone; the test raises it past writer's read_ts directly.
	laterReader := mgr.Begin()
	state, _, err := mgr.PerformRead(laterReader, predecessor, false, false)
	require.NoError(t, err)
	require.Equal(t, StateInvisible, state) // owned by writer now

	acc, h, err := mgr.headers.Acquire(mgr.bufMgr, predecessor, true)
	require.NoError(t, err)
	h.ReadTS = writer.ReadTS + 1000
	require.NoError(t, acc.Store(h))
	require.NoError(t, acc.Release())

	err = mgr.Commit(writer)
	require.Error(t, err)
	require.Equal(t, ResultFailure, writer.Result)
}
