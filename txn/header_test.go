package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/storage/ssd"
	"github.com/spitfiredb/spitfire/wal"
)

func newTestBufMgr(t *testing.T) *buffer.Manager {
	t.Helper()
	ssdMgr, err := ssd.OpenMemory()
	require.NoError(t, err)
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	return buffer.NewManager(buffer.Config{
		DRAMCapacityPages: 8,
		Policy:            buffer.DefaultMigrationPolicy(),
	}, ssdMgr, w, nil)
}

func TestInsertHardHeaderAcquireRoundTrip(t *testing.T) {
	mgr := newTestBufMgr(t)
	store := NewStore(mgr)

	h := Header{RowID: 1, TransactionID: 42, BeginCID: 7, EndCID: Infinity}
	ptr, err := store.InsertHardHeader(mgr, h)
	require.NoError(t, err)

	acc, got, err := store.Acquire(mgr, ptr, false)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.NoError(t, acc.Release())
}

func TestCASOwnerSucceedsOnlyWhenExpected(t *testing.T) {
	mgr := newTestBufMgr(t)
	store := NewStore(mgr)

	ptr, err := store.InsertHardHeader(mgr, Header{TransactionID: NoOwner})
	require.NoError(t, err)

	acc, _, err := store.Acquire(mgr, ptr, true)
	require.NoError(t, err)
	ok, err := acc.CASOwner(NoOwner, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, acc.Release())

	acc2, _, err := store.Acquire(mgr, ptr, true)
	require.NoError(t, err)
	ok, err = acc2.CASOwner(NoOwner, 9)
	require.NoError(t, err)
	require.False(t, ok) // already owned by 5, CAS from NoOwner must fail
	require.NoError(t, acc2.Release())

	_, got, err := store.Acquire(mgr, ptr, false)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.TransactionID)
}

func TestBumpReadTSNeverDecreases(t *testing.T) {
	mgr := newTestBufMgr(t)
	store := NewStore(mgr)

	ptr, err := store.InsertHardHeader(mgr, Header{ReadTS: 10})
	require.NoError(t, err)

	acc, _, err := store.Acquire(mgr, ptr, true)
	require.NoError(t, err)
	require.NoError(t, acc.BumpReadTS(3))
	require.NoError(t, acc.Release())

	accR, got, err := store.Acquire(mgr, ptr, false)
	require.NoError(t, err)
	require.Equal(t, uint64(10), got.ReadTS) // lower ts must not regress it
	require.NoError(t, accR.Release())

	acc2, _, err := store.Acquire(mgr, ptr, true)
	require.NoError(t, err)
	require.NoError(t, acc2.BumpReadTS(25))
	require.NoError(t, acc2.Release())

	_, got, err = store.Acquire(mgr, ptr, false)
	require.NoError(t, err)
	require.Equal(t, uint64(25), got.ReadTS)
}

func TestStoreOnReadOnlyAccessorFails(t *testing.T) {
	mgr := newTestBufMgr(t)
	store := NewStore(mgr)

	ptr, err := store.InsertHardHeader(mgr, Header{})
	require.NoError(t, err)

	acc, _, err := store.Acquire(mgr, ptr, false)
	require.NoError(t, err)
	err = acc.Store(Header{RowID: 99})
	require.Error(t, err)
	require.NoError(t, acc.Release())
}
