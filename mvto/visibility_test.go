package mvto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spitfiredb/spitfire/txn"
)

func ctxAt(tid, readTS uint64) *txn.Context {
	return txn.NewContext(tid, readTS)
}

func TestVisibilityOK(t *testing.T) {
	// spec.md §4.6: OK iff begin_cid <= read_ts < end_cid and owner in {0, tid}.
	h := txn.Header{BeginCID: 1, EndCID: 10, TransactionID: txn.NoOwner}
	require.Equal(t, StateOK, Visibility(h, ctxAt(1, 5), false))
}

func TestVisibilityOKWhenOwnedBySelf(t *testing.T) {
	h := txn.Header{BeginCID: 1, EndCID: 10, TransactionID: 7}
	require.Equal(t, StateOK, Visibility(h, ctxAt(7, 5), false))
}

func TestVisibilityDeletedForTombstone(t *testing.T) {
	h := txn.Header{BeginCID: 1, EndCID: 10, TransactionID: txn.NoOwner}
	require.Equal(t, StateDeleted, Visibility(h, ctxAt(1, 5), true))
}

func TestVisibilityInvisibleBeforeBegin(t *testing.T) {
	h := txn.Header{BeginCID: 20, EndCID: txn.Infinity, TransactionID: txn.NoOwner}
	require.Equal(t, StateInvisible, Visibility(h, ctxAt(1, 5), false))
}

func TestVisibilityInvisibleAfterEnd(t *testing.T) {
	h := txn.Header{BeginCID: 1, EndCID: 5, TransactionID: txn.NoOwner}
	require.Equal(t, StateInvisible, Visibility(h, ctxAt(1, 5), false))
}

func TestVisibilityInvisibleWhenOwnedByOther(t *testing.T) {
	h := txn.Header{BeginCID: 1, EndCID: txn.Infinity, TransactionID: 99}
	require.Equal(t, StateInvisible, Visibility(h, ctxAt(1, 5), false))
}

func TestVisibilityInvalidWhenEndBeforeBegin(t *testing.T) {
	h := txn.Header{BeginCID: 10, EndCID: 2}
	require.Equal(t, StateInvalid, Visibility(h, ctxAt(1, 5), false))
}

func TestVisibilityPendingVersionNotInvalid(t *testing.T) {
	// begin_cid == end_cid == Infinity is a pending, uncommitted version
	// (spec.md §4.6 ownership protocol step 3): not yet in its validity
	// interval for anyone, including its own installer, but a malformed
	// (INVALID) header all the same it is not.
	h := txn.Header{BeginCID: txn.Infinity, EndCID: txn.Infinity, TransactionID: 3}
	require.Equal(t, StateInvisible, Visibility(h, ctxAt(3, 5), false))
	require.Equal(t, StateInvisible, Visibility(h, ctxAt(4, 5), false))
}
