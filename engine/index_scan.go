package engine

import (
	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/index"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/status"
	"github.com/spitfiredb/spitfire/txn"
)

// IndexScanExecutor is spec.md §4.7's index scan: "returns visible
// versions; walks version chains across tiers." Visit is called once per
// key in [Lower, Upper) that has a visible version; it may return false to
// stop the scan early.
type IndexScanExecutor[K index.Ordered] struct {
	Table    *Table[K]
	MVTO     *mvto.Manager
	Buf      *buffer.Manager
	Lower    K
	Upper    K
	HasUpper bool
	Visit    func(key K, rec *Record) bool
}

// Execute implements Executor.
func (e *IndexScanExecutor[K]) Execute(ctx *txn.Context) bool {
	ok := true
	e.Table.Index.RangeScan(e.Lower, e.Upper, e.HasUpper, func(key K, vp VersionPointer) bool {
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

// visibleVersion walks a version chain from its newest entry vp until it
// finds the version visible to ctx, applying the racing-installer retry
// rule of spec.md §4.6 ("on a version seen in state INVISIBLE with
// transaction_id = INITIAL_TXN_ID and end_cid ≤ ctx.read_ts, the scanner
// may retry up to a small fixed number of times before aborting"). It
// returns found=false (no error) when the chain bottoms out with nothing
// visible, matching spec.md §7 "NOT_FOUND: ... returned as empty result,
// not an error."
func visibleVersion[K index.Ordered](ctx *txn.Context, table *Table[K], mgr *mvto.Manager, buf *buffer.Manager, vp VersionPointer) (*Record, bool, error) {
	cur := vp
	retries := 0

	for {
		if cur.Header.Invalid() {
			return nil, false, nil
		}

		state, h, err := mgr.PerformRead(ctx, cur.Header, false, cur.Body.Invalid())
		if err != nil {
			return nil, false, err
		}

		switch state {
		case mvto.StateOK:
			rec, err := table.Heap.Read(buf, cur.Body)
			if err != nil {
				return nil, false, err
			}
			return rec, true, nil

		case mvto.StateDeleted:
			return nil, false, nil

		case mvto.StateInvisible:
			if h.TransactionID == common.InitialTxnID && h.EndCID <= ctx.ReadTS {
				if retries < mgr.RetryLimit {
					retries++
					continue
				}
				return nil, false, errors.Wrap(status.ErrConflict, "racing installer did not finish within the retry limit")
			}
			bodyPtr, ok := table.recordBodyFor(h.NextVersion)
			if !ok || h.NextVersion.Invalid() {
				return nil, false, nil
			}
			cur = VersionPointer{Header: h.NextVersion, Body: bodyPtr}

		default:
			return nil, false, errors.Wrap(status.ErrInvariantViolation, "malformed tuple header encountered during scan")
		}
	}
}
