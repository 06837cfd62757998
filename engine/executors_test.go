package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spitfiredb/spitfire/buffer"
	"github.com/spitfiredb/spitfire/mvto"
	"github.com/spitfiredb/spitfire/storage/ssd"
	"github.com/spitfiredb/spitfire/txn"
	"github.com/spitfiredb/spitfire/wal"
)

type testFixture struct {
	buf    *buffer.Manager
	mvto   *mvto.Manager
	schema *Schema
	table  *Table[IntKey]
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	ssdMgr, err := ssd.OpenMemory()
	require.NoError(t, err)
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	bufMgr := buffer.NewManager(buffer.Config{
		DRAMCapacityPages: 16,
		Policy:            buffer.DefaultMigrationPolicy(),
	}, ssdMgr, w, nil)
	headers := txn.NewStore(bufMgr)
	mvtoMgr := mvto.NewManager(bufMgr, headers, w, 1, 1)

	schema := NewSchema([]FieldInfo{
		{Name: "id", Type: FieldInt},
		{Name: "name", Type: FieldVarchar},
	})
	table := NewTable[IntKey](schema, headers)

	return &testFixture{buf: bufMgr, mvto: mvtoMgr, schema: schema, table: table}
}

func (f *testFixture) insert(t *testing.T, ctx *txn.Context, key int64, name string) {
	t.Helper()
	rec := NewRecord(f.schema)
	require.NoError(t, rec.SetInt(0, key))
	require.NoError(t, rec.SetVarchar(1, name))
	ex := &InsertExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Key: IntKey(key), Record: rec}
	require.True(t, ex.Execute(ctx))
}

func TestInsertThenTableScanSeesCommittedRow(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "alice")
	require.NoError(t, f.mvto.Commit(ctx))

	readCtx := f.mvto.Begin()
	var names []string
	scan := &TableScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Visit: func(key IntKey, rec *Record) bool {
		n, _ := rec.GetVarchar(1)
		names = append(names, n)
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
	require.Equal(t, []string{"alice"}, names)
}

func TestPointUpdateCreatesNewVisibleVersion(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "alice")
	require.NoError(t, f.mvto.Commit(ctx))

	updCtx := f.mvto.Begin()
	upd := &PointUpdateExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Key: IntKey(1), Mutate: func(r *Record) {
		_ = r.SetVarchar(1, "alice-updated")
	}}
	require.True(t, upd.Execute(updCtx))
	require.NoError(t, f.mvto.Commit(updCtx))

	readCtx := f.mvto.Begin()
	scan := &IndexScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Lower: IntKey(1), HasUpper: false, Visit: func(key IntKey, rec *Record) bool {
		n, _ := rec.GetVarchar(1)
		require.Equal(t, "alice-updated", n)
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
}

func TestPointDeleteThenScanFindsNothing(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "alice")
	require.NoError(t, f.mvto.Commit(ctx))

	delCtx := f.mvto.Begin()
	del := &PointDeleteExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Key: IntKey(1)}
	require.True(t, del.Execute(delCtx))
	require.NoError(t, f.mvto.Commit(delCtx))

	readCtx := f.mvto.Begin()
	visits := 0
	scan := &TableScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Visit: func(key IntKey, rec *Record) bool {
		visits++
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
	require.Equal(t, 0, visits)
}

func TestInsertOnDeletedRowResurrects(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "alice")
	require.NoError(t, f.mvto.Commit(ctx))

	delCtx := f.mvto.Begin()
	del := &PointDeleteExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Key: IntKey(1)}
	require.True(t, del.Execute(delCtx))
	require.NoError(t, f.mvto.Commit(delCtx))

	resurrectCtx := f.mvto.Begin()
	f.insert(t, resurrectCtx, 1, "alice-reborn")
	require.NoError(t, f.mvto.Commit(resurrectCtx))

	readCtx := f.mvto.Begin()
	var names []string
	scan := &TableScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Visit: func(key IntKey, rec *Record) bool {
		n, _ := rec.GetVarchar(1)
		names = append(names, n)
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
	require.Equal(t, []string{"alice-reborn"}, names)
}

func TestScanUpdateAppliesToAllMatches(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "a")
	f.insert(t, ctx, 2, "b")
	f.insert(t, ctx, 3, "c")
	require.NoError(t, f.mvto.Commit(ctx))

	updCtx := f.mvto.Begin()
	upd := &ScanUpdateExecutor[IntKey]{
		Table: f.table, MVTO: f.mvto, Buf: f.buf,
		Lower: IntKey(1), Upper: IntKey(3), HasUpper: true,
		Filter: func(key IntKey, rec *Record) (apply, keepGoing bool) { return true, true },
		Mutate: func(r *Record) { _ = r.SetVarchar(1, "x") },
	}
	require.True(t, upd.Execute(updCtx))
	require.NoError(t, f.mvto.Commit(updCtx))

	readCtx := f.mvto.Begin()
	var names []string
	scan := &TableScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Visit: func(key IntKey, rec *Record) bool {
		n, _ := rec.GetVarchar(1)
		names = append(names, n)
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
	require.Equal(t, []string{"x", "x", "c"}, names)
}

func TestScanDeleteRemovesAllMatches(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "a")
	f.insert(t, ctx, 2, "b")
	require.NoError(t, f.mvto.Commit(ctx))

	delCtx := f.mvto.Begin()
	del := &ScanDeleteExecutor[IntKey]{
		Table: f.table, MVTO: f.mvto, Buf: f.buf,
		Lower: IntKey(0), HasUpper: false,
		Filter: func(key IntKey, rec *Record) (apply, keepGoing bool) { return true, true },
	}
	require.True(t, del.Execute(delCtx))
	require.NoError(t, f.mvto.Commit(delCtx))

	readCtx := f.mvto.Begin()
	visits := 0
	scan := &TableScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Visit: func(key IntKey, rec *Record) bool {
		visits++
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
	require.Equal(t, 0, visits)
}

func TestAbortedUpdateRollsBackIndexEntry(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "alice")
	require.NoError(t, f.mvto.Commit(ctx))

	before, found := f.table.Index.Get(IntKey(1))
	require.True(t, found)

	updCtx := f.mvto.Begin()
	upd := &PointUpdateExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Key: IntKey(1), Mutate: func(r *Record) {
		_ = r.SetVarchar(1, "should-not-stick")
	}}
	require.True(t, upd.Execute(updCtx))

	require.NoError(t, f.mvto.Abort(updCtx, RollbackDispatch(f.table)))

	after, found := f.table.Index.Get(IntKey(1))
	require.True(t, found)
	require.Equal(t, before, after) // ReinstateIndexEntry restored the predecessor pointer

	readCtx := f.mvto.Begin()
	scan := &IndexScanExecutor[IntKey]{Table: f.table, MVTO: f.mvto, Buf: f.buf, Lower: IntKey(1), HasUpper: false, Visit: func(key IntKey, rec *Record) bool {
		n, _ := rec.GetVarchar(1)
		require.Equal(t, "alice", n)
		return true
	}}
	require.True(t, scan.Execute(readCtx))
	require.NoError(t, f.mvto.Commit(readCtx))
}

func TestAbortedInsertRemovesIndexEntry(t *testing.T) {
	f := newFixture(t)

	ctx := f.mvto.Begin()
	f.insert(t, ctx, 1, "alice")
	require.NoError(t, f.mvto.Abort(ctx, RollbackDispatch(f.table)))

	_, found := f.table.Index.Get(IntKey(1))
	require.False(t, found) // DeleteIndexEntry undid the fresh insert
}
