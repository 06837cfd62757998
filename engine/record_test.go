package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema([]FieldInfo{
		{Name: "id", Type: FieldInt},
		{Name: "balance", Type: FieldDouble},
		{Name: "name", Type: FieldVarchar},
	})
}

func TestRecordIntDoubleVarcharRoundTrip(t *testing.T) {
	schema := testSchema()
	rec := NewRecord(schema)

	require.NoError(t, rec.SetInt(0, -42))
	require.NoError(t, rec.SetDouble(1, 3.25))
	require.NoError(t, rec.SetVarchar(2, "hello"))

	i, err := rec.GetInt(0)
	require.NoError(t, err)
	require.Equal(t, int64(-42), i)

	d, err := rec.GetDouble(1)
	require.NoError(t, err)
	require.Equal(t, 3.25, d)

	s, err := rec.GetVarchar(2)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestVarcharTruncatesAndZeroPads(t *testing.T) {
	schema := testSchema()
	rec := NewRecord(schema)

	long := strings.Repeat("x", varcharInlineBytes+10)
	require.NoError(t, rec.SetVarchar(2, long))

	s, err := rec.GetVarchar(2)
	require.NoError(t, err)
	require.Equal(t, varcharInlineBytes, len(s))
}

func TestFieldTypeMismatchErrors(t *testing.T) {
	schema := testSchema()
	rec := NewRecord(schema)

	_, err := rec.GetInt(1) // field 1 is DOUBLE
	require.Error(t, err)

	_, err = rec.GetVarchar(0) // field 0 is INTEGER
	require.Error(t, err)
}

func TestFieldIDOutOfRange(t *testing.T) {
	schema := testSchema()
	rec := NewRecord(schema)

	_, err := rec.GetInt(99)
	require.Error(t, err)
}

func TestCopyFromDuplicatesBytes(t *testing.T) {
	schema := testSchema()
	src := NewRecord(schema)
	require.NoError(t, src.SetInt(0, 7))

	dst := NewRecord(schema)
	dst.CopyFrom(src)

	v, err := dst.GetInt(0)
	require.NoError(t, err)
	require.Equal(t, int64(7), v)

	// mutating src afterwards must not affect dst (independent backing slices).
	require.NoError(t, src.SetInt(0, 99))
	v, _ = dst.GetInt(0)
	require.Equal(t, int64(7), v)
}
