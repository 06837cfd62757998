// Package engine provides Spitfire's thin heap-table/record layer and the
// executors built over it (spec.md §1: "the heap table data layout
// (consumed as a partitioned record store)", §4.7 "Executors"). Record,
// Schema and FieldInfo are adapted from
// original_source/include/engine/{record,schema,field}.h, generalized
// from the original's raw-pointer/malloc field access into a fixed-layout
// byte-slice codec (spec.md §6 "Page layout").
package engine

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/status"
)

// FieldType enumerates the column types original_source/include/engine/field.h
// declares (FiledType::INTEGER/DOUBLE/VARCHAR), trimmed to what Spitfire's
// executors actually need to exercise real tuples.
type FieldType uint8

const (
	FieldInt FieldType = iota
	FieldDouble
	FieldVarchar
)

// varcharInlineBytes bounds the fixed-width slot a VARCHAR column occupies
// inline in the record (original_source stores an out-of-line pointer;
// Go's buffer-manager pages have no stable process addresses to point
// into, so Spitfire inlines a bounded, zero-padded byte run instead —
// justified in DESIGN.md).
const varcharInlineBytes = 32

// FieldInfo describes one column's physical layout, mirroring
// original_source's FieldInfo{offset, ser_len, deser_len, type, inlined}.
type FieldInfo struct {
	Name   string
	Type   FieldType
	Offset int
	Length int // on-disk width in bytes
}

func fieldWidth(t FieldType) int {
	switch t {
	case FieldInt:
		return 8
	case FieldDouble:
		return 8
	case FieldVarchar:
		return varcharInlineBytes
	default:
		return 0
	}
}

// Schema is an ordered list of columns with their computed byte offsets,
// mirroring original_source's Schema (schema.h), which precomputes
// ser_len/deser_len and per-column offsets once at construction.
type Schema struct {
	Columns []FieldInfo
	RowSize int
}

// NewSchema lays out cols sequentially and computes the total row size.
func NewSchema(cols []FieldInfo) *Schema {
	s := &Schema{Columns: make([]FieldInfo, len(cols))}
	off := 0
	for i, c := range cols {
		c.Offset = off
		c.Length = fieldWidth(c.Type)
		s.Columns[i] = c
		off += c.Length
	}
	s.RowSize = off
	return s
}

// Record is a fixed-layout tuple backed by a byte slice, mirroring
// original_source's Record{sptr, data} pair but over a Go slice instead of
// a raw pointer.
type Record struct {
	Schema *Schema
	Data   []byte
}

// NewRecord allocates a zeroed record for schema.
func NewRecord(schema *Schema) *Record {
	return &Record{Schema: schema, Data: make([]byte, schema.RowSize)}
}

// WrapRecord views an existing byte slice (e.g. a buffer-manager page
// range) as a record of schema without copying.
func WrapRecord(schema *Schema, data []byte) *Record {
	return &Record{Schema: schema, Data: data}
}

func (r *Record) field(id int) (FieldInfo, error) {
	if id < 0 || id >= len(r.Schema.Columns) {
		return FieldInfo{}, errors.Wrap(status.ErrInvariantViolation, "field id out of range")
	}
	return r.Schema.Columns[id], nil
}

// GetInt reads field id as an INTEGER column (original_source's GetData
// case FiledType::INTEGER).
func (r *Record) GetInt(id int) (int64, error) {
	f, err := r.field(id)
	if err != nil {
		return 0, err
	}
	if f.Type != FieldInt {
		return 0, errors.Wrap(status.ErrInvariantViolation, "field is not INTEGER")
	}
	return int64(binary.LittleEndian.Uint64(r.Data[f.Offset : f.Offset+8])), nil
}

// SetInt writes field id as an INTEGER column.
func (r *Record) SetInt(id int, v int64) error {
	f, err := r.field(id)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(r.Data[f.Offset:f.Offset+8], uint64(v))
	return nil
}

// GetDouble reads field id as a DOUBLE column.
func (r *Record) GetDouble(id int) (float64, error) {
	f, err := r.field(id)
	if err != nil {
		return 0, err
	}
	if f.Type != FieldDouble {
		return 0, errors.Wrap(status.ErrInvariantViolation, "field is not DOUBLE")
	}
	bits := binary.LittleEndian.Uint64(r.Data[f.Offset : f.Offset+8])
	return math.Float64frombits(bits), nil
}

// SetDouble writes field id as a DOUBLE column.
func (r *Record) SetDouble(id int, v float64) error {
	f, err := r.field(id)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(r.Data[f.Offset:f.Offset+8], math.Float64bits(v))
	return nil
}

// GetVarchar reads field id as a VARCHAR column, trimming zero padding.
func (r *Record) GetVarchar(id int) (string, error) {
	f, err := r.field(id)
	if err != nil {
		return "", err
	}
	if f.Type != FieldVarchar {
		return "", errors.Wrap(status.ErrInvariantViolation, "field is not VARCHAR")
	}
	raw := r.Data[f.Offset : f.Offset+f.Length]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n]), nil
}

// SetVarchar writes field id as a VARCHAR column, truncating to fit and
// zero-padding the remainder.
func (r *Record) SetVarchar(id int, v string) error {
	f, err := r.field(id)
	if err != nil {
		return err
	}
	if f.Type != FieldVarchar {
		return errors.Wrap(status.ErrInvariantViolation, "field is not VARCHAR")
	}
	dst := r.Data[f.Offset : f.Offset+f.Length]
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, v)
	return nil
}

// CopyFrom overwrites r's bytes with src's (original_source's
// Record::SetData, which memcpy's one field at a time between records of
// the same schema; Spitfire's records are always contiguous so this does
// it in one copy).
func (r *Record) CopyFrom(src *Record) {
	copy(r.Data, src.Data)
}
