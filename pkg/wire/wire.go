// Package wire is the single portable binary encoder/decoder shared by
// event bodies and any other self-describing multi-field record in the
// core (index registry records use their own fixed single-field format
// and do not need this; see pkg/registry).
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/tagstore/pkg/errs"
)

// FieldType tags a Field's value representation.
type FieldType uint8

const (
	FieldStr FieldType = iota
	FieldInt
)

// Field is one named value in a record.
type Field struct {
	Name string
	Type FieldType
	Str  string
	Int  int64
}

// Encode renders fields as: [u16 count] then per field
// [u16 nameLen][name][u8 type][value], where a string value is
// [u32 len][bytes] and an int value is 8 bytes big-endian.
func Encode(fields []Field) []byte {
	size := 2
	for _, f := range fields {
		size += 2 + len(f.Name) + 1
		if f.Type == FieldStr {
			size += 4 + len(f.Str)
		} else {
			size += 8
		}
	}
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(len(fields)))
	off += 2
	for _, f := range fields {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(f.Name)))
		off += 2
		off += copy(buf[off:], f.Name)
		buf[off] = byte(f.Type)
		off++
		if f.Type == FieldStr {
			binary.BigEndian.PutUint32(buf[off:], uint32(len(f.Str)))
			off += 4
			off += copy(buf[off:], f.Str)
		} else {
			binary.BigEndian.PutUint64(buf[off:], uint64(f.Int))
			off += 8
		}
	}
	return buf
}

// Decode reverses Encode, reporting errs.ErrCorrupt on any truncation.
func Decode(b []byte) ([]Field, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("wire: truncated record header: %w", errs.ErrCorrupt)
	}
	count := int(binary.BigEndian.Uint16(b))
	off := 2
	out := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(b) {
			return nil, fmt.Errorf("wire: truncated field name length: %w", errs.ErrCorrupt)
		}
		nameLen := int(binary.BigEndian.Uint16(b[off:]))
		off += 2
		if off+nameLen+1 > len(b) {
			return nil, fmt.Errorf("wire: truncated field name/type: %w", errs.ErrCorrupt)
		}
		name := string(b[off : off+nameLen])
		off += nameLen
		typ := FieldType(b[off])
		off++
		f := Field{Name: name, Type: typ}
		switch typ {
		case FieldStr:
			if off+4 > len(b) {
				return nil, fmt.Errorf("wire: truncated string length: %w", errs.ErrCorrupt)
			}
			strLen := int(binary.BigEndian.Uint32(b[off:]))
			off += 4
			if off+strLen > len(b) {
				return nil, fmt.Errorf("wire: truncated string value: %w", errs.ErrCorrupt)
			}
			f.Str = string(b[off : off+strLen])
			off += strLen
		case FieldInt:
			if off+8 > len(b) {
				return nil, fmt.Errorf("wire: truncated int value: %w", errs.ErrCorrupt)
			}
			f.Int = int64(binary.BigEndian.Uint64(b[off:]))
			off += 8
		default:
			return nil, fmt.Errorf("wire: unknown field type %d: %w", typ, errs.ErrCorrupt)
		}
		out = append(out, f)
	}
	return out, nil
}

// Get returns the named field, if present.
func Get(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
