package kv

import "encoding/binary"

// KeyKind tags which variant of Key is populated.
type KeyKind uint8

const (
	KindStr KeyKind = iota
	KindU32
	KindI64
)

// Key is a tagged union over {string, u32, i64}, the routing and storage
// key type used throughout the core. Encode yields bytes ordered the same
// way as the tagged value so bbolt's ordered-key iteration matches value
// order for the numeric variants.
type Key struct {
	Kind KeyKind
	Str  string
	U32  uint32
	I64  int64
}

// StrKey builds a string-keyed Key.
func StrKey(s string) Key { return Key{Kind: KindStr, Str: s} }

// U32Key builds a u32-keyed Key.
func U32Key(v uint32) Key { return Key{Kind: KindU32, U32: v} }

// I64Key builds an i64-keyed Key.
func I64Key(v int64) Key { return Key{Kind: KindI64, I64: v} }

// Encode renders the key to the byte slice bbolt stores and orders.
//
// u32 and i64 are encoded big-endian so that bbolt's lexicographic byte
// ordering matches numeric ordering; i64 additionally flips the sign bit
// so negative numbers sort before positive ones.
func (k Key) Encode() []byte {
	switch k.Kind {
	case KindStr:
		return []byte(k.Str)
	case KindU32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, k.U32)
		return buf
	case KindI64:
		buf := make([]byte, 8)
		u := uint64(k.I64) ^ (1 << 63)
		binary.BigEndian.PutUint64(buf, u)
		return buf
	default:
		return nil
	}
}

// DecodeU32 reverses the u32 encoding produced by Encode.
func DecodeU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// DecodeI64 reverses the i64 encoding produced by Encode.
func DecodeI64(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (1 << 63))
}
