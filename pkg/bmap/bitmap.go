// Package bmap is the bitmap type used by the inverted event index and the
// bitmap cache: set/get/AND/OR/XOR/NOT plus a portable serialize format
// that is stable across big- and little-endian hosts.
//
// It is a thin wrapper over github.com/RoaringBitmap/roaring/v2; the
// roaring container format already satisfies the "portable, same across
// endianness" requirement, so the wrapper only adds the operations and
// naming the rest of the core expects.
package bmap

import (
	"bytes"

	"github.com/RoaringBitmap/roaring/v2"
)

// Bitmap is a set of non-negative event ids.
type Bitmap struct {
	rb *roaring.Bitmap
}

// New returns an empty bitmap.
func New() *Bitmap {
	return &Bitmap{rb: roaring.New()}
}

// FromValues returns a bitmap containing exactly the given ids.
func FromValues(values ...uint32) *Bitmap {
	b := New()
	for _, v := range values {
		b.rb.Add(v)
	}
	return b
}

// Clone returns a deep copy, used by the consumer's copy-on-write path so
// mutation never touches a bitmap a reader may be observing.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{rb: b.rb.Clone()}
}

// Add inserts an event id.
func (b *Bitmap) Add(v uint32) { b.rb.Add(v) }

// Remove deletes an event id, a no-op if absent.
func (b *Bitmap) Remove(v uint32) { b.rb.Remove(v) }

// Contains reports whether v is a member.
func (b *Bitmap) Contains(v uint32) bool { return b.rb.Contains(v) }

// Cardinality returns the number of members.
func (b *Bitmap) Cardinality() uint64 { return b.rb.GetCardinality() }

// ToSlice returns members in ascending order.
func (b *Bitmap) ToSlice() []uint32 { return b.rb.ToArray() }

// Iterate visits members in ascending order, stopping early if fn returns false.
func (b *Bitmap) Iterate(fn func(v uint32) bool) {
	it := b.rb.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// And returns the intersection of a and b, newly allocated.
func And(a, b *Bitmap) *Bitmap {
	return &Bitmap{rb: roaring.And(a.rb, b.rb)}
}

// Or returns the union of a and b, newly allocated.
func Or(a, b *Bitmap) *Bitmap {
	return &Bitmap{rb: roaring.Or(a.rb, b.rb)}
}

// Xor returns the symmetric difference of a and b, newly allocated.
func Xor(a, b *Bitmap) *Bitmap {
	return &Bitmap{rb: roaring.Xor(a.rb, b.rb)}
}

// Not returns the complement of a within [0, universe), newly allocated.
func Not(a *Bitmap, universe uint64) *Bitmap {
	out := a.rb.Clone()
	out.Flip(0, universe)
	return &Bitmap{rb: out}
}

// Serialize writes the bitmap in the portable roaring container format.
func (b *Bitmap) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.rb.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize parses a bitmap previously produced by Serialize. A corrupt
// or truncated buffer is reported to the caller, who is responsible for
// mapping it to the corruption error kind.
func Deserialize(data []byte) (*Bitmap, error) {
	rb := roaring.New()
	if _, err := rb.FromBuffer(data); err != nil {
		return nil, err
	}
	return &Bitmap{rb: rb}, nil
}
