package cache

import (
	"testing"

	"github.com/cuemby/tagstore/pkg/bmap"
)

func TestInsertGetAndDirtyTracking(t *testing.T) {
	c := New(4)
	e := &Entry{Key: "k1", Bitmap: bmap.FromValues(1)}
	if err := c.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	g := c.EBR.Enter()
	b, ok := c.Get("k1")
	if !ok || b.Cardinality() != 1 {
		t.Fatalf("expected cached bitmap with 1 member")
	}
	g.Exit()

	if e.Dirty() {
		t.Fatalf("freshly inserted entry should not be dirty")
	}

	next := e.Bitmap.Clone()
	next.Add(2)
	c.Swap(e, next)
	c.MarkDirty(e)

	if !e.Dirty() {
		t.Fatalf("expected entry to be dirty after swap")
	}
	if c.DirtyCount() != 1 {
		t.Fatalf("expected 1 dirty entry, got %d", c.DirtyCount())
	}

	dirty := c.DrainDirty()
	if len(dirty) != 1 || dirty[0] != e {
		t.Fatalf("expected to drain exactly the one dirty entry")
	}
	if c.DirtyCount() != 0 {
		t.Fatalf("expected dirty list cleared after drain")
	}
}

func TestEvictionSkipsDirtyEntries(t *testing.T) {
	c := New(2)
	a := &Entry{Key: "a", Bitmap: bmap.New()}
	b := &Entry{Key: "b", Bitmap: bmap.New()}
	if err := c.Insert(a); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := c.Insert(b); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	// Make the LRU tail (a) dirty; eviction must skip over it.
	c.Swap(a, a.Bitmap.Clone())
	c.MarkDirty(a)

	n := &Entry{Key: "n", Bitmap: bmap.New()}
	if err := c.Insert(n); err != nil {
		t.Fatalf("insert n: %v", err)
	}

	if _, ok := c.Get("a"); !ok {
		t.Fatalf("dirty entry 'a' should not have been evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("clean entry 'b' should have been evicted")
	}
}
