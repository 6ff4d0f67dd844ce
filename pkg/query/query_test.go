package query

import (
	"testing"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/bmap"
	"github.com/cuemby/tagstore/pkg/cache"
	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/registry"
	"github.com/cuemby/tagstore/pkg/tagkey"
)

func openTestContainer(t *testing.T) *container.Container {
	t.Helper()
	dir := t.TempDir()
	c, err := container.OpenUser(container.Config{DataDir: dir}, "q")
	if err != nil {
		t.Fatalf("open user container: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func putInvertedIndex(t *testing.T, c *container.Container, key, value string, ids ...uint32) {
	t.Helper()
	bm := bmap.FromValues(ids...)
	data, err := bm.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	err = c.Env.Update(func(tx *kv.Tx) error {
		_, err := tx.Put(container.DBInvertedEventIndex, kv.StrKey(tagkey.Tag(key, value)), data, false)
		return err
	})
	if err != nil {
		t.Fatalf("put inverted index: %v", err)
	}
}

func TestQueryResolvesLeafFromDiskAndAppliesAnd(t *testing.T) {
	c := openTestContainer(t)
	putInvertedIndex(t, c, "loc", "ca", 1, 4)
	putInvertedIndex(t, c, "env", "prod", 1, 3, 4)

	reg, err := registry.OpenLocal(c)
	if err != nil {
		t.Fatalf("open local registry: %v", err)
	}

	e := New(c, nil, 1, reg)
	where := &ast.Expr{
		Kind: ast.ExprAnd,
		Left: &ast.Expr{Kind: ast.ExprTag, Key: "loc", Value: ast.Literal{Type: ast.ValStr, Str: "ca"}},
		Right: &ast.Expr{Kind: ast.ExprTag, Key: "env", Value: ast.Literal{Type: ast.ValStr, Str: "prod"}},
	}

	ids, err := e.Run(where, 0, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 4 {
		t.Fatalf("expected [1 4], got %v", ids)
	}
}

func TestQueryNotComplementsWithinUniverse(t *testing.T) {
	c := openTestContainer(t)
	putInvertedIndex(t, c, "loc", "ca", 0, 3, 4)
	setNextEventID(t, c, 6)

	reg, _ := registry.OpenLocal(c)
	e := New(c, nil, 1, reg)

	where := &ast.Expr{Kind: ast.ExprNot, Inner: &ast.Expr{Kind: ast.ExprTag, Key: "loc", Value: ast.Literal{Type: ast.ValStr, Str: "ca"}}}
	ids, err := e.Run(where, 0, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 5 {
		t.Fatalf("expected [1 2 5], got %v", ids)
	}
}

func TestQueryRejectsCursor(t *testing.T) {
	c := openTestContainer(t)
	reg, _ := registry.OpenLocal(c)
	e := New(c, nil, 1, reg)
	_, err := e.Run(&ast.Expr{Kind: ast.ExprTag, Key: "loc", Value: ast.Literal{Str: "ca"}}, 0, "abc")
	if err == nil {
		t.Fatalf("expected cursor rejection")
	}
}

func TestQueryResolvesLeafFromCacheHit(t *testing.T) {
	c := openTestContainer(t)
	consumer := cache.New(4)
	serKey := tagkey.Build("q", tagkey.DBKindInvertedIndex, "loc", "ca")
	entry := &cache.Entry{Key: serKey, Bitmap: bmap.FromValues(7, 9)}
	if err := consumer.Insert(entry); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reg, _ := registry.OpenLocal(c)
	e := New(c, []*cache.Cache{consumer}, 1, reg)
	ids, err := e.Run(&ast.Expr{Kind: ast.ExprTag, Key: "loc", Value: ast.Literal{Type: ast.ValStr, Str: "ca"}}, 0, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ids) != 2 || ids[0] != 7 || ids[1] != 9 {
		t.Fatalf("expected [7 9] from cache, got %v", ids)
	}
}

func setNextEventID(t *testing.T, c *container.Container, n uint32) {
	t.Helper()
	buf := make([]byte, 4)
	buf[0] = byte(n >> 24)
	buf[1] = byte(n >> 16)
	buf[2] = byte(n >> 8)
	buf[3] = byte(n)
	err := c.Env.Update(func(tx *kv.Tx) error {
		_, err := tx.Put(container.DBMetadata, kv.StrKey(container.MetaNextEventID), buf, false)
		return err
	})
	if err != nil {
		t.Fatalf("set next event id: %v", err)
	}
}
