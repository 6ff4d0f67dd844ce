package kv

import (
	"path/filepath"
	"testing"
)

func openTestEnv(t *testing.T) *Env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	env, err := OpenEnv(path, 1<<20, []string{"metadata", "events"})
	if err != nil {
		t.Fatalf("OpenEnv: %v", err)
	}
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestPutGetNoOverwrite(t *testing.T) {
	env := openTestEnv(t)

	if err := env.Update(func(tx *Tx) error {
		res, err := tx.Put("metadata", StrKey("a"), []byte("1"), true)
		if err != nil {
			return err
		}
		if res != PutOK {
			t.Fatalf("expected PutOK, got %v", res)
		}
		res, err = tx.Put("metadata", StrKey("a"), []byte("2"), true)
		if err != nil {
			return err
		}
		if res != PutKeyExists {
			t.Fatalf("expected PutKeyExists, got %v", res)
		}
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := env.View(func(tx *Tx) error {
		v, ok, err := tx.Get("metadata", StrKey("a"))
		if err != nil {
			return err
		}
		if !ok || string(v) != "1" {
			t.Fatalf("expected unchanged value '1', got %q ok=%v", v, ok)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestIndexScan(t *testing.T) {
	env := openTestEnv(t)
	if err := env.EnsureDB("index_loc_db"); err != nil {
		t.Fatalf("ensure db: %v", err)
	}

	if err := env.Update(func(tx *Tx) error {
		for _, id := range []uint32{4, 1, 2} {
			if err := tx.IndexPut("index_loc_db", []byte("ca"), id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var got []uint32
	if err := env.View(func(tx *Tx) error {
		return tx.IndexScan("index_loc_db", []byte("ca"), func(id uint32) bool {
			got = append(got, id)
			return true
		})
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	want := []uint32{1, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestU32KeyOrdering(t *testing.T) {
	env := openTestEnv(t)
	if err := env.Update(func(tx *Tx) error {
		for _, v := range []uint32{300, 1, 42} {
			if _, err := tx.Put("events", U32Key(v), []byte{byte(v)}, false); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var order []uint32
	if err := env.View(func(tx *Tx) error {
		c, err := tx.Cursor("events")
		if err != nil {
			return err
		}
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			order = append(order, DecodeU32(k))
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	want := []uint32{1, 42, 300}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}
