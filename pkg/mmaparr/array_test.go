package mmaparr

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSetGetAcrossResize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arr.bin")
	a, err := Open(path, 4, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	for i := int64(0); i < 5000; i++ {
		val := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		if err := a.Set(i, val); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}

	for i := int64(0); i < 5000; i++ {
		got, err := a.Get(i)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		want := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		if !bytes.Equal(got, want) {
			t.Fatalf("index %d: got %v want %v", i, got, want)
		}
	}
}

func TestGetOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arr.bin")
	a, err := Open(path, 4, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if _, err := a.Get(1000); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
