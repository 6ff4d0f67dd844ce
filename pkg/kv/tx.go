package kv

import (
	"fmt"

	"github.com/cuemby/tagstore/pkg/errs"
	bolt "go.etcd.io/bbolt"
)

// PutResult is the outcome of a conditional put.
type PutResult int

const (
	PutOK PutResult = iota
	PutKeyExists
)

// Tx wraps a single-threaded bbolt transaction, read-only or read-write.
type Tx struct {
	tx       *bolt.Tx
	writable bool
}

// Writable reports whether the transaction may mutate state.
func (t *Tx) Writable() bool { return t.writable }

// Commit commits a read-write transaction. Calling Commit on a read-only
// transaction releases its snapshot, same as Abort.
func (t *Tx) Commit() error {
	if !t.writable {
		t.Abort()
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	return nil
}

// Abort discards the transaction without persisting any writes.
func (t *Tx) Abort() {
	_ = t.tx.Rollback()
}

// Put inserts or overwrites key in db, unless noOverwrite is set and the
// key already exists, in which case it returns PutKeyExists without
// mutating anything.
func (t *Tx) Put(db string, key Key, value []byte, noOverwrite bool) (PutResult, error) {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return 0, fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	k := key.Encode()
	if noOverwrite {
		if existing := b.Get(k); existing != nil {
			return PutKeyExists, nil
		}
	}
	if err := b.Put(k, value); err != nil {
		return 0, fmt.Errorf("kv: put: %w", err)
	}
	return PutOK, nil
}

// Get returns the value for key in db. The returned slice is only valid
// until the transaction ends; callers that need to retain it must copy.
func (t *Tx) Get(db string, key Key) ([]byte, bool, error) {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return nil, false, fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	v := b.Get(key.Encode())
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Delete removes key from db.
func (t *Tx) Delete(db string, key Key) error {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	return b.Delete(key.Encode())
}

// Cursor returns a cursor over db, walking keys in ascending byte order.
func (t *Tx) Cursor(db string) (*Cursor, error) {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return nil, fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	return &Cursor{c: b.Cursor()}, nil
}

// Cursor iterates a database's entries in key order.
type Cursor struct {
	c *bolt.Cursor
}

func (c *Cursor) First() (k, v []byte) { return c.c.First() }
func (c *Cursor) Last() (k, v []byte)  { return c.c.Last() }
func (c *Cursor) Next() (k, v []byte)  { return c.c.Next() }
func (c *Cursor) Prev() (k, v []byte)  { return c.c.Prev() }

// Seek positions at the first key >= key.
func (c *Cursor) Seek(key Key) (k, v []byte) { return c.c.Seek(key.Encode()) }

// IndexPut inserts a (value, eventID) pair into a duplicate-key secondary
// index database. bbolt has no native dupsort mode, so duplicates are
// modeled as a composite key `value‖eventID` mapping to an empty value;
// Cursor.Seek with a value prefix then yields every eventID for that
// value in ascending order.
func (t *Tx) IndexPut(db string, value []byte, eventID uint32) error {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	composite := append(append([]byte(nil), value...), encodeU32(eventID)...)
	return b.Put(composite, []byte{})
}

// IndexScan visits every eventID stored under exactly value, in ascending
// order, until fn returns false or entries are exhausted.
func (t *Tx) IndexScan(db string, value []byte, fn func(eventID uint32) bool) error {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	c := b.Cursor()
	prefix := value
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != len(prefix)+4 {
			continue
		}
		id := decodeU32(k[len(k)-4:])
		if !fn(id) {
			return nil
		}
	}
	return nil
}

// IndexRange visits every (value, eventID) pair with value in [from, to)
// (to == nil means unbounded), used for comparison operators (<, <=, >,
// >=) on indexed keys.
func (t *Tx) IndexRange(db string, from, to []byte, fn func(value []byte, eventID uint32) bool) error {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return fmt.Errorf("kv: no such database %q: %w", db, errs.ErrConsistencyFault)
	}
	c := b.Cursor()
	var k []byte
	if from != nil {
		k, _ = c.Seek(from)
	} else {
		k, _ = c.First()
	}
	for ; k != nil; k, _ = c.Next() {
		if len(k) < 4 {
			continue
		}
		value := k[:len(k)-4]
		if to != nil && compareBytes(value, to) >= 0 {
			return nil
		}
		id := decodeU32(k[len(k)-4:])
		if !fn(value, id) {
			return nil
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

func encodeU32(v uint32) []byte {
	return U32Key(v).Encode()
}

func decodeU32(b []byte) uint32 {
	return DecodeU32(b)
}
