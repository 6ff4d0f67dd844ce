// Package kv is the ordered, transactional key/value substrate: one bbolt
// environment per container, with named sub-databases (bbolt buckets) and
// single-threaded read/write transactions. It also defines the duplicate-
// value index-bucket convention secondary indexes use.
package kv

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Env wraps one bbolt environment: a single file holding every named
// database for one container.
type Env struct {
	db   *bolt.DB
	path string
}

// OpenEnv opens (creating if absent) the environment at path with the
// given named sub-databases. maxMapSize is accepted for interface parity
// with the spec's "max map size" knob; bbolt grows its file on demand and
// does not need a hard upper bound reserved up front.
func OpenEnv(path string, maxMapSize int64, dbNames []string) (*Env, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open environment %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range dbNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("kv: create database %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Env{db: db, path: path}, nil
}

// EnsureDB creates an additional named database (used when opening a
// secondary index database discovered via the index registry after the
// environment was first opened).
func (e *Env) EnsureDB(name string) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

// Close closes the environment.
func (e *Env) Close() error { return e.db.Close() }

// Path returns the environment's file path.
func (e *Env) Path() string { return e.path }

// BeginRo opens a read-only transaction.
func (e *Env) BeginRo() (*Tx, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("kv: begin read txn: %w", err)
	}
	return &Tx{tx: tx, writable: false}, nil
}

// BeginRw opens a read-write transaction. bbolt serializes writers itself
// (one writer at a time per environment), matching the spec's "blocks on
// the environment's own writer lock for write txns only".
func (e *Env) BeginRw() (*Tx, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("kv: begin write txn: %w", err)
	}
	return &Tx{tx: tx, writable: true}, nil
}

// View runs fn inside a read-only transaction, aborting on return.
func (e *Env) View(fn func(tx *Tx) error) error {
	rtx, err := e.BeginRo()
	if err != nil {
		return err
	}
	defer rtx.Abort()
	return fn(rtx)
}

// Update runs fn inside a read-write transaction, committing on success
// and aborting on error.
func (e *Env) Update(fn func(tx *Tx) error) error {
	wtx, err := e.BeginRw()
	if err != nil {
		return err
	}
	if err := fn(wtx); err != nil {
		wtx.Abort()
		return err
	}
	return wtx.Commit()
}
