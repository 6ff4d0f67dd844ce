// Package registry is the persisted catalog of secondary indexes per
// container: one record per indexed tag, loaded into an insertion-ordered
// in-memory map keyed by tag name.
package registry

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/kv"
	orderedmap "github.com/elliotchance/orderedmap/v2"
)

// ValueType is the declared value type of an indexed key.
type ValueType uint8

const (
	ValueString ValueType = iota
	ValueI64
)

// Entry is one registered secondary index.
type Entry struct {
	Key  string
	Type ValueType
}

// Registry is the in-memory, insertion-ordered view of a container's
// index_registry_*_db, keyed by tag name.
type Registry struct {
	mu      sync.RWMutex
	byKey   *orderedmap.OrderedMap[string, Entry]
	dbName  string // which KV database backs this registry
}

// encodeEntry is the self-describing binary record format: a 1-byte type
// tag, a 2-byte length prefix, then the key bytes.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 1+2+len(e.Key))
	buf[0] = byte(e.Type)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(e.Key)))
	copy(buf[3:], e.Key)
	return buf
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) < 3 {
		return Entry{}, fmt.Errorf("registry: truncated record: %w", errs.ErrCorrupt)
	}
	typ := ValueType(b[0])
	n := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < 3+n {
		return Entry{}, fmt.Errorf("registry: truncated key: %w", errs.ErrCorrupt)
	}
	return Entry{Key: string(b[3 : 3+n]), Type: typ}, nil
}

// OpenGlobal loads (and, if absent, seeds) the system container's global
// index registry, seeding {key:"ts", type:i64} on first initialization.
func OpenGlobal(c *container.Container) (*Registry, error) {
	r := &Registry{byKey: orderedmap.NewOrderedMap[string, Entry](), dbName: container.DBIndexRegistryGlobal}
	if err := r.load(c); err != nil {
		return nil, err
	}
	if r.byKey.Len() == 0 {
		if err := r.add(c, Entry{Key: "ts", Type: ValueI64}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// OpenLocal loads a user container's local registry. The caller is
// responsible for copying the global registry's bytes into the local
// registry database before calling OpenLocal on a brand new container
// (see CopyFrom), and for opening each listed secondary index database.
func OpenLocal(c *container.Container) (*Registry, error) {
	r := &Registry{byKey: orderedmap.NewOrderedMap[string, Entry](), dbName: container.DBIndexRegistryLocal}
	if err := r.load(c); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(c *container.Container) error {
	return c.Env.View(func(tx *kv.Tx) error {
		cur, err := tx.Cursor(r.dbName)
		if err != nil {
			return err
		}
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			r.byKey.Set(e.Key, e)
		}
		return nil
	})
}

// CopyFrom persists every entry of src into dst's backing database and
// in-memory map, used when a new user container is opened: the global
// registry's bytes are copied into the local registry before any
// secondary index database is opened.
func CopyFrom(c *container.Container, src *Registry, dstDBName string) (*Registry, error) {
	dst := &Registry{byKey: orderedmap.NewOrderedMap[string, Entry](), dbName: dstDBName}
	src.mu.RLock()
	entries := make([]Entry, 0, src.byKey.Len())
	for el := src.byKey.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value)
	}
	src.mu.RUnlock()

	if err := c.Env.Update(func(tx *kv.Tx) error {
		for _, e := range entries {
			if _, err := tx.Put(dstDBName, kv.StrKey(e.Key), encodeEntry(e), false); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		dst.byKey.Set(e.Key, e)
	}
	return dst, nil
}

// Add registers a new secondary index, refusing duplicate keys. The
// caller must also open the backing index_<key>_db database.
func (r *Registry) Add(c *container.Container, e Entry) error {
	return r.add(c, e)
}

func (r *Registry) add(c *container.Container, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey.Get(e.Key); exists {
		return fmt.Errorf("registry: duplicate index key %q: %w", e.Key, errs.ErrInvalidInput)
	}

	if err := c.Env.Update(func(tx *kv.Tx) error {
		res, err := tx.Put(r.dbName, kv.StrKey(e.Key), encodeEntry(e), true)
		if err != nil {
			return err
		}
		if res == kv.PutKeyExists {
			return fmt.Errorf("registry: duplicate index key %q: %w", e.Key, errs.ErrInvalidInput)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.Env.EnsureDB(container.IndexDBName(e.Key)); err != nil {
		return err
	}

	r.byKey.Set(e.Key, e)
	return nil
}

// Lookup returns the entry for tag key, if registered.
func (r *Registry) Lookup(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey.Get(key)
}

// Keys returns every registered tag key, in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, r.byKey.Len())
	for el := r.byKey.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}
