// Package ids implements the entity-id resolver (string<->u32 bijection,
// LRU-cached) and the id manager (global entity-id counter, per-container
// event-id block reservation).
package ids

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/kv"
	lru "github.com/hashicorp/golang-lru/v2"
)

// pendingMapping is a string<->id pair not yet durably persisted, kept on
// a dirty list the writer drains via the lock-swap pattern.
type pendingMapping struct {
	Str string
	ID  uint32
}

// Resolver is the LRU-cached string<->u32 bijection backed by the system
// container's str_to_entity_id_db / int_to_entity_id_db.
type Resolver struct {
	mu        sync.Mutex
	byStr     *lru.Cache[string, uint32]
	byID      *lru.Cache[uint32, string]
	allocator *Manager

	sys *container.Container

	dirtyMu sync.Mutex
	dirty   []pendingMapping
}

// NewResolver builds a resolver over cacheSize entries for each
// direction, backed by the system container and id allocator.
func NewResolver(sys *container.Container, allocator *Manager, cacheSize int) (*Resolver, error) {
	byStr, err := lru.New[string, uint32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ids: build string cache: %w", err)
	}
	byID, err := lru.New[uint32, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ids: build id cache: %w", err)
	}
	return &Resolver{byStr: byStr, byID: byID, allocator: allocator, sys: sys}, nil
}

// ResolveID returns the u32 entity id for s, allocating and persisting a
// new one if s has never been seen. The str->id mapping is appended to
// the dirty list for the writer to durably persist. Only the str->id
// direction is queued: nothing in the pipeline writes the id->str record
// (int_to_entity_id_db) or the system entity-id mmap array.
func (r *Resolver) ResolveID(s string) (uint32, bool /*isNew*/, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byStr.Get(s); ok {
		return id, false, nil
	}

	if id, ok, err := r.lookupDisk(s); err != nil {
		return 0, false, err
	} else if ok {
		r.byStr.Add(s, id)
		r.byID.Add(id, s)
		return id, false, nil
	}

	id, err := r.allocator.NextEntityID()
	if err != nil {
		return 0, false, err
	}

	r.byStr.Add(s, id)
	r.byID.Add(id, s)

	r.dirtyMu.Lock()
	r.dirty = append(r.dirty, pendingMapping{Str: s, ID: id})
	r.dirtyMu.Unlock()

	return id, true, nil
}

func (r *Resolver) lookupDisk(s string) (uint32, bool, error) {
	var id uint32
	var found bool
	err := r.sys.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBStrToEntityID, kv.StrKey(s))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if len(v) != 4 {
			return fmt.Errorf("ids: corrupt entity id record for %q: %w", s, errs.ErrCorrupt)
		}
		id = binary.BigEndian.Uint32(v)
		found = true
		return nil
	})
	return id, found, err
}

// ResolveString mirrors ResolveID in the other direction, reading the
// cache and then int_to_entity_id_db. An id found in neither is reported
// as a consistency fault; since the dirty list carries only the str->id
// direction, an id absent from the cache resolves only if its id->str
// record was written by other means.
func (r *Resolver) ResolveString(id uint32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byID.Get(id); ok {
		return s, nil
	}

	var s string
	var found bool
	err := r.sys.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBIntToEntityID, kv.U32Key(id))
		if err != nil {
			return err
		}
		if ok {
			s = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("ids: entity id %d has no matching string: %w", id, errs.ErrConsistencyFault)
	}

	r.byID.Add(id, s)
	r.byStr.Add(s, id)
	return s, nil
}

// DrainDirty returns and clears the pending string<->id mappings not yet
// durably written, using the lock-swap pattern so writers never block
// resolver callers.
func (r *Resolver) DrainDirty() []pendingMapping {
	r.dirtyMu.Lock()
	defer r.dirtyMu.Unlock()
	out := r.dirty
	r.dirty = nil
	return out
}

// PendingStr and PendingID expose a drained pendingMapping's fields to
// callers outside this package (worker/writer), which cannot see the
// unexported type directly.
func (p pendingMapping) PendingStr() string { return p.Str }
func (p pendingMapping) PendingID() uint32  { return p.ID }
