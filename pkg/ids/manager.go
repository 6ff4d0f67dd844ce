package ids

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/kv"
)

// Manager owns the global entity-id counter (one per store, seeded from
// the system container's metadata) and the per-container event-id block
// reservation scheme from spec.md §4.10.
type Manager struct {
	sys *container.Container

	nextEntity atomic.Uint32

	blockMu sync.Mutex
	blocks  map[string]*eventBlock
	// BlockSize is the number of event ids reserved per disk round trip.
	BlockSize uint32
}

type eventBlock struct {
	next uint32
	end  uint32 // exclusive
}

// NewManager loads the persisted next-entity-id counter (seeded at 1, the
// system container's init value, if it has never allocated one) and
// returns a ready Manager.
func NewManager(sys *container.Container, blockSize uint32) (*Manager, error) {
	if blockSize == 0 {
		blockSize = 1024
	}
	m := &Manager{sys: sys, blocks: make(map[string]*eventBlock), BlockSize: blockSize}

	seed := uint32(1)
	err := sys.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBMetadata, kv.StrKey(container.MetaNextEntityID))
		if err != nil {
			return err
		}
		if ok && len(v) == 4 {
			seed = binary.BigEndian.Uint32(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ids: load entity id counter: %w", err)
	}
	// seed holds the next id to hand out, never an already-issued one:
	// nextEntity stores that same value and NextEntityID reads it back
	// with fetch-add-returns-old semantics, so a reload resumes exactly
	// where the last persist left off.
	m.nextEntity.Store(seed)
	return m, nil
}

// NextEntityID atomically allocates and durably persists the next global
// entity id. Unlike event ids, entity ids are not block-reserved: new
// entities are rare relative to events (one id per distinct entity
// string, not per event), so a disk round trip per allocation is acceptable.
func (m *Manager) NextEntityID() (uint32, error) {
	// nextEntity holds the next id to hand out; Add(1)-1 recovers that
	// value and advances the counter in one step, mirroring the
	// original's atomic_fetch_add (which returns the pre-increment
	// value) since Go's Add returns the post-increment one instead.
	id := m.nextEntity.Add(1) - 1
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id+1)
	err := m.sys.Env.Update(func(tx *kv.Tx) error {
		_, err := tx.Put(container.DBMetadata, kv.StrKey(container.MetaNextEntityID), buf, false)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ids: persist entity id counter: %w", err)
	}
	return id, nil
}

// NextEventID returns the next event id for containerName, reserving a
// fresh block of BlockSize ids from disk whenever the in-memory block is
// exhausted. cont must be the already-open Container for containerName.
func (m *Manager) NextEventID(cont *container.Container) (uint32, error) {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()

	b := m.blocks[cont.Name]
	if b == nil || b.next >= b.end {
		newBlock, err := m.reserveBlock(cont)
		if err != nil {
			return 0, err
		}
		b = newBlock
		m.blocks[cont.Name] = b
	}

	id := b.next
	b.next++
	return id, nil
}

// reserveBlock durably bumps the container's persisted next_event_id by
// BlockSize and returns the freshly reserved [start, start+BlockSize)
// range as an in-memory block.
func (m *Manager) reserveBlock(cont *container.Container) (*eventBlock, error) {
	start := uint32(1)
	err := cont.Env.Update(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBMetadata, kv.StrKey(container.MetaNextEventID))
		if err != nil {
			return err
		}
		if ok && len(v) == 4 {
			start = binary.BigEndian.Uint32(v)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, start+m.BlockSize)
		_, err = tx.Put(container.DBMetadata, kv.StrKey(container.MetaNextEventID), buf, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ids: reserve event id block for %s: %w", cont.Name, err)
	}
	return &eventBlock{next: start, end: start + m.BlockSize}, nil
}

// GetLastReserved reports the exclusive end of containerName's
// last-reserved in-memory block, or 0 if no block has been reserved in
// this process. Used by diagnostics and tests; the query evaluator takes
// its universe size from the persisted next_event_id instead.
func (m *Manager) GetLastReserved(containerName string) uint32 {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	b := m.blocks[containerName]
	if b == nil {
		return 0
	}
	return b.end
}
