package container

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/tagstore/pkg/errs"
)

// CreateFunc opens a container by name on a cache miss.
type CreateFunc func(name string) (*Container, error)

type entry struct {
	name     string
	c        *Container
	refcount int32
}

// Cache is an LRU of open containers keyed by name, each entry refcounted
// so a container in active use is never evicted out from under its
// callers. It is the "monitor-style rwlock" design from spec.md §4.2: a
// read-locked lookup on the hot path, with a brief write lock to move an
// entry to the LRU head or to install a newly-opened container.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	create   CreateFunc

	byName map[string]*list.Element // list.Element.Value is *entry
	lru    *list.List               // front = most recently used
}

// NewCache builds a container cache with the given capacity and creation
// callback.
func NewCache(capacity int, create CreateFunc) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		create:   create,
		byName:   make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the named container with its refcount incremented. Callers
// must call Release exactly once when done.
func (cc *Cache) Get(name string) (*Container, error) {
	cc.mu.RLock()
	if el, ok := cc.byName[name]; ok {
		e := el.Value.(*entry)
		cc.atomicIncr(e)
		cc.mu.RUnlock()

		cc.mu.Lock()
		cc.lru.MoveToFront(el)
		cc.mu.Unlock()
		return e.c, nil
	}
	cc.mu.RUnlock()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	// Double-check: another goroutine may have inserted it while we
	// upgraded from read to write lock.
	if el, ok := cc.byName[name]; ok {
		e := el.Value.(*entry)
		cc.atomicIncr(e)
		cc.lru.MoveToFront(el)
		return e.c, nil
	}

	if cc.lru.Len() >= cc.capacity {
		if err := cc.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	c, err := cc.create(name)
	if err != nil {
		return nil, err
	}

	e := &entry{name: name, c: c, refcount: 1}
	el := cc.lru.PushFront(e)
	cc.byName[name] = el
	return c, nil
}

// Release decrements the named container's refcount. It does not need
// the write lock: refcounts are only read under the write lock during
// eviction, and atomic/guarded decrement here is sufficient because
// eviction re-checks refcount == 0 before removing an entry.
func (cc *Cache) Release(name string) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	el, ok := cc.byName[name]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	cc.atomicDecr(e)
}

func (cc *Cache) atomicIncr(e *entry) { atomic.AddInt32(&e.refcount, 1) }
func (cc *Cache) atomicDecr(e *entry) {
	for {
		n := atomic.LoadInt32(&e.refcount)
		if n <= 0 || atomic.CompareAndSwapInt32(&e.refcount, n, n-1) {
			return
		}
	}
}

// evictOneLocked walks the LRU tail toward the head looking for an entry
// with refcount == 0, evicting the first one found. Must be called with
// cc.mu held for writing. Returns ErrResourceExhausted if every entry is
// still in use.
func (cc *Cache) evictOneLocked() error {
	for el := cc.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if atomic.LoadInt32(&e.refcount) == 0 {
			cc.lru.Remove(el)
			delete(cc.byName, e.name)
			_ = e.c.Close()
			return nil
		}
	}
	return fmt.Errorf("container cache: all %d entries in use: %w", cc.capacity, errs.ErrResourceExhausted)
}

// Destroy closes every container in the cache. Callers must join all
// consumers and workers first so no container is still referenced.
func (cc *Cache) Destroy() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	var first error
	for el := cc.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if err := e.c.Close(); err != nil && first == nil {
			first = err
		}
	}
	cc.byName = make(map[string]*list.Element)
	cc.lru = list.New()
	return first
}

// Len returns the number of currently open containers (for tests/metrics).
func (cc *Cache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.lru.Len()
}
