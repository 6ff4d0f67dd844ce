// Package mmaparr is a growable mmap-backed fixed-stride array, used for
// the event-id→entity-id and event-id→timestamp arrays and the system
// container's entity-id→external-id-string array.
//
// Resize doubles capacity, or jumps to index+1024 items if that would
// leap past double (a burst buffer), always to a page-aligned byte size.
// Resize runs under an exclusive lock; Get/Set run under a shared lock so
// concurrent readers never observe a mapping mid-resize, matching the
// "resize never runs while a reader holds the read lock" invariant.
package mmaparr

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

const pageSize = 4096

// Array is a growable, fixed-stride memory-mapped array.
type Array struct {
	mu       sync.RWMutex
	f        *os.File
	m        mmap.MMap
	itemSize int
	capacity int64 // in items
}

// Open opens (creating if absent) the mmap array at path with the given
// item stride, reserving room for at least initialCapacity items.
func Open(path string, itemSize int, initialCapacity int64) (*Array, error) {
	if itemSize <= 0 {
		return nil, fmt.Errorf("mmaparr: item size must be positive")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("mmaparr: open %s: %w", path, err)
	}

	a := &Array{f: f, itemSize: itemSize}
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if err := a.growLocked(initialCapacity); err != nil {
		_ = f.Close()
		return nil, err
	}
	return a, nil
}

// Close unmaps and closes the backing file.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.m != nil {
		err = a.m.Unmap()
		a.m = nil
	}
	if cerr := a.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Capacity returns the current number of addressable items.
func (a *Array) Capacity() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.capacity
}

// Get returns a copy of the item at index i. The returned slice is owned
// by the caller; it is never a live view into the mapping, so it remains
// valid across subsequent resizes.
func (a *Array) Get(i int64) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= a.capacity {
		return nil, fmt.Errorf("mmaparr: index %d out of range [0,%d)", i, a.capacity)
	}
	off := i * int64(a.itemSize)
	out := make([]byte, a.itemSize)
	copy(out, a.m[off:off+int64(a.itemSize)])
	return out, nil
}

// Set writes value (which must be exactly itemSize bytes) at index i,
// growing the mapping first if i is beyond the current capacity.
func (a *Array) Set(i int64, value []byte) error {
	if int64(len(value)) != int64(a.itemSize) {
		return fmt.Errorf("mmaparr: value length %d != item size %d", len(value), a.itemSize)
	}
	if i < 0 {
		return fmt.Errorf("mmaparr: negative index %d", i)
	}

	a.mu.RLock()
	needsGrow := i >= a.capacity
	a.mu.RUnlock()

	if needsGrow {
		a.mu.Lock()
		if i >= a.capacity { // re-check under exclusive lock
			if err := a.growLocked(i + 1); err != nil {
				a.mu.Unlock()
				return err
			}
		}
		a.mu.Unlock()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	off := i * int64(a.itemSize)
	copy(a.m[off:off+int64(a.itemSize)], value)
	return nil
}

// growLocked resizes the backing file and remaps it so that index
// minItems-1 is addressable. Must be called with a.mu held for writing
// (or during Open, before any reader can observe a).
func (a *Array) growLocked(minItems int64) error {
	target := a.capacity
	if target == 0 {
		target = 1
	}
	for target < minItems {
		doubled := target * 2
		if minItems > doubled {
			target = (minItems - 1) + 1024
			break
		}
		target = doubled
	}

	byteSize := target * int64(a.itemSize)
	byteSize = ((byteSize + pageSize - 1) / pageSize) * pageSize

	if a.m != nil {
		if err := a.m.Unmap(); err != nil {
			return fmt.Errorf("mmaparr: unmap for resize: %w", err)
		}
		a.m = nil
	}

	if err := a.f.Truncate(byteSize); err != nil {
		return fmt.Errorf("mmaparr: truncate to %d bytes: %w", byteSize, err)
	}

	m, err := mmap.Map(a.f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmaparr: mmap: %w", err)
	}
	a.m = m
	a.capacity = byteSize / int64(a.itemSize)
	return nil
}
