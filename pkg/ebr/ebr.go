// Package ebr is a small epoch-based reclamation domain: readers announce
// presence with Enter/Exit, writers Retire objects they have swapped out
// of live state, and Poll frees retired objects once no reader could
// still be observing them.
//
// There is no general-purpose EBR crate in the example pack (the closest
// analogue, slotcache, hand-rolls a seqlock for a single mmap'd struct
// rather than a reusable multi-object reclaimer), so this is a direct,
// from-scratch sync/atomic implementation — the one package in this
// module with no third-party grounding, justified in DESIGN.md.
package ebr

import "sync/atomic"

// Domain tracks a single global epoch plus retired-but-not-yet-freed
// objects, as used by one bitmap cache (one per consumer).
type Domain struct {
	epoch      atomic.Uint64
	active     atomic.Int64 // number of readers currently inside a section
	lastSynced atomic.Uint64

	retired []retiredItem
}

type retiredItem struct {
	epoch uint64
	free  func()
}

// New returns a fresh, empty reclamation domain.
func New() *Domain {
	return &Domain{}
}

// Guard is returned by Enter and must be released by calling Exit exactly
// once, as soon as the caller is done reading shared data.
type Guard struct {
	d *Domain
}

// Enter begins a read-side critical section. The returned Guard's Exit
// must be called before the goroutine does anything else that could
// block or yield for an extended period, per spec.md §4.4.
func (d *Domain) Enter() Guard {
	d.active.Add(1)
	return Guard{d: d}
}

// Exit ends the critical section started by the matching Enter.
func (g Guard) Exit() {
	g.d.active.Add(-1)
}

// Retire schedules free to run once the epoch has advanced past every
// reader that could have observed the retiring object; free must not
// allocate or block.
func (d *Domain) Retire(free func()) {
	d.retired = append(d.retired, retiredItem{epoch: d.epoch.Load(), free: free})
}

// Poll advances the epoch and, if no reader is currently inside a
// section, frees every retired object queued before the advance. It
// returns the number of objects freed. Safe to call from a single
// driving goroutine (the owning consumer); Poll is not itself meant to be
// called concurrently from multiple goroutines.
func (d *Domain) Poll() int {
	d.epoch.Add(1)

	if d.active.Load() != 0 {
		// A reader is mid-section; defer reclamation to the next Poll.
		return 0
	}

	cur := d.epoch.Load()
	freed := 0
	remaining := d.retired[:0]
	for _, item := range d.retired {
		if item.epoch < cur {
			item.free()
			freed++
		} else {
			remaining = append(remaining, item)
		}
	}
	d.retired = remaining
	return freed
}

// Pending returns the number of objects retired but not yet freed, used
// by RECLAIM_THRESHOLD-driven Poll scheduling in the consumer.
func (d *Domain) Pending() int {
	return len(d.retired)
}
