// Package hostmmu implements host virtual-address translation: a simple
// LRU map from an opaque handle (a tensor's host-side allocation) to the
// chain of physical pages backing it, plus the initial page allocation
// from the free list (spec.md §1's external-collaborator scope).
//
// Grounded on sim/lru's generic Cache (reused here per SPEC_FULL's note
// that this is the one place outside the GMMU demonstrating the
// abstraction carries its weight) and original_source/src/MMU.cpp's
// handle->page-list translation table.
package hostmmu

import (
	"github.com/kunsheng/gpgpu-sim/sim/lru"
	"github.com/kunsheng/gpgpu-sim/sim/page"
)

// MMU translates opaque host handles to page chains, backed by a
// capacity-bounded LRU and the page store's free list.
type MMU struct {
	store   *page.Store
	handles *lru.Cache[uint64, page.ID] // handle -> head of its page chain
	nextH   uint64
}

// New constructs an MMU over store with a translation-table capacity of
// capacity entries. Allocating past capacity evicts the least-recently-used
// handle and releases its page chain; a capacity of 0 retains no handle at
// all, so every allocation is evicted and released at once (see lru.New).
func New(store *page.Store, capacity int) *MMU {
	return &MMU{store: store, handles: lru.New[uint64, page.ID](capacity)}
}

// Allocate reserves bytes worth of pages from the store, registers a new
// handle for the resulting chain, and returns the handle.
func (m *MMU) Allocate(bytes int64) uint64 {
	head := m.store.Allocate(bytes)
	m.nextH++
	h := m.nextH
	if evicted, ok := m.handles.Insert(h, head); ok {
		m.store.Release(evicted)
	}
	return h
}

// Translate resolves a handle to the head of its page chain, promoting
// it to MRU. ok is false for an unknown or already-evicted handle.
func (m *MMU) Translate(handle uint64) (page.ID, bool) {
	return m.handles.Lookup(handle)
}

// Release returns a handle's page chain to the free list and drops the
// translation entry.
func (m *MMU) Release(handle uint64) {
	if head, ok := m.handles.Remove(handle); ok {
		m.store.Release(head)
	}
}

// Next returns the page following id in its chain, or page.NoPage at the
// tail. Lets collaborators like sim/model walk a chain they were handed
// the head of without reaching into the store directly.
func (m *MMU) Next(id page.ID) page.ID {
	p := m.store.Refer(id)
	if p == nil {
		return page.NoPage
	}
	return p.Next
}
