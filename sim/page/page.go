// Package page owns the universe of physical pages backing the GMMU's
// VRAM/DRAM tiers: lazy allocation, the free list, and per-page counters.
// It is the arena every other component addresses pages through: pages are
// named by ID, and Refer hands out a *Page for in-place updates (the GMMU's
// page groups keep those pointers as their values).
package page

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Location is the memory tier a page currently resides in.
type Location int

const (
	DRAM Location = iota
	VRAM
)

func (l Location) String() string {
	if l == VRAM {
		return "VRAM"
	}
	return "DRAM"
}

// ID identifies a page within a Store. Pages are never moved between
// stores, so an ID is globally unique for the lifetime of a simulation run.
type ID uint64

// NoPage is the sentinel terminating a page chain.
const NoPage ID = 0

// Counters tracks per-page access statistics, reported verbatim in the
// persisted output log.
type Counters struct {
	Read   int64
	Write  int64
	Access int64
	Swap   int64
}

// Page is one unit of physical storage. Next chains pages allocated
// together (e.g. for one layer's activation tensor) into a singly linked
// list with no cycles; a page appears in at most one chain at a time.
type Page struct {
	ID       ID
	Location Location
	Next     ID // NoPage terminates the chain
	Counters Counters
}

// Store owns every page ever created in a run: the free list, the set of
// in-use pages, and lazy creation up to a soft storage limit.
//
// Grounded on MemoryController::allocate/release/refer in
// original_source/src/MemoryController.cpp: allocation lazily grows the
// page universe, release walks a chain back onto the free list, and
// exceeding the storage limit is a logged warning, never a hard failure
// (spec.md §7: "Capacity pressure" is Warn-and-extend, not fatal).
type Store struct {
	pages        map[ID]*Page
	free         []ID
	used         map[ID]bool
	nextID       ID
	pageSize     int64
	storageLimit int64 // in pages; 0 disables the soft cap
	compulsory   bool  // COMPULSORY_MISS: new pages start in DRAM
}

// NewStore creates a page store. pageSize is in bytes; storageLimitBytes
// is the soft DISK_SPACE cap (0 disables the warning).
func NewStore(pageSize, storageLimitBytes int64, compulsoryMiss bool) *Store {
	if pageSize <= 0 {
		panic("page.NewStore: pageSize must be > 0")
	}
	limit := int64(0)
	if storageLimitBytes > 0 {
		limit = ceilDiv(storageLimitBytes, pageSize)
	}
	return &Store{
		pages:        make(map[ID]*Page),
		used:         make(map[ID]bool),
		nextID:       1,
		pageSize:     pageSize,
		storageLimit: limit,
		compulsory:   compulsoryMiss,
	}
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// PageSize returns the configured page granularity in bytes.
func (s *Store) PageSize() int64 { return s.pageSize }

// Refer returns a direct pointer lookup for a page, or nil if unknown.
func (s *Store) Refer(id ID) *Page {
	return s.pages[id]
}

// Allocate reserves ceil(bytes/PAGE_SIZE) pages and links them via Next,
// returning the head of the chain. Pages are pulled from the free list
// first; once exhausted, new pages are created lazily. Exceeding the soft
// storage limit logs a warning but never blocks allocation — the limit is
// reported, not enforced, per spec.md §4.3.
func (s *Store) Allocate(bytes int64) ID {
	n := ceilDiv(bytes, s.pageSize)
	if n == 0 {
		return NoPage
	}
	ids := make([]ID, 0, n)
	for i := int64(0); i < n; i++ {
		ids = append(ids, s.allocateOne())
	}
	for i := 0; i < len(ids)-1; i++ {
		s.pages[ids[i]].Next = ids[i+1]
	}
	s.pages[ids[len(ids)-1]].Next = NoPage
	return ids[0]
}

func (s *Store) allocateOne() ID {
	var id ID
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if s.storageLimit > 0 && int64(len(s.pages)) >= s.storageLimit {
			logrus.Warnf("page.Store: storage limit (%d pages) reached, extending anyway", s.storageLimit)
		}
		id = s.nextID
		s.nextID++
		loc := VRAM
		if s.compulsory {
			loc = DRAM
		}
		s.pages[id] = &Page{ID: id, Location: loc, Next: NoPage}
	}
	s.used[id] = true
	return id
}

// Release walks the chain from head back onto the free list, clearing
// Next and resetting Location to DRAM on every page it visits.
func (s *Store) Release(head ID) {
	for id := head; id != NoPage; {
		p, ok := s.pages[id]
		if !ok {
			panic(fmt.Sprintf("page.Store.Release: unknown page %d", id))
		}
		next := p.Next
		p.Next = NoPage
		p.Location = DRAM
		delete(s.used, id)
		s.free = append(s.free, id)
		id = next
	}
}

// InUse reports whether a page is currently allocated (not on the free list).
func (s *Store) InUse(id ID) bool { return s.used[id] }

// FreeCount and UsedCount support invariant tests (spec.md §8 invariant 4):
// a page is in exactly one of {free_list, some used chain}.
func (s *Store) FreeCount() int { return len(s.free) }
func (s *Store) UsedCount() int { return len(s.used) }
