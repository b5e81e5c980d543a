package registry

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/uabridge/internal/wire"
)

// Suppression holds one array of "self-originated" flags per variable kind.
//
// A flag at (kind, slot) means: the next address-space change notification
// for that variable was caused by the bridge applying a controller write, so
// it must not be echoed back to the controller. The inbound worker sets flags
// with Mark; the change watcher clears them with ConsumeIfSet, one
// notification per set.
//
// Arrays are allocated lazily by Allocate the first time a registration for a
// kind arrives. When a later registration for the same kind asks for a larger
// capacity the array grows to the largest capacity seen so far; set flags
// survive growth. Requests for a smaller capacity are no-ops.
//
// Thread-safety: flags are atomic.Bool values, and the per-kind slices are
// replaced only under the write lock. Mark and ConsumeIfSet take the read
// lock, so a Mark that returns before an address-space write is always
// observed by the watcher's ConsumeIfSet for the resulting notification.
type Suppression struct {
	mu       sync.RWMutex
	flags    map[wire.Kind][]atomic.Bool
	released bool
}

// NewSuppression creates an empty buffer with no kinds allocated.
func NewSuppression() *Suppression {
	return &Suppression{
		flags: make(map[wire.Kind][]atomic.Bool),
	}
}

// Allocate ensures the array for kind holds at least capacity flags and
// returns the resulting capacity.
//
// A zero capacity allocates nothing: if the kind has no array yet, it stays
// unusable and 0 is returned. After ReleaseAll, Allocate does nothing.
func (s *Suppression) Allocate(kind wire.Kind, capacity uint16) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || !kind.Valid() {
		return 0
	}

	cur := s.flags[kind]
	if int(capacity) <= len(cur) {
		return len(cur)
	}

	grown := make([]atomic.Bool, capacity)
	for i := range cur {
		grown[i].Store(cur[i].Load())
	}
	s.flags[kind] = grown
	return len(grown)
}

// Capacity returns the number of flags allocated for kind.
func (s *Suppression) Capacity(kind wire.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flags[kind])
}

// Usable reports whether (kind, slot) addresses an allocated flag.
func (s *Suppression) Usable(kind wire.Kind, slot uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(slot) < len(s.flags[kind])
}

// Mark sets the flag at (kind, slot). It returns false when the slot is not
// allocated, in which case nothing is recorded.
func (s *Suppression) Mark(kind wire.Kind, slot uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.flags[kind]
	if int(slot) >= len(arr) {
		return false
	}
	arr[slot].Store(true)
	return true
}

// ConsumeIfSet atomically tests and clears the flag at (kind, slot).
// It returns true if a self-originated change was pending. Unallocated slots
// always report false.
func (s *Suppression) ConsumeIfSet(kind wire.Kind, slot uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.flags[kind]
	if int(slot) >= len(arr) {
		return false
	}
	return arr[slot].CompareAndSwap(true, false)
}

// Pending reports whether the flag at (kind, slot) is set, without clearing it.
func (s *Suppression) Pending(kind wire.Kind, slot uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.flags[kind]
	if int(slot) >= len(arr) {
		return false
	}
	return arr[slot].Load()
}

// ReleaseAll drops every per-kind array. It returns true the first time it
// is called and false afterwards; later calls are no-ops.
func (s *Suppression) ReleaseAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return false
	}
	s.released = true
	s.flags = make(map[wire.Kind][]atomic.Bool)
	return true
}

// Released reports whether ReleaseAll has run.
func (s *Suppression) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}
