package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/uabridge/internal/wire"
)

func TestSuppression_AllocateLazily(t *testing.T) {
	s := NewSuppression()

	assert.Equal(t, 0, s.Capacity(wire.KindBoolean))
	assert.False(t, s.Usable(wire.KindBoolean, 0))

	assert.Equal(t, 4, s.Allocate(wire.KindBoolean, 4))
	assert.True(t, s.Usable(wire.KindBoolean, 3))
	assert.False(t, s.Usable(wire.KindBoolean, 4))

	// Other kinds are untouched.
	assert.Equal(t, 0, s.Capacity(wire.KindInt32))
}

func TestSuppression_ZeroCapacityLeavesKindUnusable(t *testing.T) {
	s := NewSuppression()

	assert.Equal(t, 0, s.Allocate(wire.KindDouble, 0))
	assert.False(t, s.Mark(wire.KindDouble, 0))
	assert.False(t, s.ConsumeIfSet(wire.KindDouble, 0))
}

func TestSuppression_MaxSeenGrowth(t *testing.T) {
	s := NewSuppression()

	require.Equal(t, 2, s.Allocate(wire.KindInt16, 2))
	require.True(t, s.Mark(wire.KindInt16, 1))

	// Smaller request keeps the array.
	assert.Equal(t, 2, s.Allocate(wire.KindInt16, 1))
	assert.True(t, s.Pending(wire.KindInt16, 1))

	// Larger request grows and keeps set flags.
	assert.Equal(t, 8, s.Allocate(wire.KindInt16, 8))
	assert.True(t, s.Pending(wire.KindInt16, 1))
	assert.False(t, s.Pending(wire.KindInt16, 7))
	assert.True(t, s.Usable(wire.KindInt16, 7))
}

func TestSuppression_InvalidKind(t *testing.T) {
	s := NewSuppression()
	assert.Equal(t, 0, s.Allocate(wire.Kind(42), 8))
	assert.False(t, s.Mark(wire.Kind(42), 0))
}

func TestSuppression_ConsumeIsSingleUse(t *testing.T) {
	s := NewSuppression()
	s.Allocate(wire.KindBoolean, 1)

	assert.False(t, s.ConsumeIfSet(wire.KindBoolean, 0), "nothing marked yet")

	require.True(t, s.Mark(wire.KindBoolean, 0))
	assert.True(t, s.ConsumeIfSet(wire.KindBoolean, 0))
	assert.False(t, s.ConsumeIfSet(wire.KindBoolean, 0), "flag must be cleared by the first consume")
}

func TestSuppression_MarkTwiceConsumesOnce(t *testing.T) {
	s := NewSuppression()
	s.Allocate(wire.KindUInt32, 1)

	s.Mark(wire.KindUInt32, 0)
	s.Mark(wire.KindUInt32, 0)

	assert.True(t, s.ConsumeIfSet(wire.KindUInt32, 0))
	assert.False(t, s.ConsumeIfSet(wire.KindUInt32, 0))
}

func TestSuppression_ReleaseAllIdempotent(t *testing.T) {
	s := NewSuppression()
	s.Allocate(wire.KindBoolean, 1)
	s.Mark(wire.KindBoolean, 0)

	assert.True(t, s.ReleaseAll())
	assert.True(t, s.Released())
	assert.False(t, s.ReleaseAll())

	assert.False(t, s.ConsumeIfSet(wire.KindBoolean, 0))
	assert.Equal(t, 0, s.Allocate(wire.KindBoolean, 1), "allocation after release is refused")
	assert.False(t, s.Mark(wire.KindBoolean, 0))
}

func TestSuppression_ConcurrentMarkConsume(t *testing.T) {
	s := NewSuppression()
	s.Allocate(wire.KindInt32, 16)

	const rounds = 1000
	var consumed [16]int
	var wg sync.WaitGroup

	for slot := range uint16(16) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				s.Mark(wire.KindInt32, slot)
				if s.ConsumeIfSet(wire.KindInt32, slot) {
					consumed[slot]++
				}
			}
		}()
	}

	// Growth concurrently with flag traffic.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := uint16(17); c < 64; c++ {
			s.Allocate(wire.KindInt32, c)
		}
	}()

	wg.Wait()
	for slot, n := range consumed {
		assert.Equal(t, rounds, n, "slot %d", slot)
	}
}

// Every consume that returns true is matched by an earlier mark, and no
// mark is consumed twice.
func TestSuppression_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewSuppression()
		capacity := rapid.Uint16Range(1, 8).Draw(t, "capacity")
		s.Allocate(wire.KindDouble, capacity)

		model := make(map[uint16]bool)
		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for range steps {
			slot := rapid.Uint16Range(0, capacity+2).Draw(t, "slot")
			usable := slot < capacity

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				if got := s.Mark(wire.KindDouble, slot); got != usable {
					t.Fatalf("Mark(%d) = %v, want %v", slot, got, usable)
				}
				if usable {
					model[slot] = true
				}
			case 1:
				got := s.ConsumeIfSet(wire.KindDouble, slot)
				if got != model[slot] {
					t.Fatalf("ConsumeIfSet(%d) = %v, want %v", slot, got, model[slot])
				}
				delete(model, slot)
			default:
				grow := rapid.Uint16Range(0, 12).Draw(t, "grow")
				if grow > capacity {
					capacity = grow
				}
				if got := s.Allocate(wire.KindDouble, grow); got != int(capacity) {
					t.Fatalf("Allocate(%d) = %d, want %d", grow, got, capacity)
				}
			}
		}
	})
}
