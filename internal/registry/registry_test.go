package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uabridge/internal/wire"
)

func TestRegistry_AddLookup(t *testing.T) {
	r := New()

	d := &Descriptor{Name: "Pump", Kind: wire.KindBoolean, Access: wire.AccessReadWrite, Slot: 0, Capacity: 1}
	require.NoError(t, r.Add(d))

	got, ok := r.Lookup("Pump")
	require.True(t, ok)
	assert.Same(t, d, got)
	assert.True(t, r.Has("Pump"))
	assert.False(t, r.Has("pump"), "names are case-sensitive")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&Descriptor{Name: "Speed", Kind: wire.KindDouble}))

	err := r.Add(&Descriptor{Name: "Speed", Kind: wire.KindInt32})
	assert.ErrorIs(t, err, ErrDuplicate)

	d, _ := r.Lookup("Speed")
	assert.Equal(t, wire.KindDouble, d.Kind, "first registration wins")
}

func TestRegistry_RejectsUnnamed(t *testing.T) {
	r := New()
	assert.Error(t, r.Add(nil))
	assert.Error(t, r.Add(&Descriptor{}))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_AllInOrder(t *testing.T) {
	r := New()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Add(&Descriptor{Name: name}))
	}

	var names []string
	for _, d := range r.All() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}
