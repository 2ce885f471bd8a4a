package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mesh struct{ vertices int }
type pipeline struct{ name string }

func TestArenaInsertGet(t *testing.T) {
	a := NewArena[mesh]()
	h1 := a.Insert(mesh{3})
	h2 := a.Insert(mesh{6})

	v, ok := a.Get(h1)
	require.True(t, ok)
	assert.Equal(t, 3, v.vertices)

	p, ok := a.Ptr(h2)
	require.True(t, ok)
	p.vertices = 9
	v, _ = a.Get(h2)
	assert.Equal(t, 9, v.vertices)
	assert.Equal(t, 2, a.Len())
}

func TestArenaStaleHandle(t *testing.T) {
	a := NewArena[mesh]()
	h := a.Insert(mesh{3})

	removed, ok := a.Remove(h)
	require.True(t, ok)
	assert.Equal(t, 3, removed.vertices)

	// the slot is reused with a new generation
	h2 := a.Insert(mesh{4})
	assert.Equal(t, h.Index(), h2.Index())
	assert.NotEqual(t, h, h2)

	_, ok = a.Get(h)
	assert.False(t, ok, "stale handle must not alias the new value")
	_, ok = a.Remove(h)
	assert.False(t, ok)
	assert.True(t, a.Contains(h2))
}

func TestArenaForeignHandle(t *testing.T) {
	meshes := NewArena[mesh]()
	other := NewArena[mesh]()
	h := meshes.Insert(mesh{3})
	other.Insert(mesh{42})

	// same index and generation, different arena
	_, ok := other.Get(h)
	assert.False(t, ok)

	var zero Handle[mesh]
	assert.True(t, zero.IsZero())
	_, ok = meshes.Get(zero)
	assert.False(t, ok)

	// Handle[mesh] cannot be passed to an Arena[pipeline]; the type system rejects it.
	pipelines := NewArena[pipeline]()
	_, ok = pipelines.Get(Handle[pipeline]{arena: h.arena, index: h.index, generation: h.generation})
	assert.False(t, ok)
}

func TestArenaDrain(t *testing.T) {
	a := NewArena[mesh]()
	var handles []Handle[mesh]
	for i := 0; i < 5; i++ {
		handles = append(handles, a.Insert(mesh{i}))
	}
	a.Remove(handles[2])

	var drained []int
	a.Drain(func(_ Handle[mesh], m mesh) { drained = append(drained, m.vertices) })
	assert.ElementsMatch(t, []int{0, 1, 3, 4}, drained)
	assert.Zero(t, a.Len())
	for _, h := range handles {
		assert.False(t, a.Contains(h))
	}

	a.Insert(mesh{7})
	assert.Equal(t, 1, a.Len())
}

func TestArenaEach(t *testing.T) {
	a := NewArena[mesh]()
	a.Insert(mesh{1})
	h := a.Insert(mesh{2})
	a.Insert(mesh{3})
	a.Remove(h)

	sum := 0
	a.Each(func(_ Handle[mesh], m mesh) { sum += m.vertices })
	assert.Equal(t, 4, sum)
}
