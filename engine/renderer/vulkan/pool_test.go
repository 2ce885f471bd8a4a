package vulkan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectsNeverIssueZero(t *testing.T) {
	var o objects[string]
	id := o.add("a")
	assert.NotZero(t, id)
	_, ok := o.get(0)
	assert.False(t, ok)
}

func TestObjectsTakeRemoves(t *testing.T) {
	var o objects[string]
	a := o.add("a")
	b := o.add("b")
	require.NotEqual(t, a, b)

	v, ok := o.take(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = o.take(a)
	assert.False(t, ok)
	assert.Equal(t, 1, o.len())

	// ids are not reused after a take
	c := o.add("c")
	assert.NotEqual(t, a, c)
}

func TestObjectsDrain(t *testing.T) {
	var o objects[int]
	for i := 0; i < 5; i++ {
		o.add(i)
	}
	left := o.drain()
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, left)
	assert.Equal(t, 0, o.len())
	assert.Empty(t, o.drain())
}

func TestObjectsConcurrentAdd(t *testing.T) {
	var o objects[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				o.add(j)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, o.len())
}

func TestObjectsRemoveIf(t *testing.T) {
	var o objects[int]
	for i := 0; i < 6; i++ {
		o.add(i)
	}
	n := o.removeIf(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []int{1, 3, 5}, o.drain())
}
