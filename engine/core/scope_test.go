package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeClosesInReverseOrder(t *testing.T) {
	var order []string
	outer := NewScope("renderer")
	outer.DeferFunc("device", func() { order = append(order, "device") })

	inner := NewScope("swapchain")
	inner.DeferFunc("images", func() { order = append(order, "images") })
	inner.DeferFunc("framebuffers", func() { order = append(order, "framebuffers") })
	outer.Nest(inner)

	outer.DeferFunc("pipelines", func() { order = append(order, "pipelines") })

	require.NoError(t, outer.Close())
	assert.Equal(t, []string{"pipelines", "framebuffers", "images", "device"}, order)
}

func TestScopeRunsEveryStepAndJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := 0

	s := NewScope("test")
	s.Defer("a", func() error { ran++; return errA })
	s.DeferFunc("middle", func() { ran++ })
	s.Defer("b", func() error { ran++; return errB })

	err := s.Close()
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "test/b")

	// second close is a no-op
	assert.NoError(t, s.Close())
	assert.Equal(t, 3, ran)
}
