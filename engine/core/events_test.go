package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusRegisterFire(t *testing.T) {
	bus := NewEventBus()
	var got []uint32
	listener := &struct{}{}

	assert.True(t, bus.Register(EventResized, listener, func(code SystemEventCode, sender interface{}, data EventContext) bool {
		got = append(got, data.U32[0], data.U32[1])
		return true
	}))
	assert.False(t, bus.Register(EventResized, listener, nil), "duplicate listener")

	handled := bus.Fire(EventResized, nil, EventContext{U32: [4]uint32{640, 480}})
	assert.True(t, handled)
	assert.Equal(t, []uint32{640, 480}, got)

	assert.False(t, bus.Fire(EventShaderChanged, nil, EventContext{Path: "x.wgsl"}))

	assert.True(t, bus.Unregister(EventResized, listener))
	assert.False(t, bus.Unregister(EventResized, listener))
	assert.False(t, bus.Fire(EventResized, nil, EventContext{}))
}

func TestEventBusStopsAtFirstHandler(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	for i := 0; i < 3; i++ {
		l := new(int)
		*l = i
		bus.Register(EventApplicationQuit, l, func(SystemEventCode, interface{}, EventContext) bool {
			calls++
			return calls == 2
		})
	}
	assert.True(t, bus.Fire(EventApplicationQuit, nil, EventContext{}))
	assert.Equal(t, 2, calls)
}
