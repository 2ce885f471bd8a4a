package renderer

import (
	"github.com/spaghettifunk/anima-graph/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// slotBuffers is one uniform buffer per frame slot behind a bindless
// binding. Buffers are created on first use of a slot, so a set that grows
// with the swapchain needs nothing else.
type slotBuffers struct {
	dev     gpu.Device
	set     *bindless.Set
	binding uint32
	size    uint64
	buffers []gpu.Buffer
	// stamp is caller-defined; it tells whether a slot holds current data.
	stamp []uint64
}

func newSlotBuffers(dev gpu.Device, set *bindless.Set, binding uint32, size uint64) *slotBuffers {
	return &slotBuffers{dev: dev, set: set, binding: binding, size: size}
}

// write uploads data() into the buffer of slot unless it already holds stamp.
// A new buffer is queued on the slot's descriptor set, which is applied by
// the bindless Prepare that follows.
func (u *slotBuffers) write(slot int, stamp uint64, data func() []byte) error {
	for len(u.buffers) <= slot {
		u.buffers = append(u.buffers, 0)
		u.stamp = append(u.stamp, 0)
	}
	if u.buffers[slot] == 0 {
		buf, err := u.dev.CreateBuffer(gpu.BufferDesc{Size: u.size, Usage: gpu.BufferUsageUniform})
		if err != nil {
			return err
		}
		if err := u.set.UpdateSlot(slot, bindless.Write{Binding: u.binding, Buffer: buf, Range: u.size}); err != nil {
			u.dev.DestroyBuffer(buf)
			return err
		}
		u.buffers[slot] = buf
		u.stamp[slot] = 0
	} else if u.stamp[slot] == stamp {
		return nil
	}
	if err := u.dev.WriteBuffer(u.buffers[slot], 0, data()); err != nil {
		return err
	}
	u.stamp[slot] = stamp
	return nil
}

// Buffer returns the buffer of slot, or zero before its first write.
func (u *slotBuffers) Buffer(slot int) gpu.Buffer {
	if slot < 0 || slot >= len(u.buffers) {
		return 0
	}
	return u.buffers[slot]
}

func (u *slotBuffers) destroy() {
	for _, b := range u.buffers {
		if b != 0 {
			u.dev.DestroyBuffer(b)
		}
	}
	u.buffers = nil
	u.stamp = nil
}
