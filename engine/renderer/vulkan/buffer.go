package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// buffer is host visible and stays mapped for its whole life.
type buffer struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	mapped unsafe.Pointer
}

func (buf *buffer) destroy(device vk.Device) {
	if buf.mapped != nil {
		vk.UnmapMemory(device, buf.memory)
		buf.mapped = nil
	}
	if buf.handle != nil {
		vk.DestroyBuffer(device, buf.handle, nil)
		buf.handle = nil
	}
	if buf.memory != nil {
		vk.FreeMemory(device, buf.memory, nil)
		buf.memory = nil
	}
}

func (b *Backend) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("create buffer: zero size")
	}
	buf := &buffer{size: desc.Size}
	res := vk.CreateBuffer(b.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf.handle)
	if err := check("vkCreateBuffer", res); err != nil {
		return 0, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device, buf.handle, &reqs)
	flags := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	memory, err := b.allocate("vkAllocateMemory(buffer)", reqs, flags)
	if err != nil {
		buf.destroy(b.device)
		return 0, err
	}
	buf.memory = memory
	if err := check("vkBindBufferMemory", vk.BindBufferMemory(b.device, buf.handle, buf.memory, 0)); err != nil {
		buf.destroy(b.device)
		return 0, err
	}
	var ptr unsafe.Pointer
	if err := check("vkMapMemory", vk.MapMemory(b.device, buf.memory, 0, vk.DeviceSize(desc.Size), 0, &ptr)); err != nil {
		buf.destroy(b.device)
		return 0, err
	}
	buf.mapped = ptr
	return gpu.Buffer(b.buffers.add(buf)), nil
}

// WriteBuffer copies data into the mapped memory at offset. The memory is
// coherent so no flush is needed.
func (b *Backend) WriteBuffer(id gpu.Buffer, offset uint64, data []byte) error {
	buf, ok := b.buffers.get(uint64(id))
	if !ok {
		return fmt.Errorf("write buffer %d: %w", id, core.ErrNotFound)
	}
	if offset+uint64(len(data)) > buf.size {
		return fmt.Errorf("write buffer %d: %d bytes at offset %d exceed size %d", id, len(data), offset, buf.size)
	}
	if len(data) == 0 {
		return nil
	}
	vk.Memcopy(unsafe.Add(buf.mapped, offset), data)
	return nil
}

func (b *Backend) DestroyBuffer(id gpu.Buffer) {
	if buf, ok := b.buffers.take(uint64(id)); ok {
		buf.destroy(b.device)
	}
}
