package graph

import (
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// CommandPool keeps one command buffer per (swapchain image, pass). It only
// ever grows; buffers are freed on Destroy.
type CommandPool struct {
	dev     gpu.Device
	buffers [][]gpu.CommandBuffer
}

func NewCommandPool(dev gpu.Device) *CommandPool {
	return &CommandPool{dev: dev}
}

// Ensure makes room for images x passes buffers.
func (p *CommandPool) Ensure(images, passes int) error {
	for len(p.buffers) < images {
		p.buffers = append(p.buffers, nil)
	}
	for i := range p.buffers {
		if missing := passes - len(p.buffers[i]); missing > 0 {
			cbs, err := p.dev.AllocateCommandBuffers(missing)
			if err != nil {
				return err
			}
			p.buffers[i] = append(p.buffers[i], cbs...)
		}
	}
	return nil
}

func (p *CommandPool) Buffer(image uint32, pass int) gpu.CommandBuffer {
	return p.buffers[image][pass]
}

// Allocated returns the total number of buffers held.
func (p *CommandPool) Allocated() int {
	n := 0
	for _, row := range p.buffers {
		n += len(row)
	}
	return n
}

func (p *CommandPool) Destroy() {
	for _, row := range p.buffers {
		if len(row) > 0 {
			p.dev.FreeCommandBuffers(row)
		}
	}
	p.buffers = nil
}
