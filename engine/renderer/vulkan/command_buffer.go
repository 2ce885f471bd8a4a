package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// AllocateCommandBuffers allocates primary command buffers from the
// graphics pool.
func (b *Backend) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	if count <= 0 {
		return nil, nil
	}
	handles := make([]vk.CommandBuffer, count)
	b.queueMu.Lock()
	res := vk.AllocateCommandBuffers(b.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}, handles)
	b.queueMu.Unlock()
	if err := check("vkAllocateCommandBuffers", res); err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, count)
	for i, h := range handles {
		out[i] = gpu.CommandBuffer(b.commandBuffers.add(h))
	}
	return out, nil
}

func (b *Backend) FreeCommandBuffers(cbs []gpu.CommandBuffer) {
	handles := make([]vk.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		if h, ok := b.commandBuffers.take(uint64(cb)); ok {
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		return
	}
	b.queueMu.Lock()
	vk.FreeCommandBuffers(b.device, b.commandPool, uint32(len(handles)), handles)
	b.queueMu.Unlock()
}

func (b *Backend) commandBuffer(cb gpu.CommandBuffer) (vk.CommandBuffer, error) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return nil, fmt.Errorf("command buffer %d: %w", cb, core.ErrNotFound)
	}
	return h, nil
}

func (b *Backend) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	h, err := b.commandBuffer(cb)
	if err != nil {
		return err
	}
	return check("vkResetCommandBuffer", vk.ResetCommandBuffer(h, 0))
}

func (b *Backend) BeginCommandBuffer(cb gpu.CommandBuffer, usage gpu.CommandBufferUsage) error {
	h, err := b.commandBuffer(cb)
	if err != nil {
		return err
	}
	return check("vkBeginCommandBuffer", vk.BeginCommandBuffer(h, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: toVkCommandBufferUsage(usage),
	}))
}

func (b *Backend) EndCommandBuffer(cb gpu.CommandBuffer) error {
	h, err := b.commandBuffer(cb)
	if err != nil {
		return err
	}
	return check("vkEndCommandBuffer", vk.EndCommandBuffer(h))
}

func (b *Backend) CmdSetViewport(cb gpu.CommandBuffer, viewport gpu.Viewport) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return
	}
	vk.CmdSetViewport(h, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (b *Backend) CmdSetScissor(cb gpu.CommandBuffer, scissor gpu.Rect2D) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return
	}
	vk.CmdSetScissor(h, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: scissor.X, Y: scissor.Y},
		Extent: vk.Extent2D{Width: scissor.Extent.Width, Height: scissor.Extent.Height},
	}})
}

func (b *Backend) CmdBindPipeline(cb gpu.CommandBuffer, pipeline gpu.Pipeline) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return
	}
	p, ok := b.pipelines.get(uint64(pipeline))
	if !ok {
		core.LogError("bind pipeline: pipeline %d not found", pipeline)
		return
	}
	vk.CmdBindPipeline(h, vk.PipelineBindPointGraphics, p)
}

func (b *Backend) CmdBindDescriptorSets(cb gpu.CommandBuffer, layout gpu.PipelineLayout, firstSet uint32, sets []gpu.DescriptorSet) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok || len(sets) == 0 {
		return
	}
	l, ok := b.pipelineLayouts.get(uint64(layout))
	if !ok {
		core.LogError("bind descriptor sets: pipeline layout %d not found", layout)
		return
	}
	handles := make([]vk.DescriptorSet, len(sets))
	for i, id := range sets {
		s, ok := b.descriptorSets.get(uint64(id))
		if !ok {
			core.LogError("bind descriptor sets: set %d not found", id)
			return
		}
		handles[i] = s.handle
	}
	vk.CmdBindDescriptorSets(h, vk.PipelineBindPointGraphics, l, firstSet, uint32(len(handles)), handles, 0, nil)
}

func (b *Backend) CmdBindVertexBuffer(cb gpu.CommandBuffer, buffer gpu.Buffer, offset uint64) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return
	}
	buf, ok := b.buffers.get(uint64(buffer))
	if !ok {
		core.LogError("bind vertex buffer: buffer %d not found", buffer)
		return
	}
	vk.CmdBindVertexBuffers(h, 0, 1, []vk.Buffer{buf.handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (b *Backend) CmdBindIndexBuffer(cb gpu.CommandBuffer, buffer gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return
	}
	buf, ok := b.buffers.get(uint64(buffer))
	if !ok {
		core.LogError("bind index buffer: buffer %d not found", buffer)
		return
	}
	vk.CmdBindIndexBuffer(h, buf.handle, vk.DeviceSize(offset), toVkIndexType(indexType))
}

func (b *Backend) CmdPushConstants(cb gpu.CommandBuffer, layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	h, ok := b.commandBuffers.get(uint64(cb))
	if !ok || len(data) == 0 {
		return
	}
	l, ok := b.pipelineLayouts.get(uint64(layout))
	if !ok {
		core.LogError("push constants: pipeline layout %d not found", layout)
		return
	}
	vk.CmdPushConstants(h, l, toVkStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (b *Backend) CmdDraw(cb gpu.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if h, ok := b.commandBuffers.get(uint64(cb)); ok {
		vk.CmdDraw(h, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (b *Backend) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if h, ok := b.commandBuffers.get(uint64(cb)); ok {
		vk.CmdDrawIndexed(h, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}
