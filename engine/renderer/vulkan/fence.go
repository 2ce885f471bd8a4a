package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

func (b *Backend) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check("vkCreateFence", vk.CreateFence(b.device, &info, nil, &fence)); err != nil {
		return 0, err
	}
	return gpu.Fence(b.fences.add(fence)), nil
}

func (b *Backend) WaitForFence(f gpu.Fence, timeout time.Duration) error {
	fence, ok := b.fences.get(uint64(f))
	if !ok {
		return fmt.Errorf("fence %d: %w", f, core.ErrNotFound)
	}
	res := vk.WaitForFences(b.device, 1, []vk.Fence{fence}, vk.True, uint64(timeout.Nanoseconds()))
	if res == vk.Timeout {
		return gpu.ErrTimeout
	}
	return check("vkWaitForFences", res)
}

func (b *Backend) ResetFence(f gpu.Fence) error {
	fence, ok := b.fences.get(uint64(f))
	if !ok {
		return fmt.Errorf("fence %d: %w", f, core.ErrNotFound)
	}
	return check("vkResetFences", vk.ResetFences(b.device, 1, []vk.Fence{fence}))
}

func (b *Backend) DestroyFence(f gpu.Fence) {
	if v, ok := b.fences.take(uint64(f)); ok {
		vk.DestroyFence(b.device, v, nil)
	}
}

func (b *Backend) CreateSemaphore() (gpu.Semaphore, error) {
	var sem vk.Semaphore
	res := vk.CreateSemaphore(b.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if err := check("vkCreateSemaphore", res); err != nil {
		return 0, err
	}
	return gpu.Semaphore(b.semaphores.add(sem)), nil
}

func (b *Backend) DestroySemaphore(s gpu.Semaphore) {
	if v, ok := b.semaphores.take(uint64(s)); ok {
		vk.DestroySemaphore(b.device, v, nil)
	}
}

// Submit hands the command buffers to the graphics queue.
func (b *Backend) Submit(info gpu.SubmitInfo) error {
	if len(info.Wait) != len(info.WaitStages) {
		return fmt.Errorf("submit: %d wait semaphores but %d wait stages", len(info.Wait), len(info.WaitStages))
	}
	cmds := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, id := range info.CommandBuffers {
		h, err := b.commandBuffer(id)
		if err != nil {
			return err
		}
		cmds[i] = h
	}
	wait, err := b.lookupSemaphores(info.Wait)
	if err != nil {
		return err
	}
	signal, err := b.lookupSemaphores(info.Signal)
	if err != nil {
		return err
	}
	stages := make([]vk.PipelineStageFlags, len(info.WaitStages))
	for i, s := range info.WaitStages {
		stages[i] = toVkPipelineStages(s)
	}
	fence := vk.NullFence
	if info.Fence != 0 {
		f, ok := b.fences.get(uint64(info.Fence))
		if !ok {
			return fmt.Errorf("fence %d: %w", info.Fence, core.ErrNotFound)
		}
		fence = f
	}

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(cmds)),
		PCommandBuffers:    cmds,
	}
	if len(wait) > 0 {
		submit.WaitSemaphoreCount = uint32(len(wait))
		submit.PWaitSemaphores = wait
		submit.PWaitDstStageMask = stages
	}
	if len(signal) > 0 {
		submit.SignalSemaphoreCount = uint32(len(signal))
		submit.PSignalSemaphores = signal
	}

	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return check("vkQueueSubmit", vk.QueueSubmit(b.graphics, 1, []vk.SubmitInfo{submit}, fence))
}

func (b *Backend) lookupSemaphores(ids []gpu.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, len(ids))
	for i, id := range ids {
		s, ok := b.semaphores.get(uint64(id))
		if !ok {
			return nil, fmt.Errorf("semaphore %d: %w", id, core.ErrNotFound)
		}
		out[i] = s
	}
	return out, nil
}
