// Package gpu is the narrow interface between the render graph and a graphics
// backend. The Vulkan backend implements it for real hardware and gputest
// implements it in memory.
package gpu

import (
	"errors"
	"time"
)

// ErrTimeout is returned by WaitForFence when the timeout elapsed.
var ErrTimeout = errors.New("wait timed out")

// CommandEncoder records into command buffers. Calls on one command buffer
// must come from a single goroutine.
type CommandEncoder interface {
	ResetCommandBuffer(cb CommandBuffer) error
	BeginCommandBuffer(cb CommandBuffer, usage CommandBufferUsage) error
	EndCommandBuffer(cb CommandBuffer) error

	CmdBeginRenderPass(cb CommandBuffer, begin RenderPassBegin)
	CmdEndRenderPass(cb CommandBuffer)
	CmdSetViewport(cb CommandBuffer, viewport Viewport)
	CmdSetScissor(cb CommandBuffer, scissor Rect2D)
	CmdBindPipeline(cb CommandBuffer, pipeline Pipeline)
	CmdBindDescriptorSets(cb CommandBuffer, layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	CmdBindVertexBuffer(cb CommandBuffer, buffer Buffer, offset uint64)
	CmdBindIndexBuffer(cb CommandBuffer, buffer Buffer, offset uint64, indexType IndexType)
	CmdPushConstants(cb CommandBuffer, layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	CmdDraw(cb CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

// Device creates and destroys device objects and submits work to the
// graphics queue. Creation failures are returned as *core.DeviceError.
type Device interface {
	CommandEncoder

	Capabilities() Capabilities

	CreateShaderModule(code []uint32) (ShaderModule, error)
	DestroyShaderModule(m ShaderModule)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	CreatePipelineLayout(desc PipelineLayoutDesc) (PipelineLayout, error)
	DestroyPipelineLayout(l PipelineLayout)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)

	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateImage(desc ImageDesc) (Image, ImageView, error)
	DestroyImage(img Image, view ImageView)
	CreateFramebuffer(desc FramebufferDesc) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)
	CreateSampler(desc SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	WriteBuffer(b Buffer, offset uint64, data []byte) error
	DestroyBuffer(b Buffer)

	CreateDescriptorPool(bindings []DescriptorBinding, maxSets uint32) (DescriptorPool, error)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite)
	DestroyDescriptorPool(pool DescriptorPool)

	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(cbs []CommandBuffer)

	CreateFence(signaled bool) (Fence, error)
	// WaitForFence blocks until f is signaled or timeout elapses (ErrTimeout).
	WaitForFence(f Fence, timeout time.Duration) error
	ResetFence(f Fence) error
	DestroyFence(f Fence)
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	Submit(info SubmitInfo) error
	WaitIdle() error
}

// Surface is the swapchain side of a window.
type Surface interface {
	Extent() Extent2D
	Format() Format
	ImageCount() int
	ImageViews() []ImageView
	// AcquireNextImage signals signal once the image is ready. suboptimal is
	// true when the image was acquired but the swapchain should be rebuilt.
	// An out-of-date swapchain returns core.ErrSurfaceOutOfDate.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (index uint32, suboptimal bool, err error)
	Present(wait Semaphore, index uint32) (suboptimal bool, err error)
	// Recreate rebuilds the swapchain for the given size. The caller waits
	// for the device to be idle first.
	Recreate(width, height uint32) error
	Destroy()
}
