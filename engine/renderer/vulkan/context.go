package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// Backend implements gpu.Device on a Vulkan logical device. It owns the
// instance, the window surface, the device and one graphics command pool.
// The swapchain is exposed through Surface.
type Backend struct {
	cfg   core.Config
	scope *core.Scope

	instance vk.Instance
	debug    vk.DebugReportCallback
	surface  vk.Surface

	physical    vk.PhysicalDevice
	device      vk.Device
	queues      queueFamilies
	graphics    vk.Queue
	present     vk.Queue
	commandPool vk.CommandPool
	properties  vk.PhysicalDeviceProperties
	memory      vk.PhysicalDeviceMemoryProperties
	depthFormat vk.Format

	swapchain *Swapchain

	// queueMu guards the graphics queue and the command pool.
	queueMu sync.Mutex

	shaders         objects[vk.ShaderModule]
	setLayouts      objects[vk.DescriptorSetLayout]
	pipelineLayouts objects[vk.PipelineLayout]
	pipelines       objects[vk.Pipeline]
	renderPasses    objects[renderPass]
	images          objects[*image]
	views           objects[vk.ImageView]
	framebuffers    objects[vk.Framebuffer]
	samplers        objects[vk.Sampler]
	buffers         objects[*buffer]
	descriptorPools objects[vk.DescriptorPool]
	descriptorSets  objects[descriptorSet]
	commandBuffers  objects[vk.CommandBuffer]
	fences          objects[vk.Fence]
	semaphores      objects[vk.Semaphore]
}

var _ gpu.Device = (*Backend)(nil)

// Surface returns the swapchain of the window the backend was created for.
func (b *Backend) Surface() *Swapchain {
	return b.swapchain
}

func (b *Backend) Capabilities() gpu.Capabilities {
	return gpu.Capabilities{
		VendorID:               b.properties.VendorID,
		DeviceName:             cString(b.properties.DeviceName[:]),
		MaxPushConstantSize:    b.properties.Limits.MaxPushConstantsSize,
		MaxBoundDescriptorSets: b.properties.Limits.MaxBoundDescriptorSets,
		DepthFormat:            fromVkFormat(b.depthFormat),
	}
}

// findMemoryIndex picks a memory type allowed by typeFilter that has all of
// propertyFlags.
func (b *Backend) findMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < b.memory.MemoryTypeCount; i++ {
		b.memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && b.memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return 0, fmt.Errorf("no memory type for filter %#x with flags %#x", typeFilter, uint32(propertyFlags))
}

// allocate binds fresh device memory matching reqs.
func (b *Backend) allocate(op string, reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	reqs.Deref()
	index, err := b.findMemoryIndex(reqs.MemoryTypeBits, flags)
	if err != nil {
		return nil, &core.DeviceError{Op: op, Result: resultName(vk.ErrorOutOfDeviceMemory), Err: err}
	}
	var memory vk.DeviceMemory
	res := vk.AllocateMemory(b.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}, nil, &memory)
	if err := check("vkAllocateMemory", res); err != nil {
		return nil, err
	}
	return memory, nil
}

// releaseObjects destroys whatever the graph left alive. Every table must be
// empty on a clean shutdown, so anything found here is logged.
func (b *Backend) releaseObjects() {
	leaked := 0
	for _, fb := range b.framebuffers.drain() {
		vk.DestroyFramebuffer(b.device, fb, nil)
		leaked++
	}
	for _, p := range b.pipelines.drain() {
		vk.DestroyPipeline(b.device, p, nil)
		leaked++
	}
	for _, l := range b.pipelineLayouts.drain() {
		vk.DestroyPipelineLayout(b.device, l, nil)
		leaked++
	}
	for _, rp := range b.renderPasses.drain() {
		vk.DestroyRenderPass(b.device, rp.handle, nil)
		leaked++
	}
	for _, m := range b.shaders.drain() {
		vk.DestroyShaderModule(b.device, m, nil)
		leaked++
	}
	b.descriptorSets.drain()
	for _, p := range b.descriptorPools.drain() {
		vk.DestroyDescriptorPool(b.device, p, nil)
		leaked++
	}
	for _, l := range b.setLayouts.drain() {
		vk.DestroyDescriptorSetLayout(b.device, l, nil)
		leaked++
	}
	for _, v := range b.views.drain() {
		vk.DestroyImageView(b.device, v, nil)
		leaked++
	}
	for _, img := range b.images.drain() {
		img.destroy(b.device)
		leaked++
	}
	for _, s := range b.samplers.drain() {
		vk.DestroySampler(b.device, s, nil)
		leaked++
	}
	for _, buf := range b.buffers.drain() {
		buf.destroy(b.device)
		leaked++
	}
	for _, f := range b.fences.drain() {
		vk.DestroyFence(b.device, f, nil)
		leaked++
	}
	for _, s := range b.semaphores.drain() {
		vk.DestroySemaphore(b.device, s, nil)
		leaked++
	}
	// command buffers go with the pool
	b.commandBuffers.drain()
	if leaked > 0 {
		core.LogWarn("released %d device objects that were still alive at shutdown", leaked)
	}
}
