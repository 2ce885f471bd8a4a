// Package gputest provides in-memory gpu.Device and gpu.Surface
// implementations that record what the renderer asks of them.
package gputest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// Command is one recorded Cmd* call.
type Command struct {
	Name string
	Args []interface{}
}

type fence struct {
	signaled bool
	pending  bool
}

// Device is a fake gpu.Device. Submitted work "completes" when its fence is
// waited on or when WaitIdle is called, which makes the number of frames the
// CPU is ahead of the GPU observable.
type Device struct {
	mu sync.Mutex

	caps   gpu.Capabilities
	nextID uint64

	created   map[string]int
	destroyed map[string]int
	failures  map[string][]error

	fences    map[gpu.Fence]*fence
	recording map[gpu.CommandBuffer]bool
	commands  map[gpu.CommandBuffer][]Command
	buffers   map[gpu.Buffer][]byte
	writes    []gpu.DescriptorWrite
	pipelines map[gpu.Pipeline]gpu.GraphicsPipelineDesc
	layouts   map[gpu.PipelineLayout]gpu.PipelineLayoutDesc

	Submitted    []gpu.SubmitInfo
	inFlight     int
	maxInFlight  int
	waitIdles    int
	hangFences   bool
	totalCreates int
}

func NewDevice() *Device {
	return &Device{
		caps: gpu.Capabilities{
			VendorID:               uint32(core.VendorNvidia),
			DeviceName:             "fake",
			MaxPushConstantSize:    128,
			MaxBoundDescriptorSets: 8,
			DepthFormat:            gpu.FormatD32Sfloat,
		},
		created:   make(map[string]int),
		destroyed: make(map[string]int),
		failures:  make(map[string][]error),
		fences:    make(map[gpu.Fence]*fence),
		recording: make(map[gpu.CommandBuffer]bool),
		commands:  make(map[gpu.CommandBuffer][]Command),
		buffers:   make(map[gpu.Buffer][]byte),
		pipelines: make(map[gpu.Pipeline]gpu.GraphicsPipelineDesc),
		layouts:   make(map[gpu.PipelineLayout]gpu.PipelineLayoutDesc),
	}
}

// SetCapabilities replaces the reported capability summary.
func (d *Device) SetCapabilities(c gpu.Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = c
}

// FailNext makes the next call of op (for example "CreateGraphicsPipeline") return err.
func (d *Device) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], err)
}

// HangFences makes every wait on an unsignaled fence time out.
func (d *Device) HangFences(hang bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangFences = hang
}

func (d *Device) fail(op string) error {
	errs := d.failures[op]
	if len(errs) == 0 {
		return nil
	}
	d.failures[op] = errs[1:]
	return &core.DeviceError{Op: op, Result: "injected", Err: errs[0]}
}

func (d *Device) create(kind string) uint64 {
	d.nextID++
	d.created[kind]++
	d.totalCreates++
	return d.nextID
}

func (d *Device) destroy(kind string, id uint64) {
	if id == 0 {
		return
	}
	d.destroyed[kind]++
}

// Created returns how many objects of kind were created, e.g. "Pipeline".
func (d *Device) Created(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

// TotalCreates counts every object creation of any kind.
func (d *Device) TotalCreates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalCreates
}

// Live returns created minus destroyed for kind.
func (d *Device) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind] - d.destroyed[kind]
}

// Leaks lists every kind with live objects, ignoring command buffers which
// are freed with their pool.
func (d *Device) Leaks() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for kind, n := range d.created {
		if kind == "CommandBuffer" {
			continue
		}
		if live := n - d.destroyed[kind]; live != 0 {
			out[kind] = live
		}
	}
	return out
}

// MaxInFlight is the largest number of submissions that were pending at once.
func (d *Device) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

func (d *Device) WaitIdleCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdles
}

// Commands returns the commands recorded into cb since its last reset.
func (d *Device) Commands(cb gpu.CommandBuffer) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands[cb]...)
}

// BufferData returns the contents written to b.
func (d *Device) BufferData(b gpu.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.buffers[b]...)
}

// DescriptorWrites returns every descriptor write applied so far.
func (d *Device) DescriptorWrites() []gpu.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.DescriptorWrite(nil), d.writes...)
}

// PipelineDesc returns the description a pipeline was created from.
func (d *Device) PipelineDesc(p gpu.Pipeline) (gpu.GraphicsPipelineDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.pipelines[p]
	return desc, ok
}

func (d *Device) PipelineLayoutDesc(l gpu.PipelineLayout) (gpu.PipelineLayoutDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.layouts[l]
	return desc, ok
}

func (d *Device) Capabilities() gpu.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *Device) CreateShaderModule(code []uint32) (gpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateShaderModule"); err != nil {
		return 0, err
	}
	if len(code) == 0 {
		return 0, core.NewDeviceError("CreateShaderModule", "empty code")
	}
	return gpu.ShaderModule(d.create("ShaderModule")), nil
}

func (d *Device) DestroyShaderModule(m gpu.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("ShaderModule", uint64(m))
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateDescriptorSetLayout"); err != nil {
		return 0, err
	}
	return gpu.DescriptorSetLayout(d.create("DescriptorSetLayout")), nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DescriptorSetLayout", uint64(l))
}

func (d *Device) CreatePipelineLayout(desc gpu.PipelineLayoutDesc) (gpu.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreatePipelineLayout"); err != nil {
		return 0, err
	}
	l := gpu.PipelineLayout(d.create("PipelineLayout"))
	d.layouts[l] = desc
	return l, nil
}

func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("PipelineLayout", uint64(l))
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateGraphicsPipeline"); err != nil {
		return 0, err
	}
	if desc.Vertex == 0 || desc.Fragment == 0 || desc.Layout == 0 || desc.RenderPass == 0 {
		return 0, core.NewDeviceError("CreateGraphicsPipeline", fmt.Sprintf("incomplete description %+v", desc))
	}
	p := gpu.Pipeline(d.create("Pipeline"))
	d.pipelines[p] = desc
	return p, nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("Pipeline", uint64(p))
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateRenderPass"); err != nil {
		return 0, err
	}
	return gpu.RenderPass(d.create("RenderPass")), nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("RenderPass", uint64(rp))
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateImage"); err != nil {
		return 0, 0, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return 0, 0, core.NewDeviceError("CreateImage", "zero extent")
	}
	return gpu.Image(d.create("Image")), gpu.ImageView(d.create("ImageView")), nil
}

func (d *Device) DestroyImage(img gpu.Image, view gpu.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("ImageView", uint64(view))
	d.destroy("Image", uint64(img))
}

func (d *Device) CreateFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateFramebuffer"); err != nil {
		return 0, err
	}
	return gpu.Framebuffer(d.create("Framebuffer")), nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("Framebuffer", uint64(fb))
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSampler"); err != nil {
		return 0, err
	}
	return gpu.Sampler(d.create("Sampler")), nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("Sampler", uint64(s))
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateBuffer"); err != nil {
		return 0, err
	}
	b := gpu.Buffer(d.create("Buffer"))
	d.buffers[b] = make([]byte, desc.Size)
	return b, nil
}

func (d *Device) WriteBuffer(b gpu.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		return core.NewDeviceError("WriteBuffer", "unknown buffer")
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return core.NewDeviceError("WriteBuffer", "write out of range")
	}
	copy(buf[offset:], data)
	return nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("Buffer", uint64(b))
	delete(d.buffers, b)
}

func (d *Device) CreateDescriptorPool(bindings []gpu.DescriptorBinding, maxSets uint32) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateDescriptorPool"); err != nil {
		return 0, err
	}
	return gpu.DescriptorPool(d.create("DescriptorPool")), nil
}

func (d *Device) AllocateDescriptorSet(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("AllocateDescriptorSet"); err != nil {
		return 0, err
	}
	// sets are freed with their pool
	d.nextID++
	return gpu.DescriptorSet(d.nextID), nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, writes...)
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("DescriptorPool", uint64(pool))
}

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, count)
	for i := range out {
		out[i] = gpu.CommandBuffer(d.create("CommandBuffer"))
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(cbs []gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range cbs {
		d.destroy("CommandBuffer", uint64(cb))
		delete(d.commands, cb)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateFence"); err != nil {
		return 0, err
	}
	f := gpu.Fence(d.create("Fence"))
	d.fences[f] = &fence{signaled: signaled}
	return f, nil
}

func (d *Device) WaitForFence(f gpu.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("WaitForFence"); err != nil {
		return err
	}
	fe, ok := d.fences[f]
	if !ok {
		return core.NewDeviceError("WaitForFence", "unknown fence")
	}
	if fe.signaled {
		return nil
	}
	if !fe.pending || d.hangFences {
		// nothing will ever signal it
		return gpu.ErrTimeout
	}
	d.complete(fe)
	return nil
}

func (d *Device) complete(fe *fence) {
	fe.pending = false
	fe.signaled = true
	d.inFlight--
}

func (d *Device) ResetFence(f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fe, ok := d.fences[f]
	if !ok {
		return core.NewDeviceError("ResetFence", "unknown fence")
	}
	if fe.pending {
		return core.NewDeviceError("ResetFence", "fence is in use by a pending submission")
	}
	fe.signaled = false
	return nil
}

// FenceSignaled reports the current state of f.
func (d *Device) FenceSignaled(f gpu.Fence) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	fe, ok := d.fences[f]
	return ok && fe.signaled
}

func (d *Device) DestroyFence(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fe, ok := d.fences[f]; ok && fe.pending {
		d.inFlight--
	}
	delete(d.fences, f)
	d.destroy("Fence", uint64(f))
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSemaphore"); err != nil {
		return 0, err
	}
	return gpu.Semaphore(d.create("Semaphore")), nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroy("Semaphore", uint64(s))
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("Submit"); err != nil {
		return err
	}
	for _, cb := range info.CommandBuffers {
		if d.recording[cb] {
			return core.NewDeviceError("Submit", "command buffer still recording")
		}
	}
	if info.Fence != 0 {
		fe, ok := d.fences[info.Fence]
		if !ok {
			return core.NewDeviceError("Submit", "unknown fence")
		}
		if fe.signaled || fe.pending {
			return core.NewDeviceError("Submit", "fence must be reset before submission")
		}
		fe.pending = true
		d.inFlight++
		if d.inFlight > d.maxInFlight {
			d.maxInFlight = d.inFlight
		}
	}
	d.Submitted = append(d.Submitted, info)
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdles++
	for _, fe := range d.fences {
		if fe.pending {
			d.complete(fe)
		}
	}
	return nil
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording[cb] = false
	d.commands[cb] = nil
	return nil
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, usage gpu.CommandBufferUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recording[cb] {
		return errors.New("command buffer already recording")
	}
	d.recording[cb] = true
	return nil
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.recording[cb] {
		return errors.New("command buffer is not recording")
	}
	d.recording[cb] = false
	return nil
}

func (d *Device) record(cb gpu.CommandBuffer, name string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[cb] = append(d.commands[cb], Command{Name: name, Args: args})
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, begin gpu.RenderPassBegin) {
	d.record(cb, "BeginRenderPass", begin)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	d.record(cb, "EndRenderPass")
}

func (d *Device) CmdSetViewport(cb gpu.CommandBuffer, viewport gpu.Viewport) {
	d.record(cb, "SetViewport", viewport)
}

func (d *Device) CmdSetScissor(cb gpu.CommandBuffer, scissor gpu.Rect2D) {
	d.record(cb, "SetScissor", scissor)
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, pipeline gpu.Pipeline) {
	d.record(cb, "BindPipeline", pipeline)
}

func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBuffer, layout gpu.PipelineLayout, firstSet uint32, sets []gpu.DescriptorSet) {
	d.record(cb, "BindDescriptorSets", layout, firstSet, append([]gpu.DescriptorSet(nil), sets...))
}

func (d *Device) CmdBindVertexBuffer(cb gpu.CommandBuffer, buffer gpu.Buffer, offset uint64) {
	d.record(cb, "BindVertexBuffer", buffer, offset)
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, buffer gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	d.record(cb, "BindIndexBuffer", buffer, offset, indexType)
}

func (d *Device) CmdPushConstants(cb gpu.CommandBuffer, layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	d.record(cb, "PushConstants", layout, stages, offset, append([]byte(nil), data...))
}

func (d *Device) CmdDraw(cb gpu.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record(cb, "Draw", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record(cb, "DrawIndexed", indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

var _ gpu.Device = (*Device)(nil)
