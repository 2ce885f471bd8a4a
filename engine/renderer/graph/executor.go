package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/frame"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
)

var (
	clearColor = [4]float32{0, 0, 0, 1}
	clearDepth = float32(1)
)

// FramePreparer runs after the slot fence wait and image acquire, before
// anything is recorded. Per-slot uploads and descriptor writes go here.
type FramePreparer interface {
	Prepare(slot int) error
}

type PrepareFunc func(slot int) error

func (f PrepareFunc) Prepare(slot int) error {
	return f(slot)
}

// DescriptorSource hands out the bindless set of a frame slot.
type DescriptorSource interface {
	Descriptor(slot int) (gpu.DescriptorSet, error)
}

type FrameResult struct {
	Skipped    bool
	Slot       int
	ImageIndex uint32
	Passes     int
}

type ExecutorConfig struct {
	Device   gpu.Device
	Sync     *frame.Synchronizer
	Graph    *Graph
	Compiler *pipeline.Compiler
	Low      *resources.LowLevel
	Textures *TextureRegistry
	Assets   *resources.Assets
	Bindless DescriptorSource
	Binder   TextureBinder
	Preparer FramePreparer
}

type Executor struct {
	cfg  ExecutorConfig
	pool *CommandPool
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{cfg: cfg, pool: NewCommandPool(cfg.Device)}
}

func (e *Executor) Pool() *CommandPool {
	return e.pool
}

// Env describes the current swapchain to the graph.
func (e *Executor) Env() Env {
	return Env{
		Device:           e.cfg.Device,
		Compiler:         e.cfg.Compiler,
		Low:              e.cfg.Low,
		Textures:         e.cfg.Textures,
		Binder:           e.cfg.Binder,
		PresentPass:      e.cfg.Sync.RenderPass(),
		PresentSignature: pipeline.SignatureOf(e.cfg.Sync.RenderPassDesc()),
		Extent:           e.cfg.Sync.Extent(),
	}
}

// ExecuteFrame compiles the graph if needed, then records, submits and
// presents one frame. Presentation faults and a lost device are returned so
// the caller can resize or stop; other acquire faults skip the frame.
func (e *Executor) ExecuteFrame(ctx context.Context) (FrameResult, error) {
	g := e.cfg.Graph
	if g.NeedsCompile() {
		if err := g.Compile(ctx, e.Env()); err != nil {
			return FrameResult{}, err
		}
	}
	passes, err := g.Compiled()
	if err != nil {
		return FrameResult{}, err
	}

	f, err := e.cfg.Sync.Acquire(ctx)
	if err != nil {
		if core.IsPresentationFault(err) || errors.Is(err, core.ErrDeviceLost) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return FrameResult{}, err
		}
		core.LogError("skipping frame: %v", err)
		return FrameResult{Skipped: true}, nil
	}
	res := FrameResult{Slot: f.Slot, ImageIndex: f.ImageIndex, Passes: len(passes)}

	cbs, err := e.record(f, passes)
	if err != nil {
		// the slot fence is reset and nothing was submitted; only a rebuild
		// gives it back
		e.cfg.Sync.MarkStale()
		return res, err
	}
	if err := e.cfg.Sync.Submit(f, cbs); err != nil {
		e.cfg.Sync.MarkStale()
		return res, err
	}
	return res, e.cfg.Sync.Present(f)
}

func (e *Executor) record(f frame.Frame, passes []*Pass) ([]gpu.CommandBuffer, error) {
	if e.cfg.Preparer != nil {
		if err := e.cfg.Preparer.Prepare(f.Slot); err != nil {
			return nil, fmt.Errorf("preparing frame slot %d: %w", f.Slot, err)
		}
	}
	set, err := e.cfg.Bindless.Descriptor(f.Slot)
	if err != nil {
		return nil, err
	}
	if err := e.pool.Ensure(e.cfg.Sync.ImageCount(), len(passes)); err != nil {
		return nil, err
	}

	var renderables []resources.Renderable
	if e.cfg.Assets != nil {
		renderables = e.cfg.Assets.Renderables()
	}
	dev := e.cfg.Device
	cbs := make([]gpu.CommandBuffer, 0, len(passes))
	for i, p := range passes {
		cb := e.pool.Buffer(f.ImageIndex, i)
		if err := dev.ResetCommandBuffer(cb); err != nil {
			return nil, err
		}
		if err := dev.BeginCommandBuffer(cb, gpu.CommandBufferSimultaneousUse); err != nil {
			return nil, err
		}
		if err := e.recordPass(cb, f, p, set, renderables); err != nil {
			return nil, fmt.Errorf("recording pass %s: %w", p.Name, err)
		}
		if err := dev.EndCommandBuffer(cb); err != nil {
			return nil, err
		}
		cbs = append(cbs, cb)
	}
	return cbs, nil
}

func (e *Executor) recordPass(cb gpu.CommandBuffer, f frame.Frame, p *Pass, set gpu.DescriptorSet, renderables []resources.Renderable) error {
	low := e.cfg.Low
	pipe, err := low.Pipeline(p.Pipeline)
	if err != nil {
		return err
	}
	layout, err := low.Layout(p.Layout)
	if err != nil {
		return err
	}

	begin := gpu.RenderPassBegin{RenderPass: p.RenderPass}
	extent := p.Extent
	if p.Kind == KindPresent {
		begin.Framebuffer = f.Framebuffer
		extent = f.Extent
	} else {
		fb, err := low.Framebuffer(p.Framebuffer)
		if err != nil {
			return err
		}
		begin.Framebuffer = fb.Raw
		extent = fb.Extent
	}
	begin.Area = gpu.Rect2D{Extent: extent}
	begin.ClearValues = make([]gpu.ClearValue, p.clearValues)
	for i := range begin.ClearValues {
		begin.ClearValues[i] = gpu.ClearValue{Color: clearColor, Depth: clearDepth}
	}

	e.cfg.Device.CmdBeginRenderPass(cb, begin)
	pc := &PassContext{
		enc:        e.cfg.Device,
		cb:         cb,
		pass:       p,
		pipeline:   pipe,
		layout:     layout,
		bindless:   set,
		assets:     e.cfg.Assets,
		extent:     extent,
		Slot:       f.Slot,
		ImageIndex: f.ImageIndex,
	}
	if p.Recorder != nil {
		if err := p.Recorder.Record(pc, renderables); err != nil {
			return err
		}
	}
	e.cfg.Device.CmdEndRenderPass(cb)
	return nil
}

// Destroy frees the command buffers.
func (e *Executor) Destroy() {
	e.pool.Destroy()
}
