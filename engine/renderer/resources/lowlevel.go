// Package resources owns every device object the render graph creates,
// addressed through typed generational handles.
package resources

import (
	"github.com/spaghettifunk/anima-graph/engine/containers"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

type RasterPipeline struct {
	Raw    gpu.Pipeline
	Layout LayoutHandle
}

// PipelineLayout owns the descriptor set layouts derived for sets >= 1.
// Set 0 is the bindless layout, owned by the bindless package.
type PipelineLayout struct {
	Raw        gpu.PipelineLayout
	SetLayouts []gpu.DescriptorSetLayout
	PushRange  gpu.PushConstantRange
}

type Framebuffer struct {
	Raw        gpu.Framebuffer
	RenderPass gpu.RenderPass
	Extent     gpu.Extent2D
}

type Sampler struct {
	Raw    gpu.Sampler
	Filter gpu.Filter
}

type RenderPass struct {
	Raw  gpu.RenderPass
	Desc gpu.RenderPassDesc
}

// Image is a render target realized on the device.
type Image struct {
	Raw    gpu.Image
	View   gpu.ImageView
	Desc   gpu.ImageDesc
	Extent gpu.Extent2D
}

type (
	PipelineHandle    = containers.Handle[RasterPipeline]
	LayoutHandle      = containers.Handle[PipelineLayout]
	FramebufferHandle = containers.Handle[Framebuffer]
	SamplerHandle     = containers.Handle[Sampler]
	RenderPassHandle  = containers.Handle[RenderPass]
	ImageHandle       = containers.Handle[Image]
)

// LowLevel holds the arenas of device objects. It is private to the thread
// that compiles and executes the graph and is therefore not locked.
type LowLevel struct {
	Pipelines    *containers.Arena[RasterPipeline]
	Layouts      *containers.Arena[PipelineLayout]
	Framebuffers *containers.Arena[Framebuffer]
	Samplers     *containers.Arena[Sampler]
	RenderPasses *containers.Arena[RenderPass]
	Images       *containers.Arena[Image]

	samplerByFilter map[gpu.Filter]SamplerHandle
}

func NewLowLevel() *LowLevel {
	return &LowLevel{
		Pipelines:    containers.NewArena[RasterPipeline](),
		Layouts:      containers.NewArena[PipelineLayout](),
		Framebuffers: containers.NewArena[Framebuffer](),
		Samplers:     containers.NewArena[Sampler](),
		RenderPasses: containers.NewArena[RenderPass](),
		Images:       containers.NewArena[Image](),

		samplerByFilter: make(map[gpu.Filter]SamplerHandle),
	}
}

// SamplerFor returns the shared sampler for filter, creating it on first use.
func (l *LowLevel) SamplerFor(dev gpu.Device, filter gpu.Filter) (Sampler, error) {
	if h, ok := l.samplerByFilter[filter]; ok {
		if s, ok := l.Samplers.Get(h); ok {
			return s, nil
		}
	}
	raw, err := dev.CreateSampler(gpu.SamplerDesc{Filter: filter})
	if err != nil {
		return Sampler{}, err
	}
	s := Sampler{Raw: raw, Filter: filter}
	l.samplerByFilter[filter] = l.Samplers.Insert(s)
	return s, nil
}

// Pipeline resolves h or returns core.ErrNotFound.
func (l *LowLevel) Pipeline(h PipelineHandle) (RasterPipeline, error) {
	p, ok := l.Pipelines.Get(h)
	if !ok {
		return RasterPipeline{}, core.ErrNotFound
	}
	return p, nil
}

func (l *LowLevel) Layout(h LayoutHandle) (PipelineLayout, error) {
	p, ok := l.Layouts.Get(h)
	if !ok {
		return PipelineLayout{}, core.ErrNotFound
	}
	return p, nil
}

func (l *LowLevel) Framebuffer(h FramebufferHandle) (Framebuffer, error) {
	fb, ok := l.Framebuffers.Get(h)
	if !ok {
		return Framebuffer{}, core.ErrNotFound
	}
	return fb, nil
}

func (l *LowLevel) Image(h ImageHandle) (Image, error) {
	img, ok := l.Images.Get(h)
	if !ok {
		return Image{}, core.ErrNotFound
	}
	return img, nil
}

// DestroyPipeline releases one pipeline.
func (l *LowLevel) DestroyPipeline(dev gpu.Device, h PipelineHandle) {
	if p, ok := l.Pipelines.Remove(h); ok {
		dev.DestroyPipeline(p.Raw)
	}
}

func (l *LowLevel) DestroyLayout(dev gpu.Device, h LayoutHandle) {
	if layout, ok := l.Layouts.Remove(h); ok {
		destroyLayout(dev, layout)
	}
}

func (l *LowLevel) DestroyFramebuffer(dev gpu.Device, h FramebufferHandle) {
	if fb, ok := l.Framebuffers.Remove(h); ok {
		dev.DestroyFramebuffer(fb.Raw)
	}
}

func (l *LowLevel) DestroyImage(dev gpu.Device, h ImageHandle) {
	if img, ok := l.Images.Remove(h); ok {
		dev.DestroyImage(img.Raw, img.View)
	}
}

func destroyLayout(dev gpu.Device, layout PipelineLayout) {
	dev.DestroyPipelineLayout(layout.Raw)
	for _, sl := range layout.SetLayouts {
		dev.DestroyDescriptorSetLayout(sl)
	}
}

// Destroy drains every arena, releasing dependents before what they depend
// on. The device must be idle.
func (l *LowLevel) Destroy(dev gpu.Device) {
	l.Framebuffers.Drain(func(_ FramebufferHandle, fb Framebuffer) {
		dev.DestroyFramebuffer(fb.Raw)
	})
	l.Pipelines.Drain(func(_ PipelineHandle, p RasterPipeline) {
		dev.DestroyPipeline(p.Raw)
	})
	l.Layouts.Drain(func(_ LayoutHandle, layout PipelineLayout) {
		destroyLayout(dev, layout)
	})
	l.RenderPasses.Drain(func(_ RenderPassHandle, rp RenderPass) {
		dev.DestroyRenderPass(rp.Raw)
	})
	l.Images.Drain(func(_ ImageHandle, img Image) {
		dev.DestroyImage(img.Raw, img.View)
	})
	l.Samplers.Drain(func(_ SamplerHandle, s Sampler) {
		dev.DestroySampler(s.Raw)
	})
	clear(l.samplerByFilter)
}
