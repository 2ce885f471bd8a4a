package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
)

type State uint8

const (
	StateUninitialized State = iota
	StatePending
	StateCompiled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompiled:
		return "compiled"
	}
	return "uninitialized"
}

// TextureBinder publishes sampled textures to shaders. The index is the
// texture handle's slot index.
type TextureBinder interface {
	BindTexture(index uint32, view gpu.ImageView, sampler gpu.Sampler) error
}

// Env is what compiling needs from the rest of the renderer.
type Env struct {
	Device   gpu.Device
	Compiler *pipeline.Compiler
	Low      *resources.LowLevel
	Textures *TextureRegistry
	// Binder is optional; without it read textures are only realized.
	Binder TextureBinder

	PresentPass      gpu.RenderPass
	PresentSignature pipeline.Signature
	Extent           gpu.Extent2D
}

// Graph holds pass descriptions until they are compiled, then the compiled
// passes in insertion order.
type Graph struct {
	queue        []PassDesc
	passes       []*Pass
	state        State
	compilations int
}

func New() *Graph {
	return &Graph{}
}

// AddPass queues desc. Already compiled passes are kept; the graph is
// pending until the queue has been compiled.
func (g *Graph) AddPass(desc PassDesc) {
	g.queue = append(g.queue, desc)
	g.state = StatePending
}

func (g *Graph) State() State {
	return g.state
}

// NeedsCompile reports queued descriptions waiting for Compile.
func (g *Graph) NeedsCompile() bool {
	return g.state == StatePending && len(g.queue) > 0
}

// Compilations counts successful Compile calls that built passes.
func (g *Graph) Compilations() int {
	return g.compilations
}

func (g *Graph) Compiled() ([]*Pass, error) {
	switch g.state {
	case StateUninitialized:
		return nil, core.ErrEmptyGraph
	case StatePending:
		return nil, core.ErrNotCompiled
	}
	return g.passes, nil
}

// Compile drains the queue. On failure the passes compiled before the failing
// description stay, the failing description and the ones after it are
// dropped, and the graph stays pending.
func (g *Graph) Compile(ctx context.Context, env Env) error {
	if g.state == StateCompiled {
		return nil
	}
	if len(g.queue) == 0 {
		return core.ErrNotCompiled
	}
	queue := g.queue
	g.queue = nil
	for i, desc := range queue {
		p, err := compilePass(ctx, env, desc)
		if err != nil {
			core.LogError("compiling %s pass %s failed, dropping it and %d queued after it: %v",
				desc.Kind(), desc.PassName(), len(queue)-i-1, err)
			return fmt.Errorf("compiling %s pass %s: %w", desc.Kind(), desc.PassName(), err)
		}
		g.passes = append(g.passes, p)
	}
	g.state = StateCompiled
	g.compilations++
	core.LogDebug("render graph compiled: %d passes", len(g.passes))
	return nil
}

func compilePass(ctx context.Context, env Env, desc PassDesc) (*Pass, error) {
	switch d := desc.(type) {
	case *RasterPassDesc:
		return compileRaster(ctx, env, d)
	case *PresentPassDesc:
		return compilePresent(ctx, env, d)
	}
	return nil, core.ErrUnsupportedPass
}

func compilePresent(ctx context.Context, env Env, d *PresentPassDesc) (*Pass, error) {
	if err := bindReads(env, d.Reads); err != nil {
		return nil, err
	}
	desc := pipeline.Desc{
		Vertex:      d.Vertex,
		Fragment:    d.Fragment,
		DepthTest:   d.DepthTest,
		Attachments: env.PresentSignature,
	}
	ph, lh, err := env.Compiler.CompileOrGet(ctx, desc, env.PresentPass)
	if err != nil {
		return nil, err
	}
	return &Pass{
		Kind:         KindPresent,
		Name:         d.Name,
		Pipeline:     ph,
		Layout:       lh,
		RenderPass:   env.PresentPass,
		Reads:        d.Reads,
		Recorder:     d.Recorder,
		Extent:       env.Extent,
		DepthTest:    d.DepthTest,
		pipelineDesc: desc,
		clearValues:  2,
	}, nil
}

func compileRaster(ctx context.Context, env Env, d *RasterPassDesc) (_ *Pass, err error) {
	if len(d.Writes) == 0 {
		return nil, errors.New("raster pass writes no render target")
	}
	var colorViews, depthViews []gpu.ImageView
	var rpDesc gpu.RenderPassDesc
	var extent gpu.Extent2D
	for _, w := range d.Writes {
		img, err := env.Textures.Realize(env.Device, env.Low, w.Texture, env.Extent)
		if err != nil {
			return nil, err
		}
		if !extent.IsZero() && img.Extent != extent {
			return nil, fmt.Errorf("render targets differ in size: %dx%d and %dx%d",
				extent.Width, extent.Height, img.Extent.Width, img.Extent.Height)
		}
		extent = img.Extent
		att := gpu.AttachmentDesc{Format: img.Desc.Format, Load: w.Load, Store: w.Store, FinalLayout: gpu.LayoutShaderReadOnly}
		if img.Desc.Format.IsDepth() {
			if rpDesc.Depth != nil {
				return nil, errors.New("raster pass writes more than one depth target")
			}
			rpDesc.Depth = &att
			depthViews = append(depthViews, img.View)
			continue
		}
		rpDesc.Colors = append(rpDesc.Colors, att)
		colorViews = append(colorViews, img.View)
	}
	if len(rpDesc.Colors) > pipeline.MaxColorAttachments {
		return nil, fmt.Errorf("raster pass writes %d colour targets, at most %d are supported",
			len(rpDesc.Colors), pipeline.MaxColorAttachments)
	}
	// depth goes after the colour attachments
	views := append(colorViews, depthViews...)
	if err := bindReads(env, d.Reads); err != nil {
		return nil, err
	}

	rawRP, err := env.Device.CreateRenderPass(rpDesc)
	if err != nil {
		return nil, err
	}
	rph := env.Low.RenderPasses.Insert(resources.RenderPass{Raw: rawRP, Desc: rpDesc})
	defer func() {
		if err != nil {
			if rp, ok := env.Low.RenderPasses.Remove(rph); ok {
				env.Device.DestroyRenderPass(rp.Raw)
			}
		}
	}()

	rawFB, err := env.Device.CreateFramebuffer(gpu.FramebufferDesc{
		RenderPass:  rawRP,
		Attachments: views,
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		return nil, err
	}
	fbh := env.Low.Framebuffers.Insert(resources.Framebuffer{Raw: rawFB, RenderPass: rawRP, Extent: extent})
	defer func() {
		if err != nil {
			env.Low.DestroyFramebuffer(env.Device, fbh)
		}
	}()

	desc := pipeline.Desc{
		Vertex:      d.Vertex,
		Fragment:    d.Fragment,
		Dynamic:     d.Dynamic,
		DepthTest:   d.DepthTest,
		Attachments: pipeline.SignatureOf(rpDesc),
	}
	ph, lh, err := env.Compiler.CompileOrGet(ctx, desc, rawRP)
	if err != nil {
		return nil, err
	}
	return &Pass{
		Kind:         KindRaster,
		Name:         d.Name,
		Pipeline:     ph,
		Layout:       lh,
		Framebuffer:  fbh,
		RenderPass:   rawRP,
		Reads:        d.Reads,
		Writes:       d.Writes,
		Recorder:     d.Recorder,
		Extent:       extent,
		DepthTest:    d.DepthTest,
		renderPass:   rph,
		pipelineDesc: desc,
		clearValues:  len(views),
	}, nil
}

// bindReads realizes the textures a pass samples and publishes them at the
// index of their handle.
func bindReads(env Env, reads []TextureHandle) error {
	for _, h := range reads {
		img, err := env.Textures.Realize(env.Device, env.Low, h, env.Extent)
		if err != nil {
			return err
		}
		if env.Binder == nil {
			continue
		}
		tex, _ := env.Textures.Get(h)
		sampler, err := env.Low.SamplerFor(env.Device, tex.Desc.Sampler)
		if err != nil {
			return err
		}
		if err := env.Binder.BindTexture(h.Index(), img.View, sampler.Raw); err != nil {
			return fmt.Errorf("binding texture %s: %w", tex.Desc.Name, err)
		}
	}
	return nil
}

// Resize rebuilds full-resolution targets, the framebuffers of the raster
// passes writing them and the texture bindings of the passes reading them.
// The device must be idle.
func (g *Graph) Resize(env Env) error {
	rebuilt, err := env.Textures.Rebuild(env.Device, env.Low, env.Extent)
	if err != nil {
		return err
	}
	changed := make(map[TextureHandle]bool, len(rebuilt))
	for _, h := range rebuilt {
		changed[h] = true
	}
	for _, p := range g.passes {
		if p.Kind == KindPresent {
			p.Extent = env.Extent
		}
		if touches(p.Reads, changed) {
			if err := bindReads(env, p.Reads); err != nil {
				return err
			}
		}
		if p.Kind != KindRaster || !writesAny(p.Writes, changed) {
			continue
		}
		if err := g.rebuildFramebuffer(env, p); err != nil {
			return fmt.Errorf("rebuilding framebuffer of pass %s: %w", p.Name, err)
		}
	}
	return nil
}

// ReloadPipelines asks the compiler again for the pipeline of every compiled
// pass and swaps in the ones that changed, which after an eviction are the
// ones built from a reloaded shader. Pipelines no pass uses any more are
// destroyed. The device must be idle. On error the passes already swapped
// keep their new pipeline and the rest keep the old one.
func (g *Graph) ReloadPipelines(ctx context.Context, env Env) (int, error) {
	retired := make(map[resources.PipelineHandle]resources.LayoutHandle)
	swapped := 0
	var err error
	for _, p := range g.passes {
		ph, lh, cerr := env.Compiler.CompileOrGet(ctx, p.pipelineDesc, p.RenderPass)
		if cerr != nil {
			err = fmt.Errorf("reloading pipeline of pass %s: %w", p.Name, cerr)
			break
		}
		if ph == p.Pipeline {
			continue
		}
		retired[p.Pipeline] = p.Layout
		p.Pipeline, p.Layout = ph, lh
		swapped++
	}
	for _, p := range g.passes {
		delete(retired, p.Pipeline)
	}
	for ph, lh := range retired {
		env.Low.DestroyPipeline(env.Device, ph)
		env.Low.DestroyLayout(env.Device, lh)
	}
	if swapped > 0 {
		core.LogInfo("reloaded %d pipelines, retired %d", swapped, len(retired))
	}
	return swapped, err
}

func (g *Graph) rebuildFramebuffer(env Env, p *Pass) error {
	var colors, depth []gpu.ImageView
	var extent gpu.Extent2D
	for _, w := range p.Writes {
		img, err := env.Textures.Realize(env.Device, env.Low, w.Texture, env.Extent)
		if err != nil {
			return err
		}
		extent = img.Extent
		if img.Desc.Format.IsDepth() {
			depth = append(depth, img.View)
		} else {
			colors = append(colors, img.View)
		}
	}
	env.Low.DestroyFramebuffer(env.Device, p.Framebuffer)
	raw, err := env.Device.CreateFramebuffer(gpu.FramebufferDesc{
		RenderPass:  p.RenderPass,
		Attachments: append(colors, depth...),
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		p.Framebuffer = resources.FramebufferHandle{}
		return err
	}
	p.Framebuffer = env.Low.Framebuffers.Insert(resources.Framebuffer{Raw: raw, RenderPass: p.RenderPass, Extent: extent})
	p.Extent = extent
	return nil
}

func touches(reads []TextureHandle, changed map[TextureHandle]bool) bool {
	for _, h := range reads {
		if changed[h] {
			return true
		}
	}
	return false
}

func writesAny(writes []Attachment, changed map[TextureHandle]bool) bool {
	for _, w := range writes {
		if changed[w.Texture] {
			return true
		}
	}
	return false
}
