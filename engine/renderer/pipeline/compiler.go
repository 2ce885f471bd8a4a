package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

type entry struct {
	pipeline resources.PipelineHandle
	layout   resources.LayoutHandle
}

// Options configures the layout every pipeline shares.
type Options struct {
	// Bindless is the set 0 layout. It is owned by the caller.
	Bindless         gpu.DescriptorSetLayout
	BindlessBindings []gpu.DescriptorBinding
	PushConstantSize uint32
}

type Stats struct {
	Hits     int
	Misses   int
	Failures int
	Cached   int
}

// Compiler creates raster pipelines on a miss and hands out the cached pair
// on a hit. It is used from the thread that compiles the graph.
type Compiler struct {
	dev    gpu.Device
	loader shader.Loader
	low    *resources.LowLevel
	opts   Options

	pushRange gpu.PushConstantRange
	cache     map[Key]entry
	stats     Stats
}

func NewCompiler(dev gpu.Device, loader shader.Loader, low *resources.LowLevel, opts Options) *Compiler {
	c := &Compiler{
		dev:    dev,
		loader: loader,
		low:    low,
		opts:   opts,
		cache:  make(map[Key]entry),
	}
	size := opts.PushConstantSize
	if limit := dev.Capabilities().MaxPushConstantSize; size > limit {
		core.LogWarn("push constant size %d exceeds the device limit, clamping to %d", size, limit)
		size = limit
	}
	if size > 0 {
		c.pushRange = gpu.PushConstantRange{Stages: gpu.StageAllGraphics, Size: size}
	}
	return c
}

// PushRange is the push constant range of every pipeline layout.
func (c *Compiler) PushRange() gpu.PushConstantRange {
	return c.pushRange
}

// CompileOrGet returns the pipeline for desc. A cache hit makes no device
// call. On failure every object created for desc is released and nothing is
// cached.
func (c *Compiler) CompileOrGet(ctx context.Context, desc Desc, renderPass gpu.RenderPass) (resources.PipelineHandle, resources.LayoutHandle, error) {
	key := desc.Key()
	if e, ok := c.cache[key]; ok {
		c.stats.Hits++
		return e.pipeline, e.layout, nil
	}
	c.stats.Misses++

	e, err := c.compile(ctx, desc, key, renderPass)
	if err != nil {
		c.stats.Failures++
		return resources.PipelineHandle{}, resources.LayoutHandle{}, err
	}
	c.cache[key] = e
	core.LogDebug("compiled pipeline %s + %s", desc.Vertex, desc.Fragment)
	return e.pipeline, e.layout, nil
}

func (c *Compiler) compile(ctx context.Context, desc Desc, key Key, renderPass gpu.RenderPass) (_ entry, err error) {
	vs, fs, err := shader.LoadStages(ctx, c.loader, desc.Vertex, desc.Fragment)
	if err != nil {
		return entry{}, asShaderError(err, desc.Vertex.String())
	}

	derived, err := c.deriveSets(vs, fs)
	if err != nil {
		return entry{}, err
	}

	// Shader modules are always released; the rest only when compiling fails.
	modules := core.NewScope("shader modules")
	defer modules.Close()
	created := core.NewScope("pipeline")
	defer func() {
		if err != nil {
			created.Close()
		}
	}()

	vsMod, err := c.dev.CreateShaderModule(vs.Code)
	if err != nil {
		return entry{}, err
	}
	modules.DeferFunc("vertex", func() { c.dev.DestroyShaderModule(vsMod) })
	fsMod, err := c.dev.CreateShaderModule(fs.Code)
	if err != nil {
		return entry{}, err
	}
	modules.DeferFunc("fragment", func() { c.dev.DestroyShaderModule(fsMod) })

	owned := make([]gpu.DescriptorSetLayout, 0, len(derived))
	for _, bindings := range derived {
		sl, err := c.dev.CreateDescriptorSetLayout(bindings)
		if err != nil {
			return entry{}, err
		}
		created.DeferFunc("set layout", func() { c.dev.DestroyDescriptorSetLayout(sl) })
		owned = append(owned, sl)
	}

	layoutDesc := gpu.PipelineLayoutDesc{
		SetLayouts: append([]gpu.DescriptorSetLayout{c.opts.Bindless}, owned...),
	}
	if c.pushRange.Size > 0 {
		layoutDesc.PushConstants = []gpu.PushConstantRange{c.pushRange}
	}
	rawLayout, err := c.dev.CreatePipelineLayout(layoutDesc)
	if err != nil {
		return entry{}, err
	}
	created.DeferFunc("layout", func() { c.dev.DestroyPipelineLayout(rawLayout) })

	raw, err := c.dev.CreateGraphicsPipeline(gpu.GraphicsPipelineDesc{
		Vertex:           vsMod,
		VertexEntry:      vs.EntryPoint,
		Fragment:         fsMod,
		FragmentEntry:    fs.EntryPoint,
		Attributes:       vs.Attributes,
		Stride:           vs.Stride(),
		Layout:           rawLayout,
		RenderPass:       renderPass,
		Dynamic:          key.Dynamic,
		DepthTest:        desc.DepthTest,
		ColorAttachments: int(desc.Attachments.ColorCount),
	})
	if err != nil {
		return entry{}, err
	}

	layout := c.low.Layouts.Insert(resources.PipelineLayout{Raw: rawLayout, SetLayouts: owned, PushRange: c.pushRange})
	return entry{
		pipeline: c.low.Pipelines.Insert(resources.RasterPipeline{Raw: raw, Layout: layout}),
		layout:   layout,
	}, nil
}

// deriveSets checks set 0 against the bindless layout and merges the
// bindings of sets >= 1 across both stages. Missing sets in between get an
// empty layout.
func (c *Compiler) deriveSets(stages ...*shader.Module) ([][]gpu.DescriptorBinding, error) {
	sets := make(map[uint32]map[uint32]gpu.DescriptorBinding)
	var maxSet uint32
	for _, m := range stages {
		for _, b := range m.Bindings {
			if b.Set == 0 {
				if err := c.covered(b.DescriptorBinding); err != nil {
					return nil, &core.ShaderError{Source: m.Name, Stage: m.Stage.String(), Err: err}
				}
				continue
			}
			set := sets[b.Set]
			if set == nil {
				set = make(map[uint32]gpu.DescriptorBinding)
				sets[b.Set] = set
			}
			prev, ok := set[b.Binding]
			if ok && (prev.Type != b.Type || prev.Count != b.Count) {
				return nil, &core.ShaderError{Source: m.Name, Stage: m.Stage.String(),
					Err: fmt.Errorf("set %d binding %d is %s in one stage and %s in another", b.Set, b.Binding, prev.Type, b.Type)}
			}
			merged := b.DescriptorBinding
			merged.Stages |= prev.Stages
			set[b.Binding] = merged
			maxSet = max(maxSet, b.Set)
		}
	}
	if len(sets) == 0 {
		return nil, nil
	}
	if limit := c.dev.Capabilities().MaxBoundDescriptorSets; maxSet+1 > limit {
		return nil, &core.ShaderError{Source: stages[0].Name,
			Err: fmt.Errorf("descriptor set %d exceeds the device limit of %d sets", maxSet, limit)}
	}

	out := make([][]gpu.DescriptorBinding, maxSet)
	for i := uint32(1); i <= maxSet; i++ {
		bindings := make([]gpu.DescriptorBinding, 0, len(sets[i]))
		for _, b := range sets[i] {
			bindings = append(bindings, b)
		}
		sort.Slice(bindings, func(a, b int) bool { return bindings[a].Binding < bindings[b].Binding })
		out[i-1] = bindings
	}
	return out, nil
}

func (c *Compiler) covered(b gpu.DescriptorBinding) error {
	for _, have := range c.opts.BindlessBindings {
		if have.Binding != b.Binding {
			continue
		}
		if have.Type != b.Type {
			return fmt.Errorf("set 0 binding %d is %s, the bindless layout declares %s", b.Binding, b.Type, have.Type)
		}
		if b.Count > have.Count {
			return fmt.Errorf("set 0 binding %d needs %d descriptors, the bindless layout has %d", b.Binding, b.Count, have.Count)
		}
		return nil
	}
	return fmt.Errorf("set 0 binding %d (%s) is not in the bindless layout", b.Binding, b.Type)
}

func asShaderError(err error, source string) error {
	var shaderErr *core.ShaderError
	if errors.As(err, &shaderErr) {
		return err
	}
	var deviceErr *core.DeviceError
	if errors.As(err, &deviceErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.ShaderError{Source: source, Err: err}
}

// Evict drops every cached pipeline compiled from path. The pipelines stay
// alive for the passes that hold their handles; a later CompileOrGet builds
// a fresh one.
func (c *Compiler) Evict(path string) int {
	resolve := func(p string) string { return p }
	if r, ok := c.loader.(interface{ Resolve(string) string }); ok {
		resolve = r.Resolve
	}
	n := 0
	for k := range c.cache {
		if k.references(path, resolve) {
			delete(c.cache, k)
			n++
		}
	}
	return n
}

func (c *Compiler) Stats() Stats {
	s := c.stats
	s.Cached = len(c.cache)
	return s
}
