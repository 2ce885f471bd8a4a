package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

type stubLoader struct {
	mu      sync.Mutex
	modules map[shader.Key]*shader.Module
	err     error
	loads   int
}

func (l *stubLoader) Load(_ context.Context, src shader.Source, stage gpu.ShaderStage) (*shader.Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	m, ok := l.modules[src.Key()]
	if !ok || m.Stage != stage {
		return nil, &core.ShaderError{Source: src.String(), Stage: stage.String(), Err: core.ErrNotFound}
	}
	return m, nil
}

func (l *stubLoader) add(src shader.Source, m *shader.Module) {
	if l.modules == nil {
		l.modules = make(map[shader.Key]*shader.Module)
	}
	m.Name = src.String()
	if m.EntryPoint == "" {
		m.EntryPoint = "main"
	}
	m.Code = []uint32{shader.SPIRVMagic}
	l.modules[src.Key()] = m
}

var bindlessBindings = []gpu.DescriptorBinding{
	{Binding: 0, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: gpu.StageAllGraphics},
	{Binding: 1, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: gpu.StageAllGraphics},
}

type fixture struct {
	dev      *gputest.Device
	loader   *stubLoader
	low      *resources.LowLevel
	compiler *Compiler
	vs, fs   shader.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dev:    gputest.NewDevice(),
		loader: &stubLoader{},
		low:    resources.NewLowLevel(),
		vs:     shader.FromPath("shaders://mesh.vert.wgsl"),
		fs:     shader.FromPath("shaders://mesh.frag.wgsl"),
	}
	f.loader.add(f.vs, &shader.Module{
		Stage:      gpu.StageVertex,
		Attributes: []gpu.VertexAttribute{{Location: 0, Format: gpu.FormatR32G32B32Sfloat}},
		Bindings:   []shader.Binding{{Set: 0, DescriptorBinding: gpu.DescriptorBinding{Binding: 0, Type: gpu.DescriptorUniformBuffer, Count: 1, Stages: gpu.StageVertex}}},
	})
	f.loader.add(f.fs, &shader.Module{Stage: gpu.StageFragment})
	bindless, err := f.dev.CreateDescriptorSetLayout(bindlessBindings)
	require.NoError(t, err)
	f.compiler = NewCompiler(f.dev, f.loader, f.low, Options{
		Bindless:         bindless,
		BindlessBindings: bindlessBindings,
		PushConstantSize: 128,
	})
	return f
}

func (f *fixture) desc() Desc {
	return Desc{
		Vertex:      f.vs,
		Fragment:    f.fs,
		Attachments: ColorSignature(gpu.FormatB8G8R8A8Srgb, 1),
	}
}

const renderPass = gpu.RenderPass(42)

func TestCompileOrGetCachesPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1, l1, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)
	creates := f.dev.TotalCreates()
	loads := f.loader.loads

	p2, l2, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, l1, l2)
	assert.Equal(t, creates, f.dev.TotalCreates(), "a cache hit makes no device call")
	assert.Equal(t, loads, f.loader.loads)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, Cached: 1}, f.compiler.Stats())
	assert.Equal(t, 0, f.dev.Live("ShaderModule"), "shader modules are released after pipeline creation")

	rp, err := f.low.Pipeline(p1)
	require.NoError(t, err)
	desc, ok := f.dev.PipelineDesc(rp.Raw)
	require.True(t, ok)
	assert.Equal(t, uint32(12), desc.Stride)
	assert.Equal(t, gpu.DynamicViewport|gpu.DynamicScissor, desc.Dynamic)
	assert.Equal(t, renderPass, desc.RenderPass)
	assert.Equal(t, 1, desc.ColorAttachments)
}

func TestCompileOrGetKeyDistinguishesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1, _, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)

	depth := f.desc()
	depth.DepthTest = true
	p2, _, err := f.compiler.CompileOrGet(ctx, depth, renderPass)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	offscreen := f.desc()
	offscreen.Attachments = ColorSignature(gpu.FormatR8G8B8A8Srgb, 1)
	p3, _, err := f.compiler.CompileOrGet(ctx, offscreen, renderPass)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p3)

	// two targets that only differ in the second format
	gbuffer := f.desc()
	gbuffer.Attachments = ColorSignature(gpu.FormatR8G8B8A8Srgb, 2)
	p4, _, err := f.compiler.CompileOrGet(ctx, gbuffer, renderPass)
	require.NoError(t, err)
	hdr := f.desc()
	hdr.Attachments = ColorSignature(gpu.FormatR8G8B8A8Srgb, 2)
	hdr.Attachments.Colors[1] = gpu.FormatR32G32B32A32Sfloat
	p5, _, err := f.compiler.CompileOrGet(ctx, hdr, renderPass)
	require.NoError(t, err)
	assert.NotEqual(t, p4, p5)

	lines := f.desc()
	lines.Dynamic = gpu.DynamicLineWidth
	p6, _, err := f.compiler.CompileOrGet(ctx, lines, renderPass)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p6)

	tint := shader.FromPath("shaders://tint.frag.wgsl")
	f.loader.add(tint, &shader.Module{Stage: gpu.StageFragment})
	tinted := f.desc()
	tinted.Fragment = tint
	p7, _, err := f.compiler.CompileOrGet(ctx, tinted, renderPass)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p7)

	assert.Equal(t, 7, f.compiler.Stats().Misses)
	assert.Equal(t, 7, f.low.Pipelines.Len())

	rp, err := f.low.Pipeline(p6)
	require.NoError(t, err)
	desc, ok := f.dev.PipelineDesc(rp.Raw)
	require.True(t, ok)
	assert.Equal(t, gpu.DynamicViewport|gpu.DynamicScissor|gpu.DynamicLineWidth, desc.Dynamic)
}

func TestViewportAndScissorAreAlwaysDynamic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1, _, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)
	explicit := f.desc()
	explicit.Dynamic = gpu.DynamicViewport | gpu.DynamicScissor
	p2, _, err := f.compiler.CompileOrGet(ctx, explicit, renderPass)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, f.desc().Key(), explicit.Key())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Cached: 1}, f.compiler.Stats())
}

func TestCompileFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dev.FailNext("CreateGraphicsPipeline", errors.New("out of memory"))

	_, _, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	var deviceErr *core.DeviceError
	require.True(t, errors.As(err, &deviceErr))
	assert.Equal(t, "CreateGraphicsPipeline", deviceErr.Op)

	assert.Equal(t, 0, f.dev.Live("ShaderModule"))
	assert.Equal(t, 0, f.dev.Live("PipelineLayout"))
	assert.Equal(t, 0, f.low.Pipelines.Len())
	assert.Equal(t, 0, f.low.Layouts.Len())
	assert.Equal(t, 0, f.compiler.Stats().Cached)

	// the next attempt compiles from scratch
	_, _, err = f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)
	assert.Equal(t, 1, f.compiler.Stats().Failures)
}

func TestCompileShaderFailure(t *testing.T) {
	f := newFixture(t)
	f.loader.err = &core.ShaderError{Source: "mesh.vert.wgsl", Stage: "vertex", Err: errors.New("parse error")}
	creates := f.dev.TotalCreates()

	_, _, err := f.compiler.CompileOrGet(context.Background(), f.desc(), renderPass)
	var shaderErr *core.ShaderError
	require.True(t, errors.As(err, &shaderErr))
	assert.Equal(t, creates, f.dev.TotalCreates())

	f.loader.err = errors.New("plain failure")
	_, _, err = f.compiler.CompileOrGet(context.Background(), f.desc(), renderPass)
	assert.True(t, errors.As(err, &shaderErr), "loader errors are reported as shader errors")
}

func TestSetZeroMustBeCoveredByBindless(t *testing.T) {
	f := newFixture(t)
	vs := shader.FromWGSL("textured vertex")
	f.loader.add(vs, &shader.Module{
		Stage:    gpu.StageVertex,
		Bindings: []shader.Binding{{Set: 0, DescriptorBinding: gpu.DescriptorBinding{Binding: 5, Type: gpu.DescriptorStorageBuffer, Count: 1}}},
	})
	desc := f.desc()
	desc.Vertex = vs
	creates := f.dev.TotalCreates()

	_, _, err := f.compiler.CompileOrGet(context.Background(), desc, renderPass)
	var shaderErr *core.ShaderError
	require.True(t, errors.As(err, &shaderErr))
	assert.ErrorContains(t, err, "not in the bindless layout")
	assert.Equal(t, creates, f.dev.TotalCreates())

	wrongType := shader.FromWGSL("wrong type")
	f.loader.add(wrongType, &shader.Module{
		Stage:    gpu.StageVertex,
		Bindings: []shader.Binding{{Set: 0, DescriptorBinding: gpu.DescriptorBinding{Binding: 0, Type: gpu.DescriptorStorageBuffer, Count: 1}}},
	})
	desc.Vertex = wrongType
	_, _, err = f.compiler.CompileOrGet(context.Background(), desc, renderPass)
	assert.ErrorContains(t, err, "the bindless layout declares")
}

func TestDerivedSetsAreMergedAcrossStages(t *testing.T) {
	f := newFixture(t)
	texture := gpu.DescriptorBinding{Binding: 0, Type: gpu.DescriptorSampledImage, Count: 1}
	vs, fs := shader.FromWGSL("vs"), shader.FromWGSL("fs")
	vsBinding := texture
	vsBinding.Stages = gpu.StageVertex
	fsBinding := texture
	fsBinding.Stages = gpu.StageFragment
	f.loader.add(vs, &shader.Module{Stage: gpu.StageVertex, Bindings: []shader.Binding{{Set: 1, DescriptorBinding: vsBinding}}})
	f.loader.add(fs, &shader.Module{Stage: gpu.StageFragment, Bindings: []shader.Binding{
		{Set: 1, DescriptorBinding: fsBinding},
		{Set: 3, DescriptorBinding: gpu.DescriptorBinding{Binding: 1, Type: gpu.DescriptorSampler, Count: 1, Stages: gpu.StageFragment}},
	}})

	_, lh, err := f.compiler.CompileOrGet(context.Background(), Desc{Vertex: vs, Fragment: fs}, renderPass)
	require.NoError(t, err)
	layout, err := f.low.Layout(lh)
	require.NoError(t, err)
	assert.Len(t, layout.SetLayouts, 3, "sets 1 to 3, set 2 empty")

	desc, ok := f.dev.PipelineLayoutDesc(layout.Raw)
	require.True(t, ok)
	assert.Len(t, desc.SetLayouts, 4, "bindless set 0 plus derived sets")
	require.Len(t, desc.PushConstants, 1)
	assert.Equal(t, uint32(128), desc.PushConstants[0].Size)

	f.low.Destroy(f.dev)
	assert.Equal(t, 1, f.dev.Live("DescriptorSetLayout"), "only the bindless layout remains")
}

func TestDerivedSetConflict(t *testing.T) {
	f := newFixture(t)
	vs, fs := shader.FromWGSL("vs"), shader.FromWGSL("fs")
	f.loader.add(vs, &shader.Module{Stage: gpu.StageVertex, Bindings: []shader.Binding{
		{Set: 1, DescriptorBinding: gpu.DescriptorBinding{Binding: 0, Type: gpu.DescriptorUniformBuffer, Count: 1}},
	}})
	f.loader.add(fs, &shader.Module{Stage: gpu.StageFragment, Bindings: []shader.Binding{
		{Set: 1, DescriptorBinding: gpu.DescriptorBinding{Binding: 0, Type: gpu.DescriptorSampler, Count: 1}},
	}})
	_, _, err := f.compiler.CompileOrGet(context.Background(), Desc{Vertex: vs, Fragment: fs}, renderPass)
	assert.ErrorContains(t, err, "in one stage")
}

func TestPushConstantsClampedToDevice(t *testing.T) {
	dev := gputest.NewDevice()
	dev.SetCapabilities(gpu.Capabilities{MaxPushConstantSize: 64, MaxBoundDescriptorSets: 4})
	c := NewCompiler(dev, &stubLoader{}, resources.NewLowLevel(), Options{PushConstantSize: 128})
	assert.Equal(t, uint32(64), c.PushRange().Size)
	assert.Equal(t, gpu.StageAllGraphics, c.PushRange().Stages)
}

func TestEvictByPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, _, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)

	assert.Equal(t, 0, f.compiler.Evict("shaders://other.wgsl"))
	assert.Equal(t, 1, f.compiler.Evict("shaders://mesh.frag.wgsl"))

	p2, _, err := f.compiler.CompileOrGet(ctx, f.desc(), renderPass)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.True(t, f.low.Pipelines.Contains(p1), "evicted pipelines stay alive for their passes")
}

func TestSignatureOf(t *testing.T) {
	s := SignatureOf(gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{{Format: gpu.FormatR8G8B8A8Srgb}, {Format: gpu.FormatR8G8B8A8Srgb}},
		Depth:  &gpu.AttachmentDesc{Format: gpu.FormatD32Sfloat},
	})
	want := ColorSignature(gpu.FormatR8G8B8A8Srgb, 2)
	want.Depth = gpu.FormatD32Sfloat
	assert.Equal(t, want, s)

	hdr := SignatureOf(gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{{Format: gpu.FormatR8G8B8A8Srgb}, {Format: gpu.FormatR32G32B32A32Sfloat}},
		Depth:  &gpu.AttachmentDesc{Format: gpu.FormatD32Sfloat},
	})
	assert.NotEqual(t, s, hdr)
	assert.Equal(t, gpu.FormatR32G32B32A32Sfloat, hdr.Colors[1])
	assert.Equal(t, gpu.FormatUndefined, hdr.Colors[2])
}
