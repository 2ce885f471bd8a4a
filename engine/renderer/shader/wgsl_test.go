package shader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

const texturedWGSL = `
struct Camera {
    view: mat4x4<f32>,
    proj: mat4x4<f32>,
    pos: vec4<f32>,
}

@group(0) @binding(0) var<uniform> camera: Camera;
@group(1) @binding(0) var albedo: texture_2d<f32>;
@group(1) @binding(1) var albedo_sampler: sampler;

struct VertexInput {
    @location(1) uv: vec2<f32>,
    @location(0) position: vec3<f32>,
}

struct VertexOutput {
    @builtin(position) clip: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(in: VertexInput) -> VertexOutput {
    var out: VertexOutput;
    out.clip = camera.proj * camera.view * vec4<f32>(in.position, 1.0);
    out.uv = in.uv;
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(albedo, albedo_sampler, in.uv);
}
`

func TestCompileWGSLVertex(t *testing.T) {
	m, err := CompileWGSL("textured", texturedWGSL, gpu.StageVertex)
	require.NoError(t, err)

	assert.Equal(t, "vs_main", m.EntryPoint)
	require.NotEmpty(t, m.Code)
	assert.Equal(t, SPIRVMagic, m.Code[0])
	assert.Equal(t, []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Format: gpu.FormatR32G32Sfloat, Offset: 12},
	}, m.Attributes)

	require.Len(t, m.Bindings, 3)
	assert.Equal(t, gpu.DescriptorUniformBuffer, m.Bindings[0].Type)
	assert.Equal(t, uint32(0), m.Bindings[0].Set)
	assert.Equal(t, gpu.DescriptorSampledImage, m.Bindings[1].Type)
	assert.Equal(t, gpu.DescriptorSampler, m.Bindings[2].Type)
	assert.Equal(t, uint32(1), m.Bindings[2].Binding)
}

func TestCompileWGSLFragment(t *testing.T) {
	m, err := CompileWGSL("textured", texturedWGSL, gpu.StageFragment)
	require.NoError(t, err)
	assert.Equal(t, "fs_main", m.EntryPoint)
	assert.Empty(t, m.Attributes, "fragment inputs are not vertex attributes")
}

func TestCompileWGSLErrors(t *testing.T) {
	_, err := CompileWGSL("broken", "fn main( {", gpu.StageVertex)
	assert.ErrorContains(t, err, "parse")

	_, err = CompileWGSL("textured", texturedWGSL, gpu.StageCompute)
	assert.ErrorContains(t, err, "no compute entry point")
}
