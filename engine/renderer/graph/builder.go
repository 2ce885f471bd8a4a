package graph

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

func passName(kind Kind, name string) string {
	if name != "" {
		return name
	}
	return kind.String() + "-" + uuid.NewString()
}

type RasterPassBuilder struct {
	desc RasterPassDesc
}

// NewRasterPass starts a raster pass description. An empty name gets a
// generated one.
func NewRasterPass(name string) *RasterPassBuilder {
	return &RasterPassBuilder{desc: RasterPassDesc{Name: passName(KindRaster, name)}}
}

func (b *RasterPassBuilder) RenderTarget(tex TextureHandle, load gpu.LoadOp, store gpu.StoreOp) *RasterPassBuilder {
	b.desc.Writes = append(b.desc.Writes, Attachment{Texture: tex, Load: load, Store: store})
	return b
}

func (b *RasterPassBuilder) Read(tex TextureHandle) *RasterPassBuilder {
	b.desc.Reads = append(b.desc.Reads, tex)
	return b
}

func (b *RasterPassBuilder) Pipeline() *PipelineBuilder {
	return &PipelineBuilder{pass: b}
}

// Render finishes the description with the pass recorder.
func (b *RasterPassBuilder) Render(rec Recorder) *RasterPassDesc {
	d := b.desc
	d.Recorder = rec
	return &d
}

// PipelineBuilder sets the pipeline state of a raster pass.
type PipelineBuilder struct {
	pass *RasterPassBuilder
}

func (p *PipelineBuilder) Vertex(src shader.Source) *PipelineBuilder {
	p.pass.desc.Vertex = src
	return p
}

func (p *PipelineBuilder) Fragment(src shader.Source) *PipelineBuilder {
	p.pass.desc.Fragment = src
	return p
}

func (p *PipelineBuilder) DepthTest(enabled bool) *PipelineBuilder {
	p.pass.desc.DepthTest = enabled
	return p
}

func (p *PipelineBuilder) Dynamic(state gpu.DynamicState) *PipelineBuilder {
	p.pass.desc.Dynamic |= state
	return p
}

func (p *PipelineBuilder) EndPipeline() *RasterPassBuilder {
	return p.pass
}

type PresentPassBuilder struct {
	desc PresentPassDesc
}

func NewPresentPass(name string) *PresentPassBuilder {
	return &PresentPassBuilder{desc: PresentPassDesc{Name: passName(KindPresent, name)}}
}

func (b *PresentPassBuilder) Vertex(src shader.Source) *PresentPassBuilder {
	b.desc.Vertex = src
	return b
}

func (b *PresentPassBuilder) Fragment(src shader.Source) *PresentPassBuilder {
	b.desc.Fragment = src
	return b
}

func (b *PresentPassBuilder) DepthTest(enabled bool) *PresentPassBuilder {
	b.desc.DepthTest = enabled
	return b
}

func (b *PresentPassBuilder) Read(tex TextureHandle) *PresentPassBuilder {
	b.desc.Reads = append(b.desc.Reads, tex)
	return b
}

func (b *PresentPassBuilder) Execute(rec Recorder) *PresentPassBuilder {
	b.desc.Recorder = rec
	return b
}

func (b *PresentPassBuilder) Build() *PresentPassDesc {
	d := b.desc
	return &d
}

type ComputePassBuilder struct {
	desc ComputePassDesc
}

func NewComputePass(name string) *ComputePassBuilder {
	return &ComputePassBuilder{desc: ComputePassDesc{Name: passName(KindCompute, name)}}
}

func (b *ComputePassBuilder) Shader(src shader.Source) *ComputePassBuilder {
	b.desc.Shader = src
	return b
}

func (b *ComputePassBuilder) Read(tex TextureHandle) *ComputePassBuilder {
	b.desc.Reads = append(b.desc.Reads, tex)
	return b
}

func (b *ComputePassBuilder) Write(tex TextureHandle) *ComputePassBuilder {
	b.desc.Writes = append(b.desc.Writes, tex)
	return b
}

func (b *ComputePassBuilder) Dispatch(rec Recorder) *ComputePassDesc {
	d := b.desc
	d.Recorder = rec
	return &d
}

type RayTracePassBuilder struct {
	desc RayTracePassDesc
}

func NewRayTracePass(name string) *RayTracePassBuilder {
	return &RayTracePassBuilder{desc: RayTracePassDesc{Name: passName(KindRayTrace, name)}}
}

func (b *RayTracePassBuilder) RayGen(src shader.Source) *RayTracePassBuilder {
	b.desc.RayGen = src
	return b
}

func (b *RayTracePassBuilder) Miss(src shader.Source) *RayTracePassBuilder {
	b.desc.Miss = src
	return b
}

func (b *RayTracePassBuilder) Hit(src shader.Source) *RayTracePassBuilder {
	b.desc.Hit = src
	return b
}

func (b *RayTracePassBuilder) Read(tex TextureHandle) *RayTracePassBuilder {
	b.desc.Reads = append(b.desc.Reads, tex)
	return b
}

func (b *RayTracePassBuilder) Write(tex TextureHandle) *RayTracePassBuilder {
	b.desc.Writes = append(b.desc.Writes, tex)
	return b
}

func (b *RayTracePassBuilder) Trace(rec Recorder) *RayTracePassDesc {
	d := b.desc
	d.Recorder = rec
	return &d
}
