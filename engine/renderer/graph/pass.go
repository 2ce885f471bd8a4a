// Package graph turns pass descriptions into compiled passes and records
// them every frame against the frame synchronizer.
package graph

import (
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

type Kind uint8

const (
	KindRaster Kind = iota
	KindPresent
	KindCompute
	KindRayTrace
)

func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindPresent:
		return "present"
	case KindCompute:
		return "compute"
	case KindRayTrace:
		return "raytrace"
	}
	return "unknown"
}

// Recorder records the draw commands of one pass.
type Recorder interface {
	Record(pc *PassContext, renderables []resources.Renderable) error
}

type RecorderFunc func(pc *PassContext, renderables []resources.Renderable) error

func (f RecorderFunc) Record(pc *PassContext, renderables []resources.Renderable) error {
	return f(pc, renderables)
}

// Attachment is a texture written by a pass.
type Attachment struct {
	Texture TextureHandle
	Load    gpu.LoadOp
	Store   gpu.StoreOp
}

// PassDesc is implemented by the four pass description types only.
type PassDesc interface {
	Kind() Kind
	PassName() string
	passDesc()
}

type RasterPassDesc struct {
	Name      string
	Vertex    shader.Source
	Fragment  shader.Source
	DepthTest bool
	Dynamic   gpu.DynamicState
	Reads     []TextureHandle
	Writes    []Attachment
	Recorder  Recorder
}

// PresentPassDesc draws into the swapchain image.
type PresentPassDesc struct {
	Name      string
	Vertex    shader.Source
	Fragment  shader.Source
	DepthTest bool
	Reads     []TextureHandle
	Recorder  Recorder
}

type ComputePassDesc struct {
	Name     string
	Shader   shader.Source
	Reads    []TextureHandle
	Writes   []TextureHandle
	Recorder Recorder
}

type RayTracePassDesc struct {
	Name     string
	RayGen   shader.Source
	Miss     shader.Source
	Hit      shader.Source
	Reads    []TextureHandle
	Writes   []TextureHandle
	Recorder Recorder
}

func (*RasterPassDesc) Kind() Kind   { return KindRaster }
func (*PresentPassDesc) Kind() Kind  { return KindPresent }
func (*ComputePassDesc) Kind() Kind  { return KindCompute }
func (*RayTracePassDesc) Kind() Kind { return KindRayTrace }

func (d *RasterPassDesc) PassName() string   { return d.Name }
func (d *PresentPassDesc) PassName() string  { return d.Name }
func (d *ComputePassDesc) PassName() string  { return d.Name }
func (d *RayTracePassDesc) PassName() string { return d.Name }

func (*RasterPassDesc) passDesc()   {}
func (*PresentPassDesc) passDesc()  {}
func (*ComputePassDesc) passDesc()  {}
func (*RayTracePassDesc) passDesc() {}

// Pass is a compiled pass. Present passes have no framebuffer of their own;
// they draw into the acquired swapchain image.
type Pass struct {
	Kind        Kind
	Name        string
	Pipeline    resources.PipelineHandle
	Layout      resources.LayoutHandle
	Framebuffer resources.FramebufferHandle
	RenderPass  gpu.RenderPass
	Reads       []TextureHandle
	Writes      []Attachment
	Recorder    Recorder
	Extent      gpu.Extent2D
	DepthTest   bool

	renderPass   resources.RenderPassHandle
	pipelineDesc pipeline.Desc
	clearValues  int
}
