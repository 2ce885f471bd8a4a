package gpu

import "fmt"

// Opaque device objects. Zero is the null object for every kind.
type (
	ShaderModule        uint64
	DescriptorSetLayout uint64
	PipelineLayout      uint64
	Pipeline            uint64
	RenderPass          uint64
	Image               uint64
	ImageView           uint64
	Framebuffer         uint64
	Sampler             uint64
	Buffer              uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	CommandBuffer       uint64
	Fence               uint64
	Semaphore           uint64
)

type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
	FormatR32Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatR32Sint
	FormatR32G32Sint
	FormatR32G32B32Sint
	FormatR32G32B32A32Sint
	FormatR32Uint
	FormatR32G32Uint
	FormatR32G32B32Uint
	FormatR32G32B32A32Uint
)

var formatNames = map[Format]string{
	FormatUndefined:          "undefined",
	FormatR8G8B8A8Unorm:      "r8g8b8a8_unorm",
	FormatR8G8B8A8Srgb:       "r8g8b8a8_srgb",
	FormatB8G8R8A8Unorm:      "b8g8r8a8_unorm",
	FormatB8G8R8A8Srgb:       "b8g8r8a8_srgb",
	FormatD32Sfloat:          "d32_sfloat",
	FormatD32SfloatS8Uint:    "d32_sfloat_s8_uint",
	FormatD24UnormS8Uint:     "d24_unorm_s8_uint",
	FormatR32Sfloat:          "r32_sfloat",
	FormatR32G32Sfloat:       "r32g32_sfloat",
	FormatR32G32B32Sfloat:    "r32g32b32_sfloat",
	FormatR32G32B32A32Sfloat: "r32g32b32a32_sfloat",
	FormatR32Sint:            "r32_sint",
	FormatR32G32Sint:         "r32g32_sint",
	FormatR32G32B32Sint:      "r32g32b32_sint",
	FormatR32G32B32A32Sint:   "r32g32b32a32_sint",
	FormatR32Uint:            "r32_uint",
	FormatR32G32Uint:         "r32g32_uint",
	FormatR32G32B32Uint:      "r32g32b32_uint",
	FormatR32G32B32A32Uint:   "r32g32b32a32_uint",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("format(%d)", uint32(f))
}

// Size returns the byte size of one element of a vertex attribute format.
func (f Format) Size() uint32 {
	switch f {
	case FormatR32Sfloat, FormatR32Sint, FormatR32Uint, FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb,
		FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb:
		return 4
	case FormatR32G32Sfloat, FormatR32G32Sint, FormatR32G32Uint:
		return 8
	case FormatR32G32B32Sfloat, FormatR32G32B32Sint, FormatR32G32B32Uint:
		return 12
	case FormatR32G32B32A32Sfloat, FormatR32G32B32A32Sint, FormatR32G32B32A32Uint:
		return 16
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute

	StageAllGraphics = StageVertex | StageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	case StageAllGraphics:
		return "vertex|fragment"
	}
	return fmt.Sprintf("stages(%#x)", uint32(s))
}

// ParseShaderStage maps "vertex", "fragment" and "compute".
func ParseShaderStage(s string) (ShaderStage, error) {
	switch s {
	case "vertex":
		return StageVertex, nil
	case "fragment":
		return StageFragment, nil
	case "compute":
		return StageCompute, nil
	}
	return 0, fmt.Errorf("unknown shader stage %q", s)
}

type DescriptorType uint32

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
	DescriptorSampledImage
	DescriptorSampler
	DescriptorStorageImage
)

var descriptorNames = map[DescriptorType]string{
	DescriptorUniformBuffer:        "uniform_buffer",
	DescriptorStorageBuffer:        "storage_buffer",
	DescriptorCombinedImageSampler: "combined_image_sampler",
	DescriptorSampledImage:         "sampled_image",
	DescriptorSampler:              "sampler",
	DescriptorStorageImage:         "storage_image",
}

func (d DescriptorType) String() string {
	if s, ok := descriptorNames[d]; ok {
		return s
	}
	return fmt.Sprintf("descriptor(%d)", uint32(d))
}

func ParseDescriptorType(s string) (DescriptorType, error) {
	for t, name := range descriptorNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown descriptor type %q", s)
}

// DescriptorBinding is one slot of a descriptor set layout.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type PipelineLayoutDesc struct {
	SetLayouts    []DescriptorSetLayout
	PushConstants []PushConstantRange
}

// DynamicState selects the pipeline state supplied at record time.
type DynamicState uint32

const (
	DynamicViewport DynamicState = 1 << iota
	DynamicScissor
	DynamicLineWidth
)

// GraphicsPipelineDesc is the fully resolved input of CreateGraphicsPipeline.
// Topology is always a triangle list with fill mode, no culling, one sample
// and blending disabled.
type GraphicsPipelineDesc struct {
	Vertex        ShaderModule
	VertexEntry   string
	Fragment      ShaderModule
	FragmentEntry string
	Attributes    []VertexAttribute
	Stride        uint32
	Layout        PipelineLayout
	RenderPass    RenderPass
	Dynamic       DynamicState
	DepthTest     bool
	// Number of colour attachments of the render pass.
	ColorAttachments int
}

type LoadOp uint32

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type StoreOp uint32

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// ImageLayout is the layout an attachment is left in after a render pass.
type ImageLayout uint32

const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShaderReadOnly
	LayoutPresentSrc
)

type AttachmentDesc struct {
	Format      Format
	Load        LoadOp
	Store       StoreOp
	FinalLayout ImageLayout
}

type RenderPassDesc struct {
	Colors []AttachmentDesc
	Depth  *AttachmentDesc
}

type ImageUsage uint32

const (
	ImageUsageColorAttachment ImageUsage = 1 << iota
	ImageUsageDepthAttachment
	ImageUsageSampled
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type ImageDesc struct {
	Width  uint32
	Height uint32
	Layers uint32
	Format Format
	Usage  ImageUsage
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

type Filter uint32

const (
	FilterLinear Filter = iota
	FilterNearest
)

type SamplerDesc struct {
	Filter Filter
}

type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
)

// BufferDesc describes a host-visible buffer.
type BufferDesc struct {
	Size  uint64
	Usage BufferUsage
}

// DescriptorWrite points a binding of a set at a buffer range or an image.
type DescriptorWrite struct {
	Set          DescriptorSet
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffer       Buffer
	Offset       uint64
	Range        uint64
	ImageView    ImageView
	Sampler      Sampler
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type Rect2D struct {
	X, Y   int32
	Extent Extent2D
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type RenderPassBegin struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Rect2D
	ClearValues []ClearValue
}

type CommandBufferUsage uint32

const (
	CommandBufferOneTimeSubmit CommandBufferUsage = 1 << iota
	CommandBufferRenderPassContinue
	CommandBufferSimultaneousUse
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageColorAttachmentOutput
	PipelineStageFragmentShader
	PipelineStageComputeShader
)

type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Wait           []Semaphore
	WaitStages     []PipelineStage
	Signal         []Semaphore
	Fence          Fence
}

type IndexType uint32

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

// Capabilities summarizes the physical device.
type Capabilities struct {
	VendorID               uint32
	DeviceName             string
	MaxPushConstantSize    uint32
	MaxBoundDescriptorSets uint32
	DepthFormat            Format
}
