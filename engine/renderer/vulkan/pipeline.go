package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

func (b *Backend) CreateShaderModule(code []uint32) (gpu.ShaderModule, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("create shader module: empty code")
	}
	var module vk.ShaderModule
	res := vk.CreateShaderModule(b.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &module)
	if err := check("vkCreateShaderModule", res); err != nil {
		return 0, err
	}
	return gpu.ShaderModule(b.shaders.add(module)), nil
}

func (b *Backend) DestroyShaderModule(m gpu.ShaderModule) {
	if v, ok := b.shaders.take(uint64(m)); ok {
		vk.DestroyShaderModule(b.device, v, nil)
	}
}

func (b *Backend) CreatePipelineLayout(desc gpu.PipelineLayoutDesc) (gpu.PipelineLayout, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	for i, id := range desc.SetLayouts {
		l, ok := b.setLayouts.get(uint64(id))
		if !ok {
			return 0, fmt.Errorf("descriptor set layout %d: %w", id, core.ErrNotFound)
		}
		setLayouts[i] = l
	}
	ranges := make([]vk.PushConstantRange, len(desc.PushConstants))
	for i, r := range desc.PushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: toVkStages(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if len(ranges) > 0 {
		info.PushConstantRangeCount = uint32(len(ranges))
		info.PPushConstantRanges = ranges
	}
	var layout vk.PipelineLayout
	if err := check("vkCreatePipelineLayout", vk.CreatePipelineLayout(b.device, &info, nil, &layout)); err != nil {
		return 0, err
	}
	return gpu.PipelineLayout(b.pipelineLayouts.add(layout)), nil
}

func (b *Backend) DestroyPipelineLayout(l gpu.PipelineLayout) {
	if v, ok := b.pipelineLayouts.take(uint64(l)); ok {
		vk.DestroyPipelineLayout(b.device, v, nil)
	}
}

// CreateGraphicsPipeline builds a triangle list pipeline with fill mode, no
// culling, one sample and blending disabled.
func (b *Backend) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	vertex, ok := b.shaders.get(uint64(desc.Vertex))
	if !ok {
		return 0, fmt.Errorf("vertex shader module %d: %w", desc.Vertex, core.ErrNotFound)
	}
	fragment, ok := b.shaders.get(uint64(desc.Fragment))
	if !ok {
		return 0, fmt.Errorf("fragment shader module %d: %w", desc.Fragment, core.ErrNotFound)
	}
	layout, ok := b.pipelineLayouts.get(uint64(desc.Layout))
	if !ok {
		return 0, fmt.Errorf("pipeline layout %d: %w", desc.Layout, core.ErrNotFound)
	}
	renderPass, ok := b.renderPasses.get(uint64(desc.RenderPass))
	if !ok {
		return 0, fmt.Errorf("render pass %d: %w", desc.RenderPass, core.ErrNotFound)
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertex,
			PName:  safeString(desc.VertexEntry),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fragment,
			PName:  safeString(desc.FragmentEntry),
		},
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	// a zero stride means the vertex shader generates its own positions
	if desc.Stride > 0 {
		attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
		for i, a := range desc.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   toVkFormat(a.Format),
				Offset:   a.Offset,
			}
		}
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInput.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInput.PVertexAttributeDescriptions = attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	// viewport and scissor are dynamic, only the counts matter here
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
		LineWidth:               1.0,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
		depthStencil.DepthBoundsTestEnable = vk.False
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, desc.ColorAttachments)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable: vk.False,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	var dynamicStates []vk.DynamicState
	if desc.Dynamic&gpu.DynamicViewport != 0 {
		dynamicStates = append(dynamicStates, vk.DynamicStateViewport)
	}
	if desc.Dynamic&gpu.DynamicScissor != 0 {
		dynamicStates = append(dynamicStates, vk.DynamicStateScissor)
	}
	if desc.Dynamic&gpu.DynamicLineWidth != 0 {
		dynamicStates = append(dynamicStates, vk.DynamicStateLineWidth)
	}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamic,
		Layout:              layout,
		RenderPass:          renderPass.handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(b.device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)
	if err := check("vkCreateGraphicsPipelines", res); err != nil {
		return 0, err
	}
	core.LogDebug("Graphics pipeline created!")
	return gpu.Pipeline(b.pipelines.add(pipelines[0])), nil
}

func (b *Backend) DestroyPipeline(p gpu.Pipeline) {
	if v, ok := b.pipelines.take(uint64(p)); ok {
		vk.DestroyPipeline(b.device, v, nil)
	}
}
