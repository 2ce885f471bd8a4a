package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

var formats = map[gpu.Format]vk.Format{
	gpu.FormatUndefined:          vk.FormatUndefined,
	gpu.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	gpu.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	gpu.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	gpu.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	gpu.FormatD32Sfloat:          vk.FormatD32Sfloat,
	gpu.FormatD32SfloatS8Uint:    vk.FormatD32SfloatS8Uint,
	gpu.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
	gpu.FormatR32Sfloat:          vk.FormatR32Sfloat,
	gpu.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	gpu.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
	gpu.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	gpu.FormatR32Sint:            vk.FormatR32Sint,
	gpu.FormatR32G32Sint:         vk.FormatR32g32Sint,
	gpu.FormatR32G32B32Sint:      vk.FormatR32g32b32Sint,
	gpu.FormatR32G32B32A32Sint:   vk.FormatR32g32b32a32Sint,
	gpu.FormatR32Uint:            vk.FormatR32Uint,
	gpu.FormatR32G32Uint:         vk.FormatR32g32Uint,
	gpu.FormatR32G32B32Uint:      vk.FormatR32g32b32Uint,
	gpu.FormatR32G32B32A32Uint:   vk.FormatR32g32b32a32Uint,
}

func toVkFormat(f gpu.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// fromVkFormat returns gpu.FormatUndefined for formats the graph never names.
func fromVkFormat(f vk.Format) gpu.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return gpu.FormatUndefined
}

func toVkStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	if s&gpu.StageVertex != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if s&gpu.StageFragment != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if s&gpu.StageCompute != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return flags
}

func toVkDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case gpu.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case gpu.DescriptorSampledImage:
		return vk.DescriptorTypeSampledImage
	case gpu.DescriptorSampler:
		return vk.DescriptorTypeSampler
	case gpu.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

func isImageDescriptor(t gpu.DescriptorType) bool {
	switch t {
	case gpu.DescriptorCombinedImageSampler, gpu.DescriptorSampledImage, gpu.DescriptorSampler, gpu.DescriptorStorageImage:
		return true
	}
	return false
}

func toVkLoadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case gpu.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	default:
		return vk.AttachmentLoadOpClear
	}
}

func toVkStoreOp(op gpu.StoreOp) vk.AttachmentStoreOp {
	if op == gpu.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func toVkLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

func toVkImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlags
	if u&gpu.ImageUsageColorAttachment != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}
	if u&gpu.ImageUsageDepthAttachment != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}
	if u&gpu.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if u&gpu.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	}
	if u&gpu.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	}
	return flags
}

func toVkBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlags
	if u&gpu.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if u&gpu.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if u&gpu.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if u&gpu.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	return flags
}

func toVkPipelineStages(s gpu.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlags
	if s&gpu.PipelineStageTopOfPipe != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if s&gpu.PipelineStageColorAttachmentOutput != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	if s&gpu.PipelineStageFragmentShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}
	if s&gpu.PipelineStageComputeShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	}
	return flags
}

func toVkCommandBufferUsage(u gpu.CommandBufferUsage) vk.CommandBufferUsageFlags {
	var flags vk.CommandBufferUsageFlags
	if u&gpu.CommandBufferOneTimeSubmit != 0 {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if u&gpu.CommandBufferRenderPassContinue != 0 {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if u&gpu.CommandBufferSimultaneousUse != 0 {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	return flags
}

func toVkIndexType(t gpu.IndexType) vk.IndexType {
	if t == gpu.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func toVkFilter(f gpu.Filter) vk.Filter {
	if f == gpu.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

// toVkRange maps a zero range to the whole buffer.
func toVkRange(r uint64) vk.DeviceSize {
	if r == 0 {
		return vk.DeviceSize(vk.WholeSize)
	}
	return vk.DeviceSize(r)
}
