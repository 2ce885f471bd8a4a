package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

func TestFormatsRoundTrip(t *testing.T) {
	for f := range formats {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)), f.String())
	}
	assert.Equal(t, gpu.FormatUndefined, fromVkFormat(vk.FormatR16g16Sfloat))
	assert.Equal(t, vk.FormatUndefined, toVkFormat(gpu.Format(999)))
}

func TestStages(t *testing.T) {
	assert.Equal(t,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		toVkStages(gpu.StageAllGraphics))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), toVkStages(gpu.StageCompute))
	assert.Zero(t, toVkStages(0))
}

func TestImageUsage(t *testing.T) {
	got := toVkImageUsage(gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled)
	assert.Equal(t,
		vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		got)
}

func TestDescriptorKinds(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, toVkDescriptorType(gpu.DescriptorCombinedImageSampler))
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, toVkDescriptorType(gpu.DescriptorStorageBuffer))
	assert.True(t, isImageDescriptor(gpu.DescriptorCombinedImageSampler))
	assert.False(t, isImageDescriptor(gpu.DescriptorUniformBuffer))
}

func TestAttachmentOps(t *testing.T) {
	assert.Equal(t, vk.AttachmentLoadOpClear, toVkLoadOp(gpu.LoadOpClear))
	assert.Equal(t, vk.AttachmentLoadOpLoad, toVkLoadOp(gpu.LoadOpLoad))
	assert.Equal(t, vk.AttachmentStoreOpDontCare, toVkStoreOp(gpu.StoreOpDontCare))
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, toVkLayout(gpu.LayoutShaderReadOnly))
	assert.Equal(t, vk.ImageLayoutPresentSrc, toVkLayout(gpu.LayoutPresentSrc))
}

func TestZeroRangeIsWholeBuffer(t *testing.T) {
	assert.Equal(t, vk.DeviceSize(vk.WholeSize), toVkRange(0))
	assert.Equal(t, vk.DeviceSize(144), toVkRange(144))
}
