package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

type renderPass struct {
	handle vk.RenderPass
	// colors is the number of colour attachments; a depth attachment, if
	// any, follows them.
	colors int
}

// CreateRenderPass builds a single subpass render pass. Attachments that are
// loaded are expected to still be in their final layout from the previous
// frame; cleared ones start undefined.
func (b *Backend) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, 0, len(desc.Colors)+1)
	colorRefs := make([]vk.AttachmentReference, 0, len(desc.Colors))
	for i, c := range desc.Colors {
		attachments = append(attachments, attachmentDescription(c))
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if desc.Depth != nil {
		attachments = append(attachments, attachmentDescription(*desc.Depth))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(desc.Colors)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	attachmentStages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) |
		vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) |
		vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
	attachmentAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit) |
		vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	// outputs of earlier passes are sampled by later ones
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  attachmentStages | vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			SrcAccessMask: 0,
			DstStageMask:  attachmentStages,
			DstAccessMask: attachmentAccess,
		},
		{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  attachmentStages,
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		},
	}

	var handle vk.RenderPass
	res := vk.CreateRenderPass(b.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}, nil, &handle)
	if err := check("vkCreateRenderPass", res); err != nil {
		return 0, err
	}
	return gpu.RenderPass(b.renderPasses.add(renderPass{handle: handle, colors: len(desc.Colors)})), nil
}

func attachmentDescription(a gpu.AttachmentDesc) vk.AttachmentDescription {
	initial := vk.ImageLayoutUndefined
	if a.Load == gpu.LoadOpLoad {
		initial = toVkLayout(a.FinalLayout)
	}
	return vk.AttachmentDescription{
		Format:         toVkFormat(a.Format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         toVkLoadOp(a.Load),
		StoreOp:        toVkStoreOp(a.Store),
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  initial,
		FinalLayout:    toVkLayout(a.FinalLayout),
	}
}

func (b *Backend) DestroyRenderPass(rp gpu.RenderPass) {
	if v, ok := b.renderPasses.take(uint64(rp)); ok {
		vk.DestroyRenderPass(b.device, v.handle, nil)
	}
}

func (b *Backend) CmdBeginRenderPass(cb gpu.CommandBuffer, begin gpu.RenderPassBegin) {
	cmd, ok := b.commandBuffers.get(uint64(cb))
	if !ok {
		return
	}
	rp, ok := b.renderPasses.get(uint64(begin.RenderPass))
	if !ok {
		core.LogError("begin render pass: %v", fmt.Errorf("render pass %d: %w", begin.RenderPass, core.ErrNotFound))
		return
	}
	fb, ok := b.framebuffers.get(uint64(begin.Framebuffer))
	if !ok {
		core.LogError("begin render pass: %v", fmt.Errorf("framebuffer %d: %w", begin.Framebuffer, core.ErrNotFound))
		return
	}
	clearValues := make([]vk.ClearValue, len(begin.ClearValues))
	for i, cv := range begin.ClearValues {
		if i < rp.colors {
			clearValues[i].SetColor(cv.Color[:])
		} else {
			clearValues[i].SetDepthStencil(cv.Depth, cv.Stencil)
		}
	}
	vk.CmdBeginRenderPass(cmd, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.handle,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: begin.Area.X, Y: begin.Area.Y},
			Extent: vk.Extent2D{Width: begin.Area.Extent.Width, Height: begin.Area.Extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}, vk.SubpassContentsInline)
}

func (b *Backend) CmdEndRenderPass(cb gpu.CommandBuffer) {
	if cmd, ok := b.commandBuffers.get(uint64(cb)); ok {
		vk.CmdEndRenderPass(cmd)
	}
}
