package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

func (b *Backend) CreateFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	rp, ok := b.renderPasses.get(uint64(desc.RenderPass))
	if !ok {
		return 0, fmt.Errorf("render pass %d: %w", desc.RenderPass, core.ErrNotFound)
	}
	attachments := make([]vk.ImageView, len(desc.Attachments))
	for i, id := range desc.Attachments {
		v, err := b.view(id)
		if err != nil {
			return 0, err
		}
		attachments[i] = v
	}
	layers := desc.Layers
	if layers == 0 {
		layers = 1
	}
	var fb vk.Framebuffer
	res := vk.CreateFramebuffer(b.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          layers,
	}, nil, &fb)
	if err := check("vkCreateFramebuffer", res); err != nil {
		return 0, err
	}
	return gpu.Framebuffer(b.framebuffers.add(fb)), nil
}

func (b *Backend) DestroyFramebuffer(fb gpu.Framebuffer) {
	if v, ok := b.framebuffers.take(uint64(fb)); ok {
		vk.DestroyFramebuffer(b.device, v, nil)
	}
}
