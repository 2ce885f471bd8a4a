package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

type image struct {
	handle vk.Image
	memory vk.DeviceMemory
}

func (img *image) destroy(device vk.Device) {
	if img.handle != nil {
		vk.DestroyImage(device, img.handle, nil)
		img.handle = nil
	}
	if img.memory != nil {
		vk.FreeMemory(device, img.memory, nil)
		img.memory = nil
	}
}

// CreateImage creates a device local 2D image, or a 2D array when Layers is
// above one, together with a view covering every layer.
func (b *Backend) CreateImage(desc gpu.ImageDesc) (gpu.Image, gpu.ImageView, error) {
	layers := desc.Layers
	if layers == 0 {
		layers = 1
	}
	format := toVkFormat(desc.Format)
	img := &image{}
	res := vk.CreateImage(b.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toVkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img.handle)
	if err := check("vkCreateImage", res); err != nil {
		return 0, 0, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.device, img.handle, &reqs)
	memory, err := b.allocate("vkAllocateMemory(image)", reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.destroy(b.device)
		return 0, 0, err
	}
	img.memory = memory
	if err := check("vkBindImageMemory", vk.BindImageMemory(b.device, img.handle, img.memory, 0)); err != nil {
		img.destroy(b.device)
		return 0, 0, err
	}

	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if desc.Format.IsDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	view, err := b.createView(img.handle, format, layers, aspect)
	if err != nil {
		img.destroy(b.device)
		return 0, 0, err
	}
	return gpu.Image(b.images.add(img)), gpu.ImageView(b.views.add(view)), nil
}

func (b *Backend) createView(img vk.Image, format vk.Format, layers uint32, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	if layers > 1 {
		viewType = vk.ImageViewType2dArray
	}
	var view vk.ImageView
	res := vk.CreateImageView(b.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}, nil, &view)
	if err := check("vkCreateImageView", res); err != nil {
		return nil, err
	}
	return view, nil
}

func (b *Backend) DestroyImage(img gpu.Image, view gpu.ImageView) {
	if v, ok := b.views.take(uint64(view)); ok {
		vk.DestroyImageView(b.device, v, nil)
	}
	if i, ok := b.images.take(uint64(img)); ok {
		i.destroy(b.device)
	}
}

func (b *Backend) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	filter := toVkFilter(desc.Filter)
	mipmap := vk.SamplerMipmapModeLinear
	if desc.Filter == gpu.FilterNearest {
		mipmap = vk.SamplerMipmapModeNearest
	}
	var sampler vk.Sampler
	res := vk.CreateSampler(b.device, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		MipmapMode:              mipmap,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}, nil, &sampler)
	if err := check("vkCreateSampler", res); err != nil {
		return 0, err
	}
	return gpu.Sampler(b.samplers.add(sampler)), nil
}

func (b *Backend) DestroySampler(s gpu.Sampler) {
	if v, ok := b.samplers.take(uint64(s)); ok {
		vk.DestroySampler(b.device, v, nil)
	}
}

// view resolves a view id for framebuffers and descriptor writes.
func (b *Backend) view(id gpu.ImageView) (vk.ImageView, error) {
	v, ok := b.views.get(uint64(id))
	if !ok {
		return nil, fmt.Errorf("image view %d: %w", id, core.ErrNotFound)
	}
	return v, nil
}
