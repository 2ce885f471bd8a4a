package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-graph/engine/containers"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
)

// Resolution is either the swapchain size or a fixed size.
type Resolution struct {
	full          bool
	Width, Height uint32
}

func Full() Resolution {
	return Resolution{full: true}
}

func Custom(width, height uint32) Resolution {
	return Resolution{Width: width, Height: height}
}

func (r Resolution) IsFull() bool {
	return r.full
}

// Extent resolves r against the current swapchain extent.
func (r Resolution) Extent(screen gpu.Extent2D) gpu.Extent2D {
	if r.full {
		return screen
	}
	return gpu.Extent2D{Width: r.Width, Height: r.Height}
}

type TextureUsage uint8

const (
	// UsageTransient targets are written and read within a frame.
	UsageTransient TextureUsage = iota
	UsageColor
	UsageDepth
)

func (u TextureUsage) imageUsage() gpu.ImageUsage {
	switch u {
	case UsageDepth:
		return gpu.ImageUsageDepthAttachment | gpu.ImageUsageSampled
	case UsageColor:
		return gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc
	}
	return gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled
}

type TextureDesc struct {
	Name       string
	Resolution Resolution
	Layers     uint32
	Format     gpu.Format
	Sampler    gpu.Filter
	Usage      TextureUsage
}

// DefaultTextureDesc is a full-resolution, single-layer sRGB colour target
// sampled linearly.
func DefaultTextureDesc() TextureDesc {
	return TextureDesc{
		Resolution: Full(),
		Layers:     1,
		Format:     gpu.FormatR8G8B8A8Srgb,
		Sampler:    gpu.FilterLinear,
		Usage:      UsageTransient,
	}
}

// Texture is a render target. Image is zero until the first pass writing or
// reading it is compiled.
type Texture struct {
	Desc   TextureDesc
	Image  resources.ImageHandle
	Extent gpu.Extent2D
}

type TextureHandle = containers.Handle[Texture]

type TextureRegistry struct {
	textures *containers.Arena[Texture]
}

func NewTextureRegistry() *TextureRegistry {
	return &TextureRegistry{textures: containers.NewArena[Texture]()}
}

func (r *TextureRegistry) Create(desc TextureDesc) TextureHandle {
	if desc.Name == "" {
		desc.Name = "texture-" + uuid.NewString()
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Format == gpu.FormatUndefined {
		desc.Format = gpu.FormatR8G8B8A8Srgb
	}
	if desc.Resolution == (Resolution{}) {
		desc.Resolution = Full()
	}
	return r.textures.Insert(Texture{Desc: desc})
}

func (r *TextureRegistry) Get(h TextureHandle) (Texture, error) {
	t, ok := r.textures.Get(h)
	if !ok {
		return Texture{}, core.ErrNotFound
	}
	return t, nil
}

func (r *TextureRegistry) Len() int {
	return r.textures.Len()
}

// Realize creates the image of h if it does not exist yet.
func (r *TextureRegistry) Realize(dev gpu.Device, low *resources.LowLevel, h TextureHandle, screen gpu.Extent2D) (resources.Image, error) {
	t, ok := r.textures.Ptr(h)
	if !ok {
		return resources.Image{}, core.ErrNotFound
	}
	if img, err := low.Image(t.Image); err == nil {
		return img, nil
	}
	return r.create(dev, low, t, screen)
}

func (r *TextureRegistry) create(dev gpu.Device, low *resources.LowLevel, t *Texture, screen gpu.Extent2D) (resources.Image, error) {
	extent := t.Desc.Resolution.Extent(screen)
	if extent.IsZero() {
		return resources.Image{}, fmt.Errorf("texture %s has zero extent", t.Desc.Name)
	}
	desc := gpu.ImageDesc{
		Width:  extent.Width,
		Height: extent.Height,
		Layers: t.Desc.Layers,
		Format: t.Desc.Format,
		Usage:  t.Desc.Usage.imageUsage(),
	}
	raw, view, err := dev.CreateImage(desc)
	if err != nil {
		return resources.Image{}, err
	}
	img := resources.Image{Raw: raw, View: view, Desc: desc, Extent: extent}
	t.Image = low.Images.Insert(img)
	t.Extent = extent
	return img, nil
}

// Rebuild recreates every realized full-resolution target at the new
// extent and returns the handles that changed. The device must be idle.
func (r *TextureRegistry) Rebuild(dev gpu.Device, low *resources.LowLevel, screen gpu.Extent2D) ([]TextureHandle, error) {
	var candidates []TextureHandle
	r.textures.Each(func(h TextureHandle, t Texture) {
		if t.Desc.Resolution.IsFull() && !t.Image.IsZero() && t.Extent != screen {
			candidates = append(candidates, h)
		}
	})
	for _, h := range candidates {
		t, _ := r.textures.Ptr(h)
		low.DestroyImage(dev, t.Image)
		t.Image = resources.ImageHandle{}
		if _, err := r.create(dev, low, t, screen); err != nil {
			return candidates, fmt.Errorf("rebuilding texture %s: %w", t.Desc.Name, err)
		}
	}
	return candidates, nil
}
