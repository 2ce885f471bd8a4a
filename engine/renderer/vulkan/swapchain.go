package vulkan

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/math"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// Swapchain implements gpu.Surface for the backend's window.
type Swapchain struct {
	b *Backend

	mu     sync.Mutex
	handle vk.Swapchain
	format vk.SurfaceFormat
	extent vk.Extent2D
	images []vk.Image
	// ids of the image views, registered in the backend's view table
	views []gpu.ImageView
}

var _ gpu.Surface = (*Swapchain)(nil)

func newSwapchain(b *Backend, width, height uint32) (*Swapchain, error) {
	s := &Swapchain{b: b}
	if err := s.create(width, height); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) Extent() gpu.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gpu.Extent2D{Width: s.extent.Width, Height: s.extent.Height}
}

func (s *Swapchain) Format() gpu.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromVkFormat(s.format.Format)
}

func (s *Swapchain) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Swapchain) ImageViews() []gpu.ImageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gpu.ImageView(nil), s.views...)
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, bool, error) {
	sem, ok := s.b.semaphores.get(uint64(signal))
	if !ok {
		return 0, false, fmt.Errorf("acquire: semaphore %d: %w", signal, core.ErrNotFound)
	}
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	var index uint32
	res := vk.AcquireNextImage(s.b.device, handle, uint64(timeout.Nanoseconds()), sem, vk.NullFence, &index)
	switch res {
	case vk.Success:
		return index, false, nil
	case vk.Suboptimal:
		return index, true, nil
	case vk.ErrorOutOfDate:
		return 0, false, core.ErrSurfaceOutOfDate
	case vk.Timeout, vk.NotReady:
		return 0, false, gpu.ErrTimeout
	}
	return 0, false, check("vkAcquireNextImageKHR", res)
}

func (s *Swapchain) Present(wait gpu.Semaphore, index uint32) (bool, error) {
	sem, ok := s.b.semaphores.get(uint64(wait))
	if !ok {
		return false, fmt.Errorf("present: semaphore %d: %w", wait, core.ErrNotFound)
	}
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	s.b.queueMu.Lock()
	res := vk.QueuePresent(s.b.present, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{handle},
		PImageIndices:      []uint32{index},
	})
	s.b.queueMu.Unlock()

	switch res {
	case vk.Success:
		return false, nil
	case vk.Suboptimal:
		return true, nil
	case vk.ErrorOutOfDate:
		return false, core.ErrSurfaceOutOfDate
	}
	return false, check("vkQueuePresentKHR", res)
}

// Recreate builds a new swapchain for the given size, handing the old one to
// the driver for reuse. The device must be idle.
func (s *Swapchain) Recreate(width, height uint32) error {
	if width == 0 || height == 0 {
		core.LogDebug("recreate called when window is < 1 in a dimension. Booting.")
		return nil
	}
	return s.create(width, height)
}

// Destroy releases the views and the swapchain. Calling it twice is a no-op.
func (s *Swapchain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseViews()
	if s.handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.b.device, s.handle, nil)
		s.handle = vk.NullSwapchain
	}
	s.images = nil
}

func (s *Swapchain) releaseViews() {
	for _, id := range s.views {
		if v, ok := s.b.views.take(uint64(id)); ok {
			vk.DestroyImageView(s.b.device, v, nil)
		}
	}
	s.views = nil
}

func (s *Swapchain) create(width, height uint32) error {
	support, err := querySwapchainSupport(s.b.physical, s.b.surface)
	if err != nil {
		return err
	}
	caps := support.capabilities

	format := support.formats[0]
	for _, f := range support.formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			format = f
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.presentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.b.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	if s.b.queues.graphics != s.b.queues.present {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{s.b.queues.graphics, s.b.queues.present}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.handle
	info.OldSwapchain = old

	var handle vk.Swapchain
	if err := check("vkCreateSwapchainKHR", vk.CreateSwapchain(s.b.device, &info, nil, &handle)); err != nil {
		return err
	}
	s.releaseViews()
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(s.b.device, old, nil)
	}
	s.handle = handle
	s.format = format
	s.extent = extent

	var count uint32
	if err := check("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(s.b.device, handle, &count, nil)); err != nil {
		return err
	}
	s.images = make([]vk.Image, count)
	if err := check("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(s.b.device, handle, &count, s.images)); err != nil {
		return err
	}

	// The images belong to the swapchain; only the views are ours.
	s.views = make([]gpu.ImageView, 0, count)
	for _, img := range s.images {
		view, err := s.b.createView(img, format.Format, 1, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			return err
		}
		s.views = append(s.views, gpu.ImageView(s.b.views.add(view)))
	}

	core.LogInfo("Swapchain created: %dx%d, %d images, %s.", extent.Width, extent.Height, count, fromVkFormat(format.Format))
	return nil
}
