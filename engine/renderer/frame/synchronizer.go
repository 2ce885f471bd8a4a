// Package frame paces the CPU against the GPU: one synchronization record
// per swapchain image, a bounded fence wait, and swapchain rebuilds.
package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// Record is the set of primitives guarding one frame slot.
type Record struct {
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	// InFlight is created signaled so the first wait returns at once.
	InFlight gpu.Fence
}

// Frame is an acquired swapchain image together with the slot recording it.
type Frame struct {
	Slot        int
	ImageIndex  uint32
	Record      Record
	Framebuffer gpu.Framebuffer
	Extent      gpu.Extent2D
	Generation  uint64
}

type Options struct {
	FenceTimeout time.Duration
	// MaxFramesInFlight caps the record count. Zero uses the image count.
	MaxFramesInFlight int
}

type Synchronizer struct {
	dev     gpu.Device
	surface gpu.Surface
	opts    Options

	renderPass     gpu.RenderPass
	renderPassDesc gpu.RenderPassDesc

	depth          gpu.Image
	depthView      gpu.ImageView
	framebuffers   []gpu.Framebuffer
	records        []Record
	imagesInFlight []gpu.Fence

	current    int
	generation uint64
	stale      bool
}

// NewSynchronizer creates the present render pass and everything sized by
// the swapchain.
func NewSynchronizer(dev gpu.Device, surface gpu.Surface, opts Options) (*Synchronizer, error) {
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = core.DefaultFenceTimeout
	}
	s := &Synchronizer{dev: dev, surface: surface, opts: opts}
	s.renderPassDesc = gpu.RenderPassDesc{
		Colors: []gpu.AttachmentDesc{{
			Format:      surface.Format(),
			Load:        gpu.LoadOpClear,
			Store:       gpu.StoreOpStore,
			FinalLayout: gpu.LayoutPresentSrc,
		}},
		Depth: &gpu.AttachmentDesc{
			Format:      dev.Capabilities().DepthFormat,
			Load:        gpu.LoadOpClear,
			Store:       gpu.StoreOpDontCare,
			FinalLayout: gpu.LayoutDepthAttachment,
		},
	}
	rp, err := dev.CreateRenderPass(s.renderPassDesc)
	if err != nil {
		return nil, err
	}
	s.renderPass = rp
	if err := s.build(); err != nil {
		dev.DestroyRenderPass(rp)
		return nil, err
	}
	return s, nil
}

func (s *Synchronizer) build() error {
	extent := s.surface.Extent()
	views := s.surface.ImageViews()

	img, view, err := s.dev.CreateImage(gpu.ImageDesc{
		Width:  extent.Width,
		Height: extent.Height,
		Layers: 1,
		Format: s.renderPassDesc.Depth.Format,
		Usage:  gpu.ImageUsageDepthAttachment,
	})
	if err != nil {
		return err
	}
	s.depth, s.depthView = img, view

	for _, v := range views {
		fb, err := s.dev.CreateFramebuffer(gpu.FramebufferDesc{
			RenderPass:  s.renderPass,
			Attachments: []gpu.ImageView{v, s.depthView},
			Width:       extent.Width,
			Height:      extent.Height,
			Layers:      1,
		})
		if err != nil {
			s.teardown()
			return err
		}
		s.framebuffers = append(s.framebuffers, fb)
	}

	n := len(views)
	if s.opts.MaxFramesInFlight > 0 && s.opts.MaxFramesInFlight < n {
		n = s.opts.MaxFramesInFlight
	}
	for i := 0; i < n; i++ {
		r, err := s.newRecord()
		if err != nil {
			s.teardown()
			return err
		}
		s.records = append(s.records, r)
	}
	s.imagesInFlight = make([]gpu.Fence, len(views))
	s.current = 0
	return nil
}

func (s *Synchronizer) newRecord() (r Record, err error) {
	defer func() {
		if err != nil {
			s.destroyRecord(r)
		}
	}()
	if r.ImageAvailable, err = s.dev.CreateSemaphore(); err != nil {
		return r, err
	}
	if r.RenderFinished, err = s.dev.CreateSemaphore(); err != nil {
		return r, err
	}
	r.InFlight, err = s.dev.CreateFence(true)
	return r, err
}

func (s *Synchronizer) destroyRecord(r Record) {
	if r.ImageAvailable != 0 {
		s.dev.DestroySemaphore(r.ImageAvailable)
	}
	if r.RenderFinished != 0 {
		s.dev.DestroySemaphore(r.RenderFinished)
	}
	if r.InFlight != 0 {
		s.dev.DestroyFence(r.InFlight)
	}
}

func (s *Synchronizer) teardown() {
	for _, r := range s.records {
		s.destroyRecord(r)
	}
	for _, fb := range s.framebuffers {
		s.dev.DestroyFramebuffer(fb)
	}
	if s.depth != 0 {
		s.dev.DestroyImage(s.depth, s.depthView)
	}
	s.records = nil
	s.framebuffers = nil
	s.imagesInFlight = nil
	s.depth, s.depthView = 0, 0
}

// waitFence waits with the configured timeout. A timeout means the GPU
// stopped making progress and is reported as a lost device.
func (s *Synchronizer) waitFence(f gpu.Fence, what string) error {
	err := s.dev.WaitForFence(f, s.opts.FenceTimeout)
	if errors.Is(err, gpu.ErrTimeout) {
		return fmt.Errorf("%w: %s not signaled after %s", core.ErrDeviceLost, what, s.opts.FenceTimeout)
	}
	return err
}

// Acquire waits for the current slot, acquires the next image and resets the
// slot fence. The fence is only reset once an image is held, so a failed
// acquire leaves it signaled for the next attempt.
func (s *Synchronizer) Acquire(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if len(s.records) == 0 {
		return Frame{}, core.ErrSurfaceOutOfDate
	}
	slot := s.current % len(s.records)
	rec := s.records[slot]
	if err := s.waitFence(rec.InFlight, fmt.Sprintf("frame slot %d", slot)); err != nil {
		return Frame{}, err
	}

	idx, suboptimal, err := s.surface.AcquireNextImage(s.opts.FenceTimeout, rec.ImageAvailable)
	if err != nil {
		if errors.Is(err, gpu.ErrTimeout) {
			return Frame{}, fmt.Errorf("%w: acquiring a swapchain image", core.ErrDeviceLost)
		}
		return Frame{}, err
	}
	if suboptimal {
		// the semaphore is signaled but never waited on; the resize that
		// follows recreates it
		s.stale = true
		return Frame{}, &core.SuboptimalSurfaceError{ImageIndex: idx}
	}
	if int(idx) >= len(s.framebuffers) {
		return Frame{}, fmt.Errorf("%w: image index %d of %d", core.ErrSurfaceOutOfDate, idx, len(s.framebuffers))
	}

	if f := s.imagesInFlight[idx]; f != 0 && f != rec.InFlight {
		if err := s.waitFence(f, fmt.Sprintf("swapchain image %d", idx)); err != nil {
			return Frame{}, err
		}
	}
	s.imagesInFlight[idx] = rec.InFlight

	if err := s.dev.ResetFence(rec.InFlight); err != nil {
		return Frame{}, err
	}
	return Frame{
		Slot:        slot,
		ImageIndex:  idx,
		Record:      rec,
		Framebuffer: s.framebuffers[idx],
		Extent:      s.surface.Extent(),
		Generation:  s.generation,
	}, nil
}

// Submit queues cbs for f. The GPU waits for the image before writing colour
// and signals the slot fence when done.
func (s *Synchronizer) Submit(f Frame, cbs []gpu.CommandBuffer) error {
	return s.dev.Submit(gpu.SubmitInfo{
		CommandBuffers: cbs,
		Wait:           []gpu.Semaphore{f.Record.ImageAvailable},
		WaitStages:     []gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput},
		Signal:         []gpu.Semaphore{f.Record.RenderFinished},
		Fence:          f.Record.InFlight,
	})
}

// Present hands the image back and moves to the next slot.
func (s *Synchronizer) Present(f Frame) error {
	suboptimal, err := s.surface.Present(f.Record.RenderFinished, f.ImageIndex)
	s.current++
	if err != nil {
		if core.IsPresentationFault(err) {
			s.stale = true
		}
		return err
	}
	if suboptimal {
		s.stale = true
		return &core.SuboptimalSurfaceError{ImageIndex: f.ImageIndex}
	}
	return nil
}

// Resize waits for the device, then rebuilds the swapchain and everything
// sized by it. All records are replaced, which also drops any semaphore left
// signaled by an abandoned frame.
func (s *Synchronizer) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("invalid swapchain size %dx%d", width, height)
	}
	if err := s.dev.WaitIdle(); err != nil {
		return err
	}
	s.teardown()
	if err := s.surface.Recreate(width, height); err != nil {
		return err
	}
	if err := s.build(); err != nil {
		return err
	}
	s.generation++
	s.stale = false
	core.LogDebug("swapchain rebuilt at %dx%d with %d images (generation %d)", width, height, len(s.framebuffers), s.generation)
	return nil
}

// MarkStale flags the swapchain for a rebuild before the next frame.
func (s *Synchronizer) MarkStale() {
	s.stale = true
}

func (s *Synchronizer) Stale() bool {
	return s.stale
}

// Generation increases with every successful Resize.
func (s *Synchronizer) Generation() uint64 {
	return s.generation
}

func (s *Synchronizer) RenderPass() gpu.RenderPass {
	return s.renderPass
}

func (s *Synchronizer) RenderPassDesc() gpu.RenderPassDesc {
	return s.renderPassDesc
}

func (s *Synchronizer) Extent() gpu.Extent2D {
	return s.surface.Extent()
}

// Slots is the number of records, and so the number of frames in flight.
func (s *Synchronizer) Slots() int {
	return len(s.records)
}

// Record returns the primitives of slot.
func (s *Synchronizer) Record(slot int) (Record, bool) {
	if slot < 0 || slot >= len(s.records) {
		return Record{}, false
	}
	return s.records[slot], true
}

func (s *Synchronizer) ImageCount() int {
	return len(s.framebuffers)
}

func (s *Synchronizer) Framebuffer(image uint32) (gpu.Framebuffer, error) {
	if int(image) >= len(s.framebuffers) {
		return 0, core.ErrNotFound
	}
	return s.framebuffers[image], nil
}

// Destroy releases everything the synchronizer created. The device must be
// idle.
func (s *Synchronizer) Destroy() {
	s.teardown()
	if s.renderPass != 0 {
		s.dev.DestroyRenderPass(s.renderPass)
		s.renderPass = 0
	}
}
