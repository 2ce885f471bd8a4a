package gputest

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// AcquireResult overrides the outcome of one AcquireNextImage call.
type AcquireResult struct {
	Suboptimal bool
	Err        error
}

// Surface is a fake swapchain that hands out images round-robin.
type Surface struct {
	mu sync.Mutex

	extent     gpu.Extent2D
	format     gpu.Format
	imageCount int
	views      []gpu.ImageView
	nextView   uint64
	next       uint32

	acquireResults []AcquireResult
	presentResults []AcquireResult

	Acquired    int
	Presented   []uint32
	Recreations int
	destroyed   bool
}

func NewSurface(width, height uint32, imageCount int) *Surface {
	s := &Surface{
		extent:     gpu.Extent2D{Width: width, Height: height},
		format:     gpu.FormatB8G8R8A8Srgb,
		imageCount: imageCount,
		nextView:   1 << 32,
	}
	s.makeViews()
	return s
}

func (s *Surface) makeViews() {
	s.views = make([]gpu.ImageView, s.imageCount)
	for i := range s.views {
		s.nextView++
		s.views[i] = gpu.ImageView(s.nextView)
	}
}

// QueueAcquire makes the following AcquireNextImage calls return rs in order.
func (s *Surface) QueueAcquire(rs ...AcquireResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireResults = append(s.acquireResults, rs...)
}

// QueuePresent makes the following Present calls return rs in order.
func (s *Surface) QueuePresent(rs ...AcquireResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentResults = append(s.presentResults, rs...)
}

// SetImageCount changes the image count used by the next Recreate.
func (s *Surface) SetImageCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageCount = n
}

func (s *Surface) Extent() gpu.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Surface) Format() gpu.Format {
	return s.format
}

func (s *Surface) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

func (s *Surface) ImageViews() []gpu.ImageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gpu.ImageView(nil), s.views...)
}

func (s *Surface) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0, false, core.ErrSurfaceOutOfDate
	}
	var r AcquireResult
	if len(s.acquireResults) > 0 {
		r = s.acquireResults[0]
		s.acquireResults = s.acquireResults[1:]
	}
	if r.Err != nil {
		return 0, false, r.Err
	}
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.views))
	s.Acquired++
	return idx, r.Suboptimal, nil
}

func (s *Surface) Present(wait gpu.Semaphore, index uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r AcquireResult
	if len(s.presentResults) > 0 {
		r = s.presentResults[0]
		s.presentResults = s.presentResults[1:]
	}
	if r.Err != nil {
		return false, r.Err
	}
	s.Presented = append(s.Presented, index)
	return r.Suboptimal, nil
}

func (s *Surface) Recreate(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = gpu.Extent2D{Width: width, Height: height}
	s.makeViews()
	s.next = 0
	s.Recreations++
	return nil
}

func (s *Surface) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

var _ gpu.Surface = (*Surface)(nil)
