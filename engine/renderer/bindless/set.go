package bindless

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-graph/engine/containers"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

const (
	// MaxSlots bounds the number of frame slots, and so the pool size.
	MaxSlots = 8

	DefaultQueueCapacity = 256
)

var ErrInvalidSlot = errors.New("invalid frame slot")

// Write is a descriptor update addressed by binding number. The descriptor
// type comes from the layout.
type Write struct {
	Binding      uint32
	ArrayElement uint32
	Buffer       gpu.Buffer
	Offset       uint64
	Range        uint64
	ImageView    gpu.ImageView
	Sampler      gpu.Sampler
}

type writeKey struct {
	binding, element uint32
}

// Set holds one descriptor set per frame slot. Writes are queued per slot
// and applied by Prepare once the slot's previous frame has completed, so a
// set is never updated while the GPU may read it.
type Set struct {
	dev    gpu.Device
	layout *Layout
	cap    int

	raw     gpu.DescriptorSetLayout
	pool    gpu.DescriptorPool
	sets    []gpu.DescriptorSet
	pending []*containers.RingQueue[Write]
	// shared holds the latest write of every Update so new slots can be
	// brought up to date.
	shared map[writeKey]Write
}

func NewSet(dev gpu.Device, layout *Layout, slots, queueCapacity int) (*Set, error) {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	s := &Set{
		dev:    dev,
		layout: layout,
		cap:    queueCapacity,
		shared: make(map[writeKey]Write),
	}
	scope := core.NewScope("bindless")
	raw, err := dev.CreateDescriptorSetLayout(layout.Bindings())
	if err != nil {
		return nil, err
	}
	scope.DeferFunc("layout", func() { dev.DestroyDescriptorSetLayout(raw) })
	pool, err := dev.CreateDescriptorPool(layout.Bindings(), MaxSlots)
	if err != nil {
		_ = scope.Close()
		return nil, err
	}
	scope.DeferFunc("pool", func() { dev.DestroyDescriptorPool(pool) })
	s.raw, s.pool = raw, pool
	if err := s.Grow(slots); err != nil {
		_ = scope.Close()
		return nil, err
	}
	return s, nil
}

func (s *Set) Layout() *Layout {
	return s.layout
}

// RawLayout is the set 0 layout handed to the pipeline compiler.
func (s *Set) RawLayout() gpu.DescriptorSetLayout {
	return s.raw
}

func (s *Set) Slots() int {
	return len(s.sets)
}

// Grow allocates sets until there are n slots. New slots replay every
// shared write made so far.
func (s *Set) Grow(n int) error {
	if n > MaxSlots {
		return fmt.Errorf("%w: %d slots exceed the maximum of %d", ErrInvalidSlot, n, MaxSlots)
	}
	for len(s.sets) < n {
		set, err := s.dev.AllocateDescriptorSet(s.pool, s.raw)
		if err != nil {
			return err
		}
		q := containers.NewRingQueue[Write](s.cap)
		for _, w := range s.shared {
			if err := q.Enqueue(w); err != nil {
				return fmt.Errorf("replaying bindless writes: %w", err)
			}
		}
		s.sets = append(s.sets, set)
		s.pending = append(s.pending, q)
	}
	return nil
}

// Descriptor returns the set bound at index 0 for slot.
func (s *Set) Descriptor(slot int) (gpu.DescriptorSet, error) {
	if slot < 0 || slot >= len(s.sets) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return s.sets[slot], nil
}

func (s *Set) check(w Write) error {
	b, ok := s.layout.binding(w.Binding)
	if !ok {
		return fmt.Errorf("bindless binding %d: %w", w.Binding, core.ErrNotFound)
	}
	if w.ArrayElement >= b.Count {
		return fmt.Errorf("bindless binding %d: element %d out of range (count %d)", w.Binding, w.ArrayElement, b.Count)
	}
	return nil
}

// Update queues w for every slot.
func (s *Set) Update(w Write) error {
	if err := s.check(w); err != nil {
		return err
	}
	for i, q := range s.pending {
		if q.IsFull() {
			return fmt.Errorf("bindless slot %d: %w", i, containers.ErrQueueFull)
		}
	}
	for _, q := range s.pending {
		_ = q.Enqueue(w)
	}
	s.shared[writeKey{w.Binding, w.ArrayElement}] = w
	return nil
}

// UpdateSlot queues w for a single slot, for resources that exist once per
// frame slot.
func (s *Set) UpdateSlot(slot int, w Write) error {
	if slot < 0 || slot >= len(s.pending) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	if err := s.check(w); err != nil {
		return err
	}
	return s.pending[slot].Enqueue(w)
}

// Prepare applies the writes queued for slot. The caller must have waited on
// the slot's fence. It returns the number of writes applied.
func (s *Set) Prepare(slot int) (int, error) {
	if slot < 0 || slot >= len(s.pending) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	q := s.pending[slot]
	if q.IsEmpty() {
		return 0, nil
	}
	writes := make([]gpu.DescriptorWrite, 0, q.Len())
	for !q.IsEmpty() {
		w, _ := q.Dequeue()
		b, _ := s.layout.binding(w.Binding)
		writes = append(writes, gpu.DescriptorWrite{
			Set:          s.sets[slot],
			Binding:      w.Binding,
			ArrayElement: w.ArrayElement,
			Type:         b.Type,
			Buffer:       w.Buffer,
			Offset:       w.Offset,
			Range:        w.Range,
			ImageView:    w.ImageView,
			Sampler:      w.Sampler,
		})
	}
	s.dev.UpdateDescriptorSets(writes)
	return len(writes), nil
}

// Pending returns the number of writes waiting for slot.
func (s *Set) Pending(slot int) int {
	if slot < 0 || slot >= len(s.pending) {
		return 0
	}
	return s.pending[slot].Len()
}

// Destroy releases the pool, which frees its sets, and the layout.
func (s *Set) Destroy() {
	s.dev.DestroyDescriptorPool(s.pool)
	s.dev.DestroyDescriptorSetLayout(s.raw)
	s.sets = nil
	s.pending = nil
}

// BindTexture points element of the textures binding at view. The write is
// shared by every slot.
func (s *Set) BindTexture(element uint32, view gpu.ImageView, sampler gpu.Sampler) error {
	b, ok := s.layout.Lookup(Textures)
	if !ok {
		return fmt.Errorf("bindless %q binding: %w", Textures, core.ErrNotFound)
	}
	return s.Update(Write{Binding: b.Binding, ArrayElement: element, ImageView: view, Sampler: sampler})
}
