package resources

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-graph/engine/containers"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

type (
	MeshHandle       = containers.Handle[Mesh]
	MaterialHandle   = containers.Handle[Material]
	TransformHandle  = containers.Handle[Transform]
	RenderableHandle = containers.Handle[Renderable]
)

type transformBuffer struct {
	buffer   gpu.Buffer
	capacity int
	uploaded uint64
}

// Assets holds the CPU-visible asset tables. Draw callbacks read them while
// the owner mutates them, so every access goes through the lock.
type Assets struct {
	mu          sync.RWMutex
	meshes      *containers.Arena[Mesh]
	materials   *containers.Arena[Material]
	transforms  *containers.Arena[Transform]
	renderables *containers.Arena[Renderable]

	// transformGen is bumped on every transform change; each frame slot
	// uploads when its copy is older.
	transformGen     uint64
	transformBuffers []transformBuffer
}

func NewAssets() *Assets {
	return &Assets{
		meshes:       containers.NewArena[Mesh](),
		materials:    containers.NewArena[Material](),
		transforms:   containers.NewArena[Transform](),
		renderables:  containers.NewArena[Renderable](),
		transformGen: 1,
	}
}

func (a *Assets) CreateMesh(m Mesh) MeshHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meshes.Insert(m)
}

func (a *Assets) Mesh(h MeshHandle) (Mesh, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.meshes.Get(h)
	if !ok {
		return Mesh{}, fmt.Errorf("mesh %v: %w", h, core.ErrNotFound)
	}
	return m, nil
}

func (a *Assets) CreateMaterial(m Material) MaterialHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.materials.Insert(m.clone())
}

// Material returns a copy of the material behind h.
func (a *Assets) Material(h MaterialHandle) (Material, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.materials.Get(h)
	if !ok {
		return Material{}, fmt.Errorf("material %v: %w", h, core.ErrNotFound)
	}
	return m.clone(), nil
}

// UpdateMaterial runs fn on the stored material under the write lock.
func (a *Assets) UpdateMaterial(h MaterialHandle, fn func(*Material) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.materials.Ptr(h)
	if !ok {
		return fmt.Errorf("material %v: %w", h, core.ErrNotFound)
	}
	return fn(m)
}

func (a *Assets) CreateTransform(t Transform) TransformHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transformGen++
	return a.transforms.Insert(t)
}

func (a *Assets) Transform(h TransformHandle) (Transform, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.transforms.Get(h)
	if !ok {
		return Transform{}, fmt.Errorf("transform %v: %w", h, core.ErrNotFound)
	}
	return t, nil
}

func (a *Assets) SetTransform(h TransformHandle, t Transform) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.transforms.Ptr(h)
	if !ok {
		return fmt.Errorf("transform %v: %w", h, core.ErrNotFound)
	}
	*p = t
	a.transformGen++
	return nil
}

// CreateRenderable checks that every referenced asset exists.
func (a *Assets) CreateRenderable(r Renderable) (RenderableHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.meshes.Contains(r.Mesh) {
		return RenderableHandle{}, fmt.Errorf("renderable mesh %v: %w", r.Mesh, core.ErrNotFound)
	}
	if !a.materials.Contains(r.Material) {
		return RenderableHandle{}, fmt.Errorf("renderable material %v: %w", r.Material, core.ErrNotFound)
	}
	if !a.transforms.Contains(r.Transform) {
		return RenderableHandle{}, fmt.Errorf("renderable transform %v: %w", r.Transform, core.ErrNotFound)
	}
	return a.renderables.Insert(r), nil
}

func (a *Assets) RemoveRenderable(h RenderableHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.renderables.Remove(h); !ok {
		return fmt.Errorf("renderable %v: %w", h, core.ErrNotFound)
	}
	return nil
}

// Renderables returns a snapshot of every renderable in slot order.
func (a *Assets) Renderables() []Renderable {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Renderable, 0, a.renderables.Len())
	a.renderables.Each(func(_ RenderableHandle, r Renderable) {
		out = append(out, r)
	})
	return out
}

func (a *Assets) packTransforms() ([]byte, int) {
	count := 0
	a.transforms.Each(func(h TransformHandle, _ Transform) {
		if n := int(h.Index()) + 1; n > count {
			count = n
		}
	})
	packed := make([]Transform, count)
	a.transforms.Each(func(h TransformHandle, t Transform) {
		packed[h.Index()] = t
	})
	data := make([]byte, 0, count*TransformSize)
	for _, t := range packed {
		data = t.AppendBytes(data)
	}
	return data, count
}

// SyncTransforms uploads the transform table into the buffer of frame slot
// slot if it is out of date, indexed by TransformHandle.Index. The caller
// must know no in-flight frame reads that slot. recreated reports that the
// buffer object changed and descriptors pointing at it must be rewritten.
func (a *Assets) SyncTransforms(dev gpu.Device, slot, slots int) (buf gpu.Buffer, recreated bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.transformBuffers) < slots {
		a.transformBuffers = append(a.transformBuffers, transformBuffer{})
	}
	tb := &a.transformBuffers[slot]
	if tb.uploaded == a.transformGen && tb.buffer != 0 {
		return tb.buffer, false, nil
	}
	data, count := a.packTransforms()
	if count == 0 {
		// keep a valid binding even without transforms
		data = IdentityTransform().AppendBytes(nil)
		count = 1
	}
	if tb.buffer == 0 || count > tb.capacity {
		capacity := max(count, 2*tb.capacity, 16)
		nb, err := dev.CreateBuffer(gpu.BufferDesc{Size: uint64(capacity * TransformSize), Usage: gpu.BufferUsageStorage})
		if err != nil {
			return 0, false, err
		}
		if tb.buffer != 0 {
			dev.DestroyBuffer(tb.buffer)
		}
		tb.buffer = nb
		tb.capacity = capacity
		recreated = true
	}
	if err := dev.WriteBuffer(tb.buffer, 0, data); err != nil {
		return 0, false, err
	}
	tb.uploaded = a.transformGen
	return tb.buffer, recreated, nil
}

// Destroy releases the buffers owned by meshes and the transform tables.
// The device must be idle.
func (a *Assets) Destroy(dev gpu.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renderables.Drain(nil)
	a.meshes.Drain(func(_ MeshHandle, m Mesh) {
		if m.IndexBuffer != 0 {
			dev.DestroyBuffer(m.IndexBuffer)
		}
		if m.VertexBuffer != 0 {
			dev.DestroyBuffer(m.VertexBuffer)
		}
	})
	a.materials.Drain(nil)
	a.transforms.Drain(nil)
	for _, tb := range a.transformBuffers {
		if tb.buffer != 0 {
			dev.DestroyBuffer(tb.buffer)
		}
	}
	a.transformBuffers = nil
}
