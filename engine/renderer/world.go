// Package renderer puts the render graph, the frame synchronizer and the
// bindless tables behind one facade.
package renderer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/bindless"
	"github.com/spaghettifunk/anima-graph/engine/renderer/frame"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-graph/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

// WorldRenderer owns every layer of the renderer. It is driven by a single
// goroutine.
type WorldRenderer struct {
	dev     gpu.Device
	surface gpu.Surface
	cfg     core.Config
	scope   *core.Scope

	sync     *frame.Synchronizer
	layout   *bindless.Layout
	set      *bindless.Set
	loader   shader.Loader
	low      *resources.LowLevel
	compiler *pipeline.Compiler
	textures *graph.TextureRegistry
	graph    *graph.Graph
	exec     *graph.Executor
	assets   *resources.Assets

	camera      *Camera
	cameraBufs  *slotBuffers
	cameraStamp uint64
	seenCamera  uint64
	seenExtent  gpu.Extent2D

	frameBufs  *slotBuffers
	values     FrameValues
	frameIndex uint32
	clock      *core.Clock

	size    gpu.Extent2D
	resizes int
}

// New builds the renderer on dev and surface. A nil loader reads shaders
// from cfg.ShaderRoot.
func New(dev gpu.Device, surface gpu.Surface, cfg core.Config, loader shader.Loader) (_ *WorldRenderer, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		loader = shader.NewFileLoader(cfg.ShaderRoot)
	}
	w := &WorldRenderer{
		dev:     dev,
		surface: surface,
		cfg:     cfg,
		scope:   core.NewScope("world renderer"),
		loader:  loader,
		camera:  NewCamera(),
		clock:   core.NewClock(),
		size:    surface.Extent(),
	}
	defer func() {
		if err != nil {
			if cerr := w.scope.Close(); cerr != nil {
				core.LogError("releasing a partially built renderer: %v", cerr)
			}
		}
	}()

	caps := dev.Capabilities()
	core.LogInfo("GPU: %s (%s)", caps.DeviceName, core.VendorFromID(caps.VendorID))

	// release steps run in reverse: resources, camera, frame values, graph,
	// bindless, synchronizer
	w.sync, err = frame.NewSynchronizer(dev, surface, frame.Options{
		FenceTimeout:      cfg.FenceTimeout.Duration,
		MaxFramesInFlight: int(cfg.MaxFramesInFlight),
	})
	if err != nil {
		return nil, err
	}
	w.scope.DeferFunc("synchronizer", w.sync.Destroy)

	if w.layout, err = bindless.NewLayout(cfg.Bindless); err != nil {
		return nil, err
	}
	if w.set, err = bindless.NewSet(dev, w.layout, w.sync.Slots(), 0); err != nil {
		return nil, err
	}
	w.scope.DeferFunc("bindless", w.set.Destroy)

	w.low = resources.NewLowLevel()
	w.compiler = pipeline.NewCompiler(dev, loader, w.low, pipeline.Options{
		Bindless:         w.set.RawLayout(),
		BindlessBindings: w.layout.Bindings(),
		PushConstantSize: cfg.PushConstantSize,
	})
	w.textures = graph.NewTextureRegistry()
	w.graph = graph.New()
	w.assets = resources.NewAssets()
	w.exec = graph.NewExecutor(graph.ExecutorConfig{
		Device:   dev,
		Sync:     w.sync,
		Graph:    w.graph,
		Compiler: w.compiler,
		Low:      w.low,
		Textures: w.textures,
		Assets:   w.assets,
		Bindless: w.set,
		Binder:   w.set,
		Preparer: w,
	})
	w.scope.DeferFunc("graph", func() {
		w.exec.Destroy()
		w.low.Destroy(dev)
	})

	w.frameBufs = w.uniforms(bindless.Frame, frameValuesSize)
	w.scope.DeferFunc("frame values", w.frameBufs.destroy)
	w.cameraBufs = w.uniforms(bindless.Camera, cameraDataSize)
	w.scope.DeferFunc("camera", w.cameraBufs.destroy)
	w.scope.DeferFunc("resources", func() { w.assets.Destroy(dev) })

	w.clock.Start()
	core.LogInfo("renderer ready: %d frame slots, %dx%d", w.sync.Slots(), w.size.Width, w.size.Height)
	return w, nil
}

// uniforms returns the per-slot buffers behind binding name, or nil when the
// layout does not declare it.
func (w *WorldRenderer) uniforms(name string, size uint64) *slotBuffers {
	b, ok := w.layout.Lookup(name)
	if !ok {
		core.LogWarn("bindless layout has no %q binding, its uniform is not uploaded", name)
		return nil
	}
	return newSlotBuffers(w.dev, w.set, b.Binding, size)
}

// Prepare uploads the camera, the frame values and the transform table for
// slot and applies its pending descriptor writes. The executor calls it once
// the slot's previous frame has completed.
func (w *WorldRenderer) Prepare(slot int) error {
	ext := w.sync.Extent()
	if w.cameraBufs != nil {
		if w.camera.version != w.seenCamera || ext != w.seenExtent {
			w.seenCamera, w.seenExtent = w.camera.version, ext
			w.cameraStamp++
		}
		err := w.cameraBufs.write(slot, w.cameraStamp, func() []byte {
			return w.camera.Data(ext.Width, ext.Height).bytes()
		})
		if err != nil {
			return fmt.Errorf("camera uniform: %w", err)
		}
	}
	if w.frameBufs != nil {
		values := w.values
		if err := w.frameBufs.write(slot, uint64(values.FrameIndex)+1, values.bytes); err != nil {
			return fmt.Errorf("frame values: %w", err)
		}
	}
	if b, ok := w.layout.Lookup(bindless.Transforms); ok {
		buf, recreated, err := w.assets.SyncTransforms(w.dev, slot, w.sync.Slots())
		if err != nil {
			return fmt.Errorf("transforms: %w", err)
		}
		if recreated {
			if err := w.set.UpdateSlot(slot, bindless.Write{Binding: b.Binding, Buffer: buf}); err != nil {
				return err
			}
		}
	}
	_, err := w.set.Prepare(slot)
	return err
}

// DrawFrame renders one frame. When the surface turns out suboptimal or out
// of date the swapchain is rebuilt once and the fault is returned, so the
// caller sees the dropped frame. core.ErrDeviceLost is fatal.
func (w *WorldRenderer) DrawFrame(ctx context.Context) error {
	if w.sync.Stale() {
		if err := w.rebuild(); err != nil {
			return err
		}
	}

	w.clock.Update()
	now := float32(w.clock.Elapsed())
	ext := w.sync.Extent()
	w.values = FrameValues{
		Resolution: [2]float32{float32(ext.Width), float32(ext.Height)},
		FrameIndex: w.frameIndex,
		DeltaTime:  now - w.values.Time,
		Time:       now,
	}

	res, err := w.exec.ExecuteFrame(ctx)
	if err == nil {
		if !res.Skipped {
			w.frameIndex++
		}
		return nil
	}
	if core.IsPresentationFault(err) {
		core.LogWarn("frame %d dropped: %v", w.frameIndex, err)
		if rerr := w.rebuild(); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

// RequestResize records a new window size. The swapchain is rebuilt at the
// start of the next frame.
func (w *WorldRenderer) RequestResize(width, height uint32) {
	w.size = gpu.Extent2D{Width: width, Height: height}
	w.sync.MarkStale()
}

func (w *WorldRenderer) rebuild() error {
	return w.Resize(w.size.Width, w.size.Height)
}

// Resize rebuilds the swapchain at width by height, grows the bindless sets
// when the image count grew and rebuilds the full-resolution targets. A zero
// size, as reported for minimized windows, is ignored.
func (w *WorldRenderer) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		core.LogDebug("ignoring resize to %dx%d", width, height)
		return nil
	}
	w.size = gpu.Extent2D{Width: width, Height: height}
	if err := w.sync.Resize(width, height); err != nil {
		return err
	}
	if n := w.sync.Slots(); n > w.set.Slots() {
		if err := w.set.Grow(n); err != nil {
			return err
		}
	}
	if err := w.graph.Resize(w.exec.Env()); err != nil {
		return err
	}
	w.resizes++
	return nil
}

// ReloadShader drops every cached pipeline built from path and recompiles
// the passes that used them. It returns the number of passes that changed.
func (w *WorldRenderer) ReloadShader(ctx context.Context, path string) (int, error) {
	if inv, ok := w.loader.(interface{ Invalidate(string) int }); ok {
		inv.Invalidate(path)
	}
	if w.compiler.Evict(path) == 0 {
		return 0, nil
	}
	if err := w.dev.WaitIdle(); err != nil {
		return 0, err
	}
	return w.graph.ReloadPipelines(ctx, w.exec.Env())
}

// AddPass queues a pass; the graph is recompiled before the next frame.
func (w *WorldRenderer) AddPass(desc graph.PassDesc) {
	w.graph.AddPass(desc)
}

func (w *WorldRenderer) CreateTexture(desc graph.TextureDesc) graph.TextureHandle {
	return w.textures.Create(desc)
}

// CreateMesh uploads vertices, and indices when there are any, into new
// buffers owned by the mesh.
func (w *WorldRenderer) CreateMesh(vertices []byte, vertexCount uint32, indices []uint32) (_ resources.MeshHandle, err error) {
	vb, err := w.dev.CreateBuffer(gpu.BufferDesc{Size: uint64(len(vertices)), Usage: gpu.BufferUsageVertex})
	if err != nil {
		return resources.MeshHandle{}, err
	}
	mesh := resources.Mesh{VertexBuffer: vb, VertexCount: vertexCount}
	defer func() {
		if err != nil {
			w.dev.DestroyBuffer(vb)
			if mesh.IndexBuffer != 0 {
				w.dev.DestroyBuffer(mesh.IndexBuffer)
			}
		}
	}()
	if err := w.dev.WriteBuffer(vb, 0, vertices); err != nil {
		return resources.MeshHandle{}, err
	}
	if len(indices) > 0 {
		data := make([]byte, 0, 4*len(indices))
		for _, i := range indices {
			data = binary.LittleEndian.AppendUint32(data, i)
		}
		if mesh.IndexBuffer, err = w.dev.CreateBuffer(gpu.BufferDesc{Size: uint64(len(data)), Usage: gpu.BufferUsageIndex}); err != nil {
			return resources.MeshHandle{}, err
		}
		if err := w.dev.WriteBuffer(mesh.IndexBuffer, 0, data); err != nil {
			return resources.MeshHandle{}, err
		}
		mesh.IndexCount = uint32(len(indices))
		mesh.IndexType = gpu.IndexUint32
	}
	return w.assets.CreateMesh(mesh), nil
}

func (w *WorldRenderer) CreateMaterial(m resources.Material) resources.MaterialHandle {
	return w.assets.CreateMaterial(m)
}

func (w *WorldRenderer) CreateTransform(t resources.Transform) resources.TransformHandle {
	return w.assets.CreateTransform(t)
}

func (w *WorldRenderer) SetTransform(h resources.TransformHandle, t resources.Transform) error {
	return w.assets.SetTransform(h, t)
}

func (w *WorldRenderer) CreateRenderable(r resources.Renderable) (resources.RenderableHandle, error) {
	return w.assets.CreateRenderable(r)
}

func (w *WorldRenderer) RemoveRenderable(h resources.RenderableHandle) error {
	return w.assets.RemoveRenderable(h)
}

func (w *WorldRenderer) Camera() *Camera {
	return w.camera
}

func (w *WorldRenderer) Assets() *resources.Assets {
	return w.assets
}

func (w *WorldRenderer) Graph() *graph.Graph {
	return w.graph
}

func (w *WorldRenderer) Compiler() *pipeline.Compiler {
	return w.compiler
}

// FrameIndex counts the frames presented so far.
func (w *WorldRenderer) FrameIndex() uint32 {
	return w.frameIndex
}

// Resizes counts swapchain rebuilds.
func (w *WorldRenderer) Resizes() int {
	return w.resizes
}

// Destroy waits for the device and releases everything the renderer
// created. The device and surface stay with the caller.
func (w *WorldRenderer) Destroy() error {
	idleErr := w.dev.WaitIdle()
	return errors.Join(idleErr, w.scope.Close())
}
