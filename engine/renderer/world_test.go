package renderer

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/math"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima-graph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

type stubLoader struct {
	invalidated []string
}

func (l *stubLoader) Load(_ context.Context, src shader.Source, stage gpu.ShaderStage) (*shader.Module, error) {
	if strings.Contains(src.Path(), "broken") {
		return nil, errors.New("syntax error")
	}
	return &shader.Module{Name: src.String(), Stage: stage, EntryPoint: "main", Code: []uint32{shader.SPIRVMagic}}, nil
}

func (l *stubLoader) Invalidate(path string) int {
	l.invalidated = append(l.invalidated, path)
	return 1
}

func newWorld(t *testing.T) (*WorldRenderer, *gputest.Device, *gputest.Surface, *stubLoader) {
	t.Helper()
	dev := gputest.NewDevice()
	surface := gputest.NewSurface(800, 600, 3)
	loader := &stubLoader{}
	w, err := New(dev, surface, core.DefaultConfig(), loader)
	require.NoError(t, err)
	return w, dev, surface, loader
}

func addScene(t *testing.T, w *WorldRenderer) graph.TextureHandle {
	t.Helper()
	mesh, err := w.CreateMesh(make([]byte, 3*24), 3, nil)
	require.NoError(t, err)
	_, err = w.CreateRenderable(resources.Renderable{
		Mesh:      mesh,
		Material:  w.CreateMaterial(resources.NewMaterial("flat")),
		Transform: w.CreateTransform(resources.IdentityTransform()),
	})
	require.NoError(t, err)

	target := w.CreateTexture(graph.DefaultTextureDesc())
	w.AddPass(graph.NewRasterPass("meshes").
		RenderTarget(target, gpu.LoadOpClear, gpu.StoreOpStore).
		Pipeline().Vertex(shader.FromPath("shaders://mesh.vert.wgsl")).Fragment(shader.FromPath("shaders://mesh.frag.wgsl")).EndPipeline().
		Render(graph.RecorderFunc(func(pc *graph.PassContext, rs []resources.Renderable) error {
			pc.BindPipeline()
			pc.BindBindless()
			for _, r := range rs {
				if err := pc.DrawRenderable(r); err != nil {
					return err
				}
			}
			return nil
		})))
	w.AddPass(graph.NewPresentPass("present").
		Vertex(shader.FromPath("shaders://fullscreen.vert.wgsl")).
		Fragment(shader.FromPath("shaders://blit.frag.wgsl")).
		Read(target).
		Execute(graph.RecorderFunc(func(pc *graph.PassContext, _ []resources.Renderable) error {
			pc.BindPipeline()
			pc.DrawFullscreenTriangle()
			return nil
		})).
		Build())
	return target
}

func TestDrawFrameUploadsUniforms(t *testing.T) {
	w, dev, surface, _ := newWorld(t)
	addScene(t, w)
	w.Camera().SetPosition(math.NewVec3(0, 0, 5))

	require.NoError(t, w.DrawFrame(context.Background()))
	assert.Equal(t, uint32(1), w.FrameIndex())
	assert.Equal(t, []uint32{0}, surface.Presented)

	cam := dev.BufferData(w.cameraBufs.Buffer(0))
	assert.Equal(t, w.Camera().Data(800, 600).bytes(), cam)

	values := dev.BufferData(w.frameBufs.Buffer(0))
	require.Len(t, values, frameValuesSize)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(values[8:]))

	var bound []uint32
	for _, wr := range dev.DescriptorWrites() {
		bound = append(bound, wr.Binding)
	}
	assert.Subset(t, bound, []uint32{0, 1, 2, 3}, "camera, frame, transforms and the sampled target are bound")

	require.NoError(t, w.DrawFrame(context.Background()))
	values = dev.BufferData(w.frameBufs.Buffer(1))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(values[8:]))
}

func TestCameraUploadedOnlyWhenChanged(t *testing.T) {
	w, dev, _, _ := newWorld(t)
	addScene(t, w)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.DrawFrame(context.Background()))
	}
	before := dev.BufferData(w.cameraBufs.Buffer(0))
	stamp := w.cameraBufs.stamp[0]

	require.NoError(t, w.DrawFrame(context.Background()))
	assert.Equal(t, stamp, w.cameraBufs.stamp[0], "slot 0 was current")

	w.Camera().MoveForward(2)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.DrawFrame(context.Background()))
	}
	assert.NotEqual(t, before, dev.BufferData(w.cameraBufs.Buffer(0)))
	assert.Equal(t, w.cameraBufs.stamp[0], w.cameraBufs.stamp[1])
}

func TestSuboptimalDuringDrawResizesOnce(t *testing.T) {
	w, _, surface, _ := newWorld(t)
	addScene(t, w)
	require.NoError(t, w.DrawFrame(context.Background()))

	surface.QueueAcquire(gputest.AcquireResult{Suboptimal: true})
	err := w.DrawFrame(context.Background())
	assert.ErrorIs(t, err, core.ErrSuboptimalSurface)
	assert.Equal(t, 1, w.Resizes())
	assert.Equal(t, 1, surface.Recreations)

	require.NoError(t, w.DrawFrame(context.Background()))
	assert.Equal(t, 1, w.Resizes())
	assert.Equal(t, uint32(2), w.FrameIndex())
}

func TestRequestResizeRebuildsTargets(t *testing.T) {
	w, dev, surface, _ := newWorld(t)
	target := addScene(t, w)
	require.NoError(t, w.DrawFrame(context.Background()))

	w.RequestResize(1280, 720)
	w.RequestResize(1024, 768)
	require.NoError(t, w.DrawFrame(context.Background()))
	assert.Equal(t, 1, w.Resizes(), "pending sizes collapse into one rebuild")
	assert.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, surface.Extent())

	tex, err := w.textures.Get(target)
	require.NoError(t, err)
	assert.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, tex.Extent)

	want := w.Camera().Data(1024, 768).bytes()
	found := false
	for slot := 0; slot < w.sync.Slots(); slot++ {
		if b := w.cameraBufs.Buffer(slot); b != 0 && string(dev.BufferData(b)) == string(want) {
			found = true
		}
	}
	assert.True(t, found, "the frame after the resize used the new aspect ratio")
}

func TestZeroSizeResizeIgnored(t *testing.T) {
	w, _, surface, _ := newWorld(t)
	require.NoError(t, w.Resize(0, 600))
	assert.Zero(t, surface.Recreations)
	assert.Zero(t, w.Resizes())
}

func TestReloadShader(t *testing.T) {
	w, dev, _, loader := newWorld(t)
	addScene(t, w)
	require.NoError(t, w.DrawFrame(context.Background()))
	pipelines := dev.Created("Pipeline")

	n, err := w.ReloadShader(context.Background(), "shaders://blit.frag.wgsl")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"shaders://blit.frag.wgsl"}, loader.invalidated)
	assert.Equal(t, pipelines+1, dev.Created("Pipeline"))
	assert.Equal(t, 2, dev.Live("Pipeline"))

	n, err = w.ReloadShader(context.Background(), "shaders://unused.wgsl")
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, w.DrawFrame(context.Background()))
}

func TestCreateIndexedMesh(t *testing.T) {
	w, dev, _, _ := newWorld(t)
	h, err := w.CreateMesh(make([]byte, 4*12), 4, []uint32{0, 1, 2, 2, 3, 0})
	require.NoError(t, err)
	m, err := w.Assets().Mesh(h)
	require.NoError(t, err)
	assert.True(t, m.Indexed())
	assert.Equal(t, uint32(6), m.IndexCount)
	assert.Equal(t, gpu.IndexUint32, m.IndexType)
	assert.Len(t, dev.BufferData(m.IndexBuffer), 24)

	dev.FailNext("CreateBuffer", errors.New("out of memory"))
	_, err = w.CreateMesh(make([]byte, 12), 1, nil)
	var devErr *core.DeviceError
	assert.True(t, errors.As(err, &devErr))
}

func TestDestroyReleasesEverything(t *testing.T) {
	w, dev, _, _ := newWorld(t)
	addScene(t, w)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.DrawFrame(context.Background()))
	}
	require.NoError(t, w.Destroy())
	assert.Empty(t, dev.Leaks())
	require.NoError(t, w.Destroy(), "closing twice is a no-op")
}

func TestNewCleansUpOnFailure(t *testing.T) {
	dev := gputest.NewDevice()
	surface := gputest.NewSurface(800, 600, 3)
	dev.FailNext("CreateDescriptorPool", errors.New("pool exhausted"))

	_, err := New(dev, surface, core.DefaultConfig(), &stubLoader{})
	require.Error(t, err)
	assert.Empty(t, dev.Leaks())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Width = 0
	_, err := New(gputest.NewDevice(), gputest.NewSurface(800, 600, 3), cfg, nil)
	assert.Error(t, err)
}
