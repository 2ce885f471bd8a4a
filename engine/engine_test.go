package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/anima-graph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

const meshShader = "shaders://mesh.wgsl"

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

type fakeWindow struct {
	pumps      int
	waits      int
	closeAfter int
	onPump     func(n int)
}

func (w *fakeWindow) PumpMessages() bool {
	w.pumps++
	if w.onPump != nil {
		w.onPump(w.pumps)
	}
	return w.pumps <= w.closeAfter
}

func (w *fakeWindow) WaitEvents() {
	w.waits++
}

func (w *fakeWindow) FramebufferSize() (uint32, uint32) {
	return 800, 600
}

type harness struct {
	engine  *Engine
	window  *fakeWindow
	world   *renderer.WorldRenderer
	dev     *gputest.Device
	surface *gputest.Surface
	loader  *stubLoader
	resized [][2]uint32
}

func scene(world *renderer.WorldRenderer) error {
	mesh, err := world.CreateMesh(make([]byte, 3*24), 3, nil)
	if err != nil {
		return err
	}
	if _, err := world.CreateRenderable(resources.Renderable{
		Mesh:      mesh,
		Material:  world.CreateMaterial(resources.NewMaterial("flat")),
		Transform: world.CreateTransform(resources.IdentityTransform()),
	}); err != nil {
		return err
	}
	target := world.CreateTexture(graph.DefaultTextureDesc())
	world.AddPass(graph.NewRasterPass("meshes").
		RenderTarget(target, gpu.LoadOpClear, gpu.StoreOpStore).
		Pipeline().Vertex(shader.FromPath(meshShader)).Fragment(shader.FromPath(meshShader)).EndPipeline().
		Render(graph.RecorderFunc(func(pc *graph.PassContext, rs []resources.Renderable) error {
			pc.SetViewport(nil)
			pc.SetScissor(nil)
			pc.BindPipeline()
			pc.BindBindless()
			for _, r := range rs {
				if err := pc.DrawRenderable(r); err != nil {
					return err
				}
			}
			return nil
		})))
	world.AddPass(graph.NewPresentPass("present").
		Vertex(shader.FromPath("shaders://fullscreen.wgsl")).
		Fragment(shader.FromPath("shaders://present.wgsl")).
		Read(target).
		Execute(graph.RecorderFunc(func(pc *graph.PassContext, _ []resources.Renderable) error {
			pc.SetViewport(nil)
			pc.SetScissor(nil)
			pc.BindPipeline()
			pc.BindBindless()
			pc.DrawFullscreenTriangle()
			return nil
		})).
		Build())
	return nil
}

func newHarness(t *testing.T, frames int) *harness {
	t.Helper()
	h := &harness{
		window:  &fakeWindow{closeAfter: frames},
		dev:     gputest.NewDevice(),
		surface: gputest.NewSurface(800, 600, 3),
		loader:  &stubLoader{},
	}
	game := &Game{
		Config:       core.DefaultConfig(),
		FnInitialize: scene,
		FnOnResize: func(w, ht uint32) error {
			h.resized = append(h.resized, [2]uint32{w, ht})
			return nil
		},
	}
	e, err := New(game)
	require.NoError(t, err)
	world, err := renderer.New(h.dev, h.surface, game.Config, h.loader)
	require.NoError(t, err)
	e.scope.Defer("renderer", world.Destroy)
	require.NoError(t, e.attach(h.window, world))
	t.Cleanup(func() { assert.NoError(t, e.Shutdown()) })

	h.engine = e
	h.world = world
	return h
}

func TestRunDrawsUntilWindowCloses(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, uint32(3), h.world.FrameIndex())
	assert.Len(t, h.surface.Presented, 3)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.engine.Run(ctx))
	assert.Zero(t, h.window.pumps)
	assert.Zero(t, h.world.FrameIndex())
}

func TestQuitEventStopsLoop(t *testing.T) {
	h := newHarness(t, 100)
	h.window.onPump = func(n int) {
		if n == 2 {
			h.engine.Quit()
		}
	}
	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, uint32(2), h.world.FrameIndex(), "the frame in progress finishes")
}

func TestResizeEventRebuildsSwapchain(t *testing.T) {
	h := newHarness(t, 2)
	h.window.onPump = func(n int) {
		if n == 1 {
			h.engine.bus.Fire(core.EventResized, h.window, core.EventContext{U32: [4]uint32{1024, 768}})
		}
	}
	require.NoError(t, h.engine.Run(context.Background()))

	assert.Equal(t, 1, h.world.Resizes())
	assert.Equal(t, gpu.Extent2D{Width: 1024, Height: 768}, h.surface.Extent())
	assert.Equal(t, [][2]uint32{{1024, 768}}, h.resized)
	w, ht := h.engine.GetFramebufferSize()
	assert.Equal(t, []uint32{1024, 768}, []uint32{w, ht})
}

func TestMinimizedWindowSuspendsFrames(t *testing.T) {
	h := newHarness(t, 3)
	h.window.onPump = func(n int) {
		switch n {
		case 1:
			h.engine.bus.Fire(core.EventResized, h.window, core.EventContext{})
		case 2:
			h.engine.bus.Fire(core.EventResized, h.window, core.EventContext{U32: [4]uint32{800, 600}})
		}
	}
	require.NoError(t, h.engine.Run(context.Background()))

	assert.Equal(t, 1, h.window.waits)
	assert.Equal(t, uint32(2), h.world.FrameIndex())
	assert.Equal(t, [][2]uint32{{800, 600}}, h.resized, "a zero size is not passed on")
}

func TestShaderChangeRebuildsPipelines(t *testing.T) {
	h := newHarness(t, 2)
	before := 0
	h.window.onPump = func(n int) {
		if n == 2 {
			before = h.dev.Created("Pipeline")
			h.engine.bus.Fire(core.EventShaderChanged, nil, core.EventContext{Path: meshShader})
			h.engine.bus.Fire(core.EventShaderChanged, nil, core.EventContext{Path: meshShader})
		}
	}
	require.NoError(t, h.engine.Run(context.Background()))

	assert.Equal(t, []string{meshShader}, h.loader.invalidated, "duplicate changes are folded")
	assert.Equal(t, before+1, h.dev.Created("Pipeline"))
	assert.Equal(t, uint32(2), h.world.FrameIndex())
}

func TestDeviceLostEndsRun(t *testing.T) {
	h := newHarness(t, 5)
	h.dev.FailNext("Submit", core.ErrDeviceLost)

	err := h.engine.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Equal(t, 1, h.window.pumps)
}

func TestPresentationFaultDropsOneFrame(t *testing.T) {
	h := newHarness(t, 3)
	h.surface.QueueAcquire(gputest.AcquireResult{Err: core.ErrSurfaceOutOfDate})

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, 1, h.world.Resizes())
	assert.Equal(t, uint32(2), h.world.FrameIndex())
}

func TestShutdownReleasesEverything(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.engine.Run(context.Background()))

	require.NoError(t, h.engine.Shutdown())
	assert.Equal(t, EngineStageShutdown, h.engine.Stage())
	assert.Empty(t, h.dev.Leaks())
	assert.NoError(t, h.engine.Shutdown())
	assert.False(t, h.engine.bus.Fire(core.EventApplicationQuit, nil, core.EventContext{}), "listeners are gone")
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(&Game{Config: core.DefaultConfig(), FnInitialize: scene})
	require.NoError(t, err)
	assert.Error(t, e.Run(context.Background()))
}

func TestNewRejectsBadGames(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Game{Config: core.DefaultConfig()})
	assert.Error(t, err)

	cfg := core.DefaultConfig()
	cfg.Width = 0
	_, err = New(&Game{Config: cfg, FnInitialize: scene})
	assert.Error(t, err)
}

func TestGameInitializeErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	e, err := New(&Game{Config: core.DefaultConfig(), FnInitialize: func(*renderer.WorldRenderer) error { return boom }})
	require.NoError(t, err)
	world, err := renderer.New(gputest.NewDevice(), gputest.NewSurface(800, 600, 2), core.DefaultConfig(), &stubLoader{})
	require.NoError(t, err)
	defer world.Destroy()

	err = e.attach(&fakeWindow{}, world)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "game initialize")
}
