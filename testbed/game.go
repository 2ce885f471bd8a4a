package testbed

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/anima-graph/engine"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/math"
	"github.com/spaghettifunk/anima-graph/engine/renderer"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/graph"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

// vertexSize is a position and a colour, three floats each.
const vertexSize = 24

type TestGame struct {
	*engine.Game
}

type gameState struct {
	transform *math.Transform
	handle    resources.TransformHandle
	angle     float32

	width  uint32
	height uint32
}

// NewTestGame builds the testbed from cfg: a coloured triangle and a grid
// rendered into two targets, shown side by side by the present pass.
func NewTestGame(cfg core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  &gameState{transform: math.TransformCreate()},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Initialize(world *renderer.WorldRenderer) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.State.(*gameState)

	world.Camera().SetPosition(math.NewVec3(0, 0, 2))

	mesh, err := world.CreateMesh(triangle(), 3, nil)
	if err != nil {
		return fmt.Errorf("triangle mesh: %w", err)
	}
	state.handle = world.CreateTransform(resources.TransformFrom(state.transform))
	if _, err := world.CreateRenderable(resources.Renderable{
		Mesh:      mesh,
		Material:  world.CreateMaterial(resources.NewMaterial("vertex-colour")),
		Transform: state.handle,
	}); err != nil {
		return err
	}

	simple := world.CreateTexture(graph.TextureDesc{Name: "simple", Resolution: graph.Full(), Usage: graph.UsageTransient})
	grid := world.CreateTexture(graph.TextureDesc{Name: "grid", Resolution: graph.Full(), Usage: graph.UsageTransient})

	world.AddPass(graph.NewRasterPass("simple").
		RenderTarget(simple, gpu.LoadOpClear, gpu.StoreOpStore).
		Pipeline().
		Vertex(shader.FromPath("shaders://mesh.wgsl")).
		Fragment(shader.FromPath("shaders://mesh.wgsl")).
		EndPipeline().
		Render(graph.RecorderFunc(drawRenderables)))

	world.AddPass(graph.NewRasterPass("grid").
		RenderTarget(grid, gpu.LoadOpClear, gpu.StoreOpStore).
		Pipeline().
		Vertex(shader.FromPath("shaders://grid.wgsl")).
		Fragment(shader.FromPath("shaders://grid.wgsl")).
		EndPipeline().
		Render(graph.RecorderFunc(drawFullscreen(nil))))

	world.AddPass(graph.NewPresentPass("final").
		Read(simple).
		Read(grid).
		Vertex(shader.FromPath("shaders://fullscreen.wgsl")).
		Fragment(shader.FromPath("shaders://present.wgsl")).
		Execute(graph.RecorderFunc(drawFullscreen(func(pc *graph.PassContext) error {
			// texture indices of the left and right halves
			var b []byte
			b = binary.LittleEndian.AppendUint32(b, simple.Index())
			b = binary.LittleEndian.AppendUint32(b, grid.Index())
			return pc.PushConstants(0, b)
		}))).
		Build())

	return nil
}

func drawRenderables(pc *graph.PassContext, renderables []resources.Renderable) error {
	pc.SetViewport(nil)
	pc.SetScissor(nil)
	pc.BindPipeline()
	pc.BindBindless()
	for _, r := range renderables {
		if err := pc.DrawRenderable(r); err != nil {
			return err
		}
	}
	return nil
}

func drawFullscreen(push func(pc *graph.PassContext) error) func(*graph.PassContext, []resources.Renderable) error {
	return func(pc *graph.PassContext, _ []resources.Renderable) error {
		pc.SetViewport(nil)
		pc.SetScissor(nil)
		pc.BindPipeline()
		pc.BindBindless()
		if push != nil {
			if err := push(pc); err != nil {
				return err
			}
		}
		pc.DrawFullscreenTriangle()
		return nil
	}
}

// Update spins the triangle around the Y axis.
func (g *TestGame) Update(world *renderer.WorldRenderer, deltaTime float64) error {
	state := g.State.(*gameState)
	state.angle += float32(deltaTime)
	state.transform.SetRotation(math.NewQuatFromAxisAngle(math.NewVec3Up(), state.angle, true))
	return world.SetTransform(state.handle, resources.TransformFrom(state.transform))
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed")
	return nil
}

func triangle() []byte {
	vertices := [3][6]float32{
		{0.0, 0.5, 0.0, 1.0, 0.0, 0.0},
		{-0.5, -0.5, 0.0, 0.0, 1.0, 0.0},
		{0.5, -0.5, 0.0, 0.0, 0.0, 1.0},
	}
	b := make([]byte, 0, len(vertices)*vertexSize)
	for _, v := range vertices {
		for _, f := range v {
			b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(f))
		}
	}
	return b
}
