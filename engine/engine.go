package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/anima-graph/engine/assets"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/platform"
	"github.com/spaghettifunk/anima-graph/engine/renderer"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/vulkan"
)

// shaderQueueSize bounds the shader changes waiting for the main loop.
const shaderQueueSize = 32

type Engine struct {
	currentStage Stage
	game         *Game
	cfg          core.Config
	scope        *core.Scope

	bus      *core.EventBus
	window   Window
	platform *platform.Platform
	backend  *vulkan.Backend
	world    *renderer.WorldRenderer
	watcher  *assets.ShaderWatcher

	clock   *core.Clock
	metrics *core.FrameMetrics

	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32

	shaderChanges chan string
	lastTime      float64
	lastReport    float64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.FnInitialize == nil {
		return nil, errors.New("engine: game has no initialize function")
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(g.Config.LogLevel)

	return &Engine{
		currentStage:  EngineStageUninitialized,
		game:          g,
		cfg:           g.Config,
		scope:         core.NewScope("engine"),
		bus:           core.NewEventBus(),
		clock:         core.NewClock(),
		metrics:       core.NewFrameMetrics(),
		width:         g.Config.Width,
		height:        g.Config.Height,
		shaderChanges: make(chan string, shaderQueueSize),
	}, nil
}

// Initialize opens the window, brings up the Vulkan backend and the
// renderer and lets the game build its scene.
func (e *Engine) Initialize() (err error) {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine: initialize while %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	defer func() {
		if err != nil {
			if cerr := e.scope.Close(); cerr != nil {
				core.LogError("releasing a partially initialized engine: %s", cerr)
			}
			e.currentStage = EngineStageShutdown
		}
	}()

	p := platform.New(e.bus)
	if err := p.Startup(e.cfg.AppName, e.cfg.Width, e.cfg.Height); err != nil {
		return err
	}
	e.platform = p
	e.scope.DeferFunc("platform", p.Shutdown)

	e.width, e.height = p.FramebufferSize()
	cfg := e.cfg
	cfg.Width, cfg.Height = e.width, e.height
	backend, err := vulkan.New(p.Window, p.InstanceProcAddr(), cfg)
	if err != nil {
		return err
	}
	e.backend = backend
	e.scope.Defer("vulkan", backend.Destroy)

	world, err := renderer.New(backend, backend.Surface(), cfg, nil)
	if err != nil {
		return err
	}
	e.scope.Defer("renderer", world.Destroy)

	return e.attach(p, world)
}

// attach wires the window and the renderer into the loop and runs the
// game's initialization.
func (e *Engine) attach(window Window, world *renderer.WorldRenderer) error {
	e.window = window
	e.world = world

	e.bus.Register(core.EventApplicationQuit, e, e.onEvent)
	e.bus.Register(core.EventResized, e, e.onResized)
	e.bus.Register(core.EventShaderChanged, e, e.onShaderChanged)
	e.scope.DeferFunc("events", e.bus.Shutdown)

	if e.cfg.HotReload {
		w, err := assets.NewShaderWatcher(e.cfg.ShaderRoot, e.bus, 0)
		if err != nil {
			// the engine still runs without hot reload
			core.LogWarn("shader hot reload disabled: %s", err)
		} else {
			e.watcher = w
			e.scope.Defer("shader watcher", w.Close)
		}
	}

	if err := e.game.FnInitialize(world); err != nil {
		return fmt.Errorf("game initialize: %w", err)
	}
	if e.game.FnShutdown != nil {
		e.scope.Defer("game", e.game.FnShutdown)
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives frames until the window closes, a quit event arrives or ctx is
// done. A lost device or any other non-presentation fault ends the loop
// with an error.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine: run while %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if !e.window.PumpMessages() {
			break
		}
		if e.isSuspended {
			e.window.WaitEvents()
			continue
		}
		if err := e.frame(ctx); err != nil {
			e.isRunning.Store(false)
			return err
		}
	}
	e.isRunning.Store(false)
	return nil
}

func (e *Engine) frame(ctx context.Context) error {
	e.reloadShaders(ctx)

	e.clock.Update()
	now := e.clock.Elapsed()
	delta := now - e.lastTime
	e.lastTime = now

	if e.game.FnUpdate != nil {
		if err := e.game.FnUpdate(e.world, delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	err := e.world.DrawFrame(ctx)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrDeviceLost):
		core.LogError("device lost: %s", err)
		return err
	case core.IsPresentationFault(err):
		// the renderer already rebuilt the swapchain; this frame is gone
	case errors.Is(err, gpu.ErrTimeout):
		core.LogWarn("frame skipped: %s", err)
	default:
		return err
	}

	e.metrics.Update(delta)
	if now-e.lastReport >= 1 {
		core.LogDebug("%.1f fps, %.3f ms/frame", e.metrics.FPS(), e.metrics.FrameTime())
		e.lastReport = now
	}
	return nil
}

// reloadShaders recompiles the pipelines of every shader file that changed
// since the last frame. Failures keep the previous pipelines.
func (e *Engine) reloadShaders(ctx context.Context) {
	seen := make(map[string]bool)
	for {
		select {
		case path := <-e.shaderChanges:
			if seen[path] {
				continue
			}
			seen[path] = true
			n, err := e.world.ReloadShader(ctx, path)
			if err != nil {
				core.LogError("reloading %s: %s", path, err)
				continue
			}
			if n > 0 {
				core.LogInfo("reloaded %s: %d passes rebuilt", path, n)
			}
		default:
			return
		}
	}
}

// Shutdown releases everything Initialize built, in reverse. Calling it
// again is a no-op.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	err := e.scope.Close()
	e.currentStage = EngineStageShutdown
	return err
}

// GetFramebufferSize returns the width and height (in this order) of the
// window framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Quit asks the loop to stop after the current frame. It is safe to call
// from any goroutine.
func (e *Engine) Quit() {
	e.bus.Fire(core.EventApplicationQuit, nil, core.EventContext{})
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	if code == core.EventApplicationQuit {
		core.LogInfo("EventApplicationQuit received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	width, height := data.U32[0], data.U32[1]
	if width == e.width && height == e.height && !e.isSuspended {
		return true
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.world.RequestResize(width, height)
	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	return true
}

// onShaderChanged runs on the watcher goroutine and only queues the path.
func (e *Engine) onShaderChanged(code core.SystemEventCode, sender interface{}, data core.EventContext) bool {
	select {
	case e.shaderChanges <- data.Path:
	default:
		core.LogWarn("shader change queue full, dropping %s", data.Path)
	}
	return false
}
