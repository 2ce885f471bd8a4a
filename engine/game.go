package engine

import (
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer"
)

// Game is what an application plugs into the engine. Only FnInitialize is
// required.
type Game struct {
	Config       core.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize builds the scene: textures, passes, meshes and renderables.
type Initialize func(world *renderer.WorldRenderer) error
type Update func(world *renderer.WorldRenderer, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
