package engine

import (
	"github.com/spaghettifunk/sanity/engine/renderer"
)

// Game is the application driven by the engine loop. Every hook is optional.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func(r *renderer.Renderer) error
type Update func(deltaTime float64) error
type Render func(packet *renderer.RenderPacket, deltaTime float64) error
type Shutdown func() error
