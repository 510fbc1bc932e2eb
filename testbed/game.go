package testbed

import (
	"fmt"

	"github.com/spaghettifunk/sanity/engine"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/math"
	"github.com/spaghettifunk/sanity/engine/renderer"
	"github.com/spaghettifunk/sanity/engine/renderer/components"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// Cubes per row. standard.vert lays instances out on the same grid.
const gridWidth = 16

// Distance between two cube centres, matching standard.vert.
const cellSize float32 = 3

// TestGame renders a floor with a grid of cubes under an orbiting camera.
type TestGame struct {
	*engine.Game
}

type gameState struct {
	WorldCamera *components.Camera
	Cubes       int

	floor rhi.Mesh
	cube  rhi.Mesh
	// seconds since Initialize
	time float64
	// orbit radius around the grid centre
	radius float32
	centre math.Vec3
}

func NewTestGame(config *engine.ApplicationConfig, cubes int) (*TestGame, error) {
	if cubes <= 0 {
		return nil, fmt.Errorf("%w: cube count must be positive, got %d", core.ErrConfiguration, cubes)
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State: &gameState{
				WorldCamera: components.NewCamera(),
				Cubes:       cubes,
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(r *renderer.Renderer) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()

	cols := min(state.Cubes, gridWidth)
	rows := (state.Cubes + gridWidth - 1) / gridWidth
	width, depth := float32(cols)*cellSize, float32(rows)*cellSize
	state.centre = math.NewVec3((width-cellSize)*0.5, 0, (depth-cellSize)*0.5)
	state.radius = max(width, depth)

	// the floor sits under the grid, flush with the cube bottoms
	floor := renderer.GeneratePlane("floor", width+cellSize, depth+cellSize, 0xff606060)
	for i := range floor.Vertices {
		p := &floor.Vertices[i].Position
		p[0] += state.centre.X
		p[1] -= 0.5
		p[2] += state.centre.Z
	}
	meshes, err := r.UploadMeshes(floor, renderer.GenerateCube("test_cube", 1, 1, 1, 0xffffffff))
	if err != nil {
		return err
	}
	state.floor, state.cube = meshes[0], meshes[1]
	return g.Update(0)
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	state.time += deltaTime

	angle := float32(state.time * 0.25)
	orbit := math.NewVec3(0, 0, state.radius).Transform(math.NewMat4EulerY(angle))
	orbit.Y = state.radius * 0.5
	state.WorldCamera.SetPosition(state.centre.Add(orbit))
	state.WorldCamera.LookAt(state.centre)
	return nil
}

// Render draws the floor and every cube in one instanced draw. The floor is
// instance 0, which the vertex shader leaves in place.
func (g *TestGame) Render(packet *renderer.RenderPacket, deltaTime float64) error {
	state := g.state()
	packet.Camera = state.WorldCamera
	packet.Draws = append(packet.Draws,
		renderer.DrawItem{Mesh: state.floor, Instances: 1},
		renderer.DrawItem{Mesh: state.cube, Instances: uint32(state.Cubes)},
	)
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed ran for %.2f seconds", g.state().time)
	return nil
}
