package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/sanity/engine/assets"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/jobs"
	"github.com/spaghettifunk/sanity/engine/platform"
	"github.com/spaghettifunk/sanity/engine/renderer"
	"github.com/spaghettifunk/sanity/engine/renderer/headless"
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
	"github.com/spaghettifunk/sanity/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Frames between two metrics log lines.
const metricsInterval = 120

// placeholderShader is a bare SPIR-V header. The headless backend never
// inspects bytecode, so it stands in when no compiled shaders are around.
var placeholderShader = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	settings     *core.Settings
	isRunning    atomic.Bool

	events   *core.EventBus
	platform *platform.Platform
	backend  rhi.Backend
	device   *rhi.RenderDevice
	shaders  *assets.ShaderLibrary
	jobs     *jobs.JobSystem
	renderer *renderer.Renderer

	clock  *core.Clock
	frames uint64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("%w: game and application config are required", core.ErrConfiguration)
	}
	settings := core.DefaultSettings()
	if path := g.ApplicationConfig.SettingsPath; path != "" {
		s, err := core.LoadSettings(path)
		if err != nil {
			return nil, err
		}
		settings = s
	}
	if g.ApplicationConfig.Name != "" {
		settings.ApplicationName = g.ApplicationConfig.Name
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(settings.Log.Level); err != nil {
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageBootComplete,
		gameInstance: g,
		settings:     settings,
		events:       core.NewEventBus(),
		platform:     platform.New(),
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Stage() Stage                   { return e.currentStage }
func (e *Engine) Settings() *core.Settings       { return e.settings }
func (e *Engine) Events() *core.EventBus         { return e.events }
func (e *Engine) Renderer() *renderer.Renderer   { return e.renderer }
func (e *Engine) Shaders() *assets.ShaderLibrary { return e.shaders }
func (e *Engine) Frames() uint64                 { return e.frames }

// Initialize brings up the render stack: backend, device, shader library, job
// system and renderer, then hands the renderer to the game.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("%w: Initialize called in stage %d", core.ErrOrderingViolation, e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_DEVICE_LOST, e, e.onEvent)

	e.backend = e.createBackend()

	var err error
	e.device, err = rhi.NewRenderDevice(e.backend, e.settings)
	if err != nil {
		return err
	}

	e.shaders, err = assets.NewShaderLibraryFromSettings(e.settings)
	if err != nil {
		return err
	}
	if _, ok := e.backend.(*headless.Backend); ok {
		for _, name := range []string{renderer.VertexShaderName, renderer.PixelShaderName} {
			if _, found := e.shaders.Info(name); !found {
				e.shaders.Put(name, placeholderShader)
			}
		}
	}
	e.shaders.OnReload(func(name string, version uint64) {
		var ctx core.EventContext
		ctx.Data.C[0] = name
		ctx.Data.U64[0] = version
		e.events.Fire(core.EVENT_CODE_SHADER_RELOADED, e.shaders, ctx)
	})

	e.jobs, err = jobs.NewJobSystemFromSettings(e.settings)
	if err != nil {
		return err
	}

	e.renderer, err = renderer.New(e.device, e.shaders, e.jobs)
	if err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.renderer); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// createBackend prefers Vulkan and falls back to the headless backend when
// no Vulkan device is usable.
func (e *Engine) createBackend() rhi.Backend {
	if !e.gameInstance.ApplicationConfig.Headless {
		b, err := e.createVulkanBackend()
		if err == nil {
			return b
		}
		core.LogWarn("Vulkan unavailable, falling back to the headless backend: %s", err)
	}
	return headless.New(headless.Options{AutoComplete: true})
}

func (e *Engine) createVulkanBackend() (rhi.Backend, error) {
	if err := e.platform.Startup(); err != nil {
		return nil, err
	}
	b, err := vulkan.New(e.platform, vulkan.OptionsFromSettings(e.settings))
	if err != nil {
		_ = e.platform.Shutdown()
		return nil, err
	}
	return b, nil
}

// Run draws frames until Quit, ctx ends, MaxFrames is reached or the device
// is lost.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("%w: Run called in stage %d", core.ErrOrderingViolation, e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()

	maxFrames := e.gameInstance.ApplicationConfig.MaxFrames
	for e.isRunning.Load() {
		if maxFrames > 0 && e.frames >= maxFrames {
			break
		}
		if ctx.Err() != nil {
			break
		}

		delta := e.clock.Tick().Seconds()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				return err
			}
		}

		packet := &renderer.RenderPacket{DeltaTime: delta}
		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(packet, delta); err != nil {
				core.LogError("Game render failed, shutting down: %s", err)
				return err
			}
		}

		if err := e.renderer.DrawFrame(ctx, packet); err != nil {
			if rhi.IsDeviceLost(err) {
				var data core.EventContext
				data.Data.U64[0] = e.frames
				e.events.Fire(core.EVENT_CODE_DEVICE_LOST, e.device, data)
				return err
			}
			if ctx.Err() != nil && errors.Is(err, rhi.ErrBackpressure) {
				break
			}
			return err
		}
		e.frames++

		var data core.EventContext
		data.Data.U64[0] = e.frames
		data.Data.F64[0] = delta
		e.events.Fire(core.EVENT_CODE_FRAME_ENDED, e, data)

		if e.frames%metricsInterval == 0 {
			e.logMetrics()
		}
	}
	e.clock.Stop()
	e.logMetrics()
	return nil
}

func (e *Engine) logMetrics() {
	m := e.renderer.Metrics()
	waits, waited := m.Backpressure()
	core.LogInfo("frame %d: %.1f fps, %.3f ms/frame, %d backpressure waits (%s)",
		e.frames, m.FPS(), m.FrameTime(), waits, waited)
}

// Quit stops the run loop before its next frame. Safe from any goroutine.
func (e *Engine) Quit() {
	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
}

// Shutdown tears the stack down in reverse order. Parts that never came up
// are skipped.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	}
	if e.device != nil {
		errs = append(errs, e.device.Close())
	}
	if e.jobs != nil {
		errs = append(errs, e.jobs.Shutdown())
	}
	if e.shaders != nil {
		errs = append(errs, e.shaders.Close())
	}
	errs = append(errs, e.platform.Shutdown())
	e.events.Shutdown()
	return errors.Join(errs...)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	case core.EVENT_CODE_DEVICE_LOST:
		core.LogError("render device lost at frame %d, shutting down.", data.Data.U64[0])
		e.isRunning.Store(false)
	}
	return false
}
