package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/sanity/engine"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/engine/renderer"
	"github.com/spaghettifunk/sanity/testbed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettings = `
application_name = "engine test"

[render]
num_in_flight_frames = 2
width = 64
height = 64

[mesh_store]
vertex_buffer_size = 1048576
index_buffer_size = 1048576

[shaders]
directory = "does-not-exist"

[jobs]
workers = 2
queue_size = 4

[log]
level = "warn"
`

func writeSettings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(testSettings), 0o644))
	return path
}

func TestEngineRunsHeadlessTestbed(t *testing.T) {
	config := &engine.ApplicationConfig{
		SettingsPath: writeSettings(t),
		MaxFrames:    5,
		Headless:     true,
	}
	tb, err := testbed.NewTestGame(config, 4)
	require.NoError(t, err)

	e, err := engine.New(tb.Game)
	require.NoError(t, err)
	assert.Equal(t, "engine test", e.Settings().ApplicationName)

	var ended []uint64
	e.Events().Register(core.EVENT_CODE_FRAME_ENDED, "test", func(_ core.SystemEventCode, _, _ interface{}, data core.EventContext) bool {
		ended = append(ended, data.Data.U64[0])
		return false
	})

	require.NoError(t, e.Initialize())
	assert.Equal(t, engine.EngineStageInitialized, e.Stage())
	assert.Equal(t, "headless", e.Renderer().Device().Backend().Name())

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(5), e.Frames())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ended)
	assert.Equal(t, uint64(5), e.Renderer().Device().FrameIndex())

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
}

func TestEngineQuitStopsTheLoop(t *testing.T) {
	config := &engine.ApplicationConfig{SettingsPath: writeSettings(t), Headless: true}
	var frames int
	var e *engine.Engine
	game := &engine.Game{
		ApplicationConfig: config,
		FnRender: func(packet *renderer.RenderPacket, _ float64) error {
			frames++
			if frames == 3 {
				e.Quit()
			}
			return nil
		},
	}
	var err error
	e, err = engine.New(game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(3), e.Frames())
	require.NoError(t, e.Shutdown())
}

func TestEngineRejectsBadSettingsAndOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[render]\nnum_in_flight_frames = 9\n"), 0o644))
	_, err := engine.New(&engine.Game{ApplicationConfig: &engine.ApplicationConfig{SettingsPath: path}})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = engine.New(&engine.Game{})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	e, err := engine.New(&engine.Game{ApplicationConfig: &engine.ApplicationConfig{SettingsPath: writeSettings(t), Headless: true}})
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrOrderingViolation)
	require.NoError(t, e.Shutdown())
}
