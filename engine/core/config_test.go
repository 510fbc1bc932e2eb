package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, uint32(3), s.Render.NumInFlightFrames)
	assert.Equal(t, uint64(64*1024*1024), s.MeshStore.VertexBufferSize)
	assert.Equal(t, uint64(64*1024*1024), s.MeshStore.IndexBufferSize)
}

func TestParseSettingsOverridesDefaults(t *testing.T) {
	s, err := ParseSettings([]byte(`
[render]
num_in_flight_frames = 2
panic_on_ordering_violation = true

[log]
level = "warn"
`))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.Render.NumInFlightFrames)
	assert.True(t, s.Render.PanicOnOrderingViolation)
	assert.Equal(t, "warn", s.Log.Level)
	// untouched tables keep their defaults
	assert.Equal(t, DefaultMeshBufferSize, s.MeshStore.IndexBufferSize)
	assert.Equal(t, uint32(1280), s.Render.Width)
}

func TestParseSettingsRejectsBadValues(t *testing.T) {
	_, err := ParseSettings([]byte("[render]\nnum_in_flight_frames = 0\n"))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseSettings([]byte("[render]\nnum_in_flight_frames = 4\n"))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseSettings([]byte("[mesh_store]\nvertex_buffer_size = 0\n"))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseSettings([]byte("[jobs]\nworkers = 0\n"))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseSettings([]byte("this is not toml = ="))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadSettingsRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Render.NumInFlightFrames = 1
	s.Shaders.HotReload = true
	data, err := s.Encode()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("info"))
	assert.Error(t, SetLogLevel("chatty"))
	require.NoError(t, SetLogLevel("debug"))
}
