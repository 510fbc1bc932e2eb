package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultMeshBufferSize is the size of each of the two mesh arenas, 64 MiB.
	DefaultMeshBufferSize uint64 = 64 << 20
	// MaxFramesInFlight bounds the number of frame slots a device can track.
	MaxFramesInFlight uint32 = 3
)

type RenderSettings struct {
	// Number of frames the CPU may record ahead of the GPU.
	NumInFlightFrames uint32 `toml:"num_in_flight_frames"`
	// Enables the backend validation layers, if the backend has any.
	EnableDebugLayer bool `toml:"enable_debug_layer"`
	// Panic instead of only returning an error when a command list is misused.
	PanicOnOrderingViolation bool `toml:"panic_on_ordering_violation"`
	// Width and height of the backbuffer framebuffer.
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type MeshStoreSettings struct {
	VertexBufferSize uint64 `toml:"vertex_buffer_size"`
	IndexBufferSize  uint64 `toml:"index_buffer_size"`
}

type LogSettings struct {
	Level string `toml:"level"`
}

type ShaderSettings struct {
	// Directory holding precompiled shader bytecode.
	Directory string `toml:"directory"`
	// Watch the directory and reload blobs when they change.
	HotReload bool `toml:"hot_reload"`
}

type JobSettings struct {
	// Worker goroutines used for parallel command recording.
	Workers int `toml:"workers"`
	// Tasks that can be queued before Submit blocks.
	QueueSize int `toml:"queue_size"`
}

type Settings struct {
	ApplicationName string            `toml:"application_name"`
	Render          RenderSettings    `toml:"render"`
	MeshStore       MeshStoreSettings `toml:"mesh_store"`
	Log             LogSettings       `toml:"log"`
	Shaders         ShaderSettings    `toml:"shaders"`
	Jobs            JobSettings       `toml:"jobs"`
}

func DefaultSettings() *Settings {
	return &Settings{
		ApplicationName: "Sanity",
		Render: RenderSettings{
			NumInFlightFrames: MaxFramesInFlight,
			EnableDebugLayer:  true,
			Width:             1280,
			Height:            720,
		},
		MeshStore: MeshStoreSettings{
			VertexBufferSize: DefaultMeshBufferSize,
			IndexBufferSize:  DefaultMeshBufferSize,
		},
		Log: LogSettings{
			Level: "debug",
		},
		Shaders: ShaderSettings{
			Directory: "assets/shaders",
		},
		Jobs: JobSettings{
			Workers:   4,
			QueueSize: 64,
		},
	}
}

// LoadSettings reads a TOML file on top of DefaultSettings, so a file only
// needs to carry the values it overrides.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSettings(data)
}

func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: malformed settings: %s", ErrConfiguration, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.Render.NumInFlightFrames == 0 || s.Render.NumInFlightFrames > MaxFramesInFlight {
		return fmt.Errorf("%w: num_in_flight_frames must be in [1, %d], got %d", ErrConfiguration, MaxFramesInFlight, s.Render.NumInFlightFrames)
	}
	if s.MeshStore.VertexBufferSize == 0 || s.MeshStore.IndexBufferSize == 0 {
		return fmt.Errorf("%w: mesh store buffers must not be empty", ErrConfiguration)
	}
	if s.Render.Width == 0 || s.Render.Height == 0 {
		return fmt.Errorf("%w: backbuffer size must be non-zero, got %dx%d", ErrConfiguration, s.Render.Width, s.Render.Height)
	}
	if s.Jobs.Workers <= 0 || s.Jobs.QueueSize < 0 {
		return fmt.Errorf("%w: jobs need at least one worker and a non-negative queue, got %d/%d", ErrConfiguration, s.Jobs.Workers, s.Jobs.QueueSize)
	}
	return nil
}

func (s *Settings) Encode() ([]byte, error) {
	return toml.Marshal(s)
}
