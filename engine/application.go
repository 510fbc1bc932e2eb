package engine

type ApplicationConfig struct {
	// The application name used in logs and by the graphics driver.
	Name string
	// TOML settings file. Empty means the built-in defaults.
	SettingsPath string
	// Number of frames to draw before Run returns. Zero runs until Quit.
	MaxFrames uint64
	// Render on the in-memory backend instead of Vulkan.
	Headless bool
}
