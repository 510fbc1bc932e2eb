package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spaghettifunk/sanity/engine/core"
)

// Resource is one file read from disk.
type Resource struct {
	Name     string
	FullPath string
	DataSize uint64
	// Raw bytes for shaders, a decoded image.Image for textures.
	Data     interface{}
	LoadedAt time.Time
}

// ShaderExtension marks precompiled shader bytecode.
const ShaderExtension = ".spv"

type ShaderLoader struct{}

func (sl *ShaderLoader) Extensions() []string { return []string{ShaderExtension} }

// Load reads a bytecode blob. The blob is opaque here; backends validate it
// when a pipeline is created.
func (sl *ShaderLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: shader %s is empty", core.ErrConfiguration, path)
	}
	return &Resource{
		Name:     ShaderName(path),
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     data,
		LoadedAt: time.Now(),
	}, nil
}

// ShaderName strips the directory and the .spv suffix: "shaders/standard.vert.spv"
// becomes "standard.vert".
func ShaderName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ShaderExtension)
}
