package headless

import (
	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

// memory backs both buffers and images: the GPU of this backend is plain
// CPU memory.
type memory struct {
	name string
	data []byte
}

type pipeline struct {
	name    string
	compute bool
	layout  *rhi.BindingLayout
}

type bindGroup struct {
	layout   *rhi.BindingLayout
	bindings []rhi.ResolvedBinding
}

type framebuffer struct {
	targets []*memory
	depth   *memory
}

// Command is one operation the headless GPU executed, in execution order.
type Command struct {
	Op   string
	Slot uint32

	Pipeline string
	Size     uint64
	Offset   uint64

	X, Y, Z uint32

	NumIndices   uint32
	FirstIndex   uint32
	BaseVertex   int32
	NumInstances uint32
}

func nativeMemory(n interface{}) *memory {
	m, _ := n.(*memory)
	return m
}
