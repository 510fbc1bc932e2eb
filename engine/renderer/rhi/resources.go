package rhi

import (
	"fmt"

	"github.com/google/uuid"
)

// BufferUsage lists all the possible ways one can use a buffer.
type BufferUsage uint8

const (
	// Host-visible, persistently mapped. Source of copy operations.
	StagingBuffer BufferUsage = iota
	IndexBuffer
	VertexBuffer
	// Host-visible, persistently mapped. Meant for small per-frame updates
	// written straight through the mapping.
	UniformBuffer
	StorageBuffer
	IndirectCommands
	// Vertex buffer that gets written to every frame.
	UiVertices
)

func (u BufferUsage) String() string {
	switch u {
	case StagingBuffer:
		return "StagingBuffer"
	case IndexBuffer:
		return "IndexBuffer"
	case VertexBuffer:
		return "VertexBuffer"
	case UniformBuffer:
		return "UniformBuffer"
	case StorageBuffer:
		return "StorageBuffer"
	case IndirectCommands:
		return "IndirectCommands"
	case UiVertices:
		return "UiVertices"
	}
	return fmt.Sprintf("BufferUsage(%d)", uint8(u))
}

// IsHostVisible reports whether buffers of this usage carry a CPU mapping.
func (u BufferUsage) IsHostVisible() bool {
	return u == StagingBuffer || u == UniformBuffer || u == UiVertices
}

type ImageUsage uint8

const (
	SampledImage ImageUsage = iota
	RenderTarget
	DepthStencil
	UnorderedAccess
)

func (u ImageUsage) String() string {
	switch u {
	case SampledImage:
		return "SampledImage"
	case RenderTarget:
		return "RenderTarget"
	case DepthStencil:
		return "DepthStencil"
	case UnorderedAccess:
		return "UnorderedAccess"
	}
	return fmt.Sprintf("ImageUsage(%d)", uint8(u))
}

type ImageFormat uint8

const (
	Rgba8 ImageFormat = iota
	R32F
	Rg16F
	Rgba32F
	Depth32
	Depth24Stencil8
)

func (f ImageFormat) String() string {
	switch f {
	case Rgba8:
		return "Rgba8"
	case R32F:
		return "R32F"
	case Rg16F:
		return "Rg16F"
	case Rgba32F:
		return "Rgba32F"
	case Depth32:
		return "Depth32"
	case Depth24Stencil8:
		return "Depth24Stencil8"
	}
	return fmt.Sprintf("ImageFormat(%d)", uint8(f))
}

func (f ImageFormat) BytesPerPixel() uint32 {
	switch f {
	case Rgba8, R32F, Rg16F, Depth32, Depth24Stencil8:
		return 4
	case Rgba32F:
		return 16
	}
	return 4
}

func (f ImageFormat) IsDepth() bool {
	return f == Depth32 || f == Depth24Stencil8
}

type BufferCreateInfo struct {
	Name  string
	Size  uint64
	Usage BufferUsage
}

type ImageCreateInfo struct {
	Name   string
	Usage  ImageUsage
	Format ImageFormat
	Width  uint32
	Height uint32
	Depth  uint32
}

func (info ImageCreateInfo) SizeInBytes() uint64 {
	depth := info.Depth
	if depth == 0 {
		depth = 1
	}
	return uint64(info.Width) * uint64(info.Height) * uint64(depth) * uint64(info.Format.BytesPerPixel())
}

// Opaque backend handles. Each backend type-asserts them back to its own types.
type (
	NativeBuffer      interface{}
	NativeImage       interface{}
	NativeFramebuffer interface{}
	NativePipeline    interface{}
	NativeBindGroup   interface{}
)

// Buffer is GPU-resident linear memory. It is owned by whoever created it
// (the device or a MeshDataStore) until it is scheduled for destruction.
type Buffer struct {
	ID     uuid.UUID
	Name   string
	Size   uint64
	Usage  BufferUsage
	Native NativeBuffer

	mapped    []byte
	owner     *RenderDevice
	destroyed bool
}

// Mapped returns the persistent CPU mapping of host-visible buffers, nil otherwise.
func (b *Buffer) Mapped() []byte {
	return b.mapped
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(%s, %s, %d bytes)", b.Name, b.Usage, b.Size)
}

// Image is GPU-resident texture memory.
type Image struct {
	ID     uuid.UUID
	Name   string
	Usage  ImageUsage
	Format ImageFormat
	Width  uint32
	Height uint32
	Depth  uint32
	Native NativeImage

	owner     *RenderDevice
	destroyed bool
}

func (img *Image) SizeInBytes() uint64 {
	return ImageCreateInfo{Width: img.Width, Height: img.Height, Depth: img.Depth, Format: img.Format}.SizeInBytes()
}

func (img *Image) String() string {
	return fmt.Sprintf("Image(%s, %s %dx%dx%d)", img.Name, img.Format, img.Width, img.Height, img.Depth)
}
