package headless

import (
	"fmt"

	"github.com/spaghettifunk/sanity/engine/renderer/rhi"
)

type encoderState uint8

const (
	encoderRecording encoderState = iota
	encoderEnded
	encoderSubmitted
	encoderExecuted
)

// Encoder records closures that run against CPU memory once the fence value
// covering them completes.
type Encoder struct {
	slot  uint32
	state encoderState
	ops   []func() Command
}

var _ rhi.CommandEncoder = (*Encoder)(nil)

func (e *Encoder) record(op func() Command) {
	e.ops = append(e.ops, op)
}

func (e *Encoder) CopyBuffer(src *rhi.Buffer, srcOffset uint64, dst *rhi.Buffer, dstOffset uint64, size uint64) {
	from, to := nativeMemory(src.Native), nativeMemory(dst.Native)
	e.record(func() Command {
		copy(to.data[dstOffset:dstOffset+size], from.data[srcOffset:srcOffset+size])
		return Command{Op: "CopyBuffer", Size: size, Offset: dstOffset}
	})
}

func (e *Encoder) CopyBufferToImage(src *rhi.Buffer, dst *rhi.Image) {
	from, to := nativeMemory(src.Native), nativeMemory(dst.Native)
	e.record(func() Command {
		n := copy(to.data, from.data)
		return Command{Op: "CopyBufferToImage", Size: uint64(n)}
	})
}

func (e *Encoder) SetComputePipeline(p *rhi.ComputePipelineState) {
	name := p.Name
	e.record(func() Command { return Command{Op: "SetComputePipeline", Pipeline: name} })
}

func (e *Encoder) BindComputeResources(p *rhi.ComputePipelineState, _ *rhi.BindGroup) {
	name := p.Name
	e.record(func() Command { return Command{Op: "BindComputeResources", Pipeline: name} })
}

func (e *Encoder) Dispatch(x, y, z uint32) {
	e.record(func() Command { return Command{Op: "Dispatch", X: x, Y: y, Z: z} })
}

func (e *Encoder) SetFramebuffer(fb *rhi.Framebuffer) {
	w, h := fb.Width, fb.Height
	e.record(func() Command { return Command{Op: "SetFramebuffer", X: w, Y: h} })
}

func (e *Encoder) SetRenderPipeline(p *rhi.RenderPipelineState) {
	name := p.Name
	e.record(func() Command { return Command{Op: "SetRenderPipeline", Pipeline: name} })
}

func (e *Encoder) BindRenderResources(p *rhi.RenderPipelineState, _ *rhi.BindGroup) {
	name := p.Name
	e.record(func() Command { return Command{Op: "BindRenderResources", Pipeline: name} })
}

func (e *Encoder) BindMeshData(vertexBindings []rhi.VertexBufferBinding, indexBuffer *rhi.Buffer) {
	streams := uint32(len(vertexBindings))
	e.record(func() Command { return Command{Op: "BindMeshData", X: streams} })
}

func (e *Encoder) DrawIndexed(numIndices, firstIndex uint32, baseVertex int32, numInstances uint32) {
	e.record(func() Command {
		return Command{
			Op:           "DrawIndexed",
			NumIndices:   numIndices,
			FirstIndex:   firstIndex,
			BaseVertex:   baseVertex,
			NumInstances: numInstances,
		}
	})
}

func (e *Encoder) End() error {
	if e.state != encoderRecording {
		return fmt.Errorf("encoder ended twice")
	}
	e.state = encoderEnded
	return nil
}

func (e *Encoder) execute() []Command {
	out := make([]Command, 0, len(e.ops))
	for _, op := range e.ops {
		c := op()
		c.Slot = e.slot
		out = append(out, c)
	}
	e.ops = nil
	e.state = encoderExecuted
	return out
}
