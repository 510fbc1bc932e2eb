package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderPassClosesAroundTransfers(t *testing.T) {
	var pass renderPassState

	// uploads before any framebuffer never touch a pass
	assert.False(t, pass.leave())
	assert.False(t, pass.enter(), "no framebuffer to draw into yet")

	// SetFramebuffer
	assert.False(t, pass.leave())
	pass.framebuffer = &VulkanFramebuffer{Width: 4, Height: 4}
	assert.True(t, pass.enter())

	// a mesh upload recorded between draws ends the pass once
	assert.True(t, pass.leave())
	assert.False(t, pass.leave())

	// the next draw reopens it on the same framebuffer, later draws reuse it
	assert.True(t, pass.enter())
	assert.False(t, pass.enter())

	// a dispatch closes it again and End finds nothing open
	assert.True(t, pass.leave())
	assert.False(t, pass.leave())
}
