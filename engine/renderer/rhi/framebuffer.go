package rhi

import "github.com/google/uuid"

// Framebuffer groups the render targets and optional depth target a render
// command list draws into.
type Framebuffer struct {
	ID            uuid.UUID
	RenderTargets []*Image
	DepthTarget   *Image
	Width         uint32
	Height        uint32
	Native        NativeFramebuffer

	owner     *RenderDevice
	destroyed bool
}

func validateFramebuffer(renderTargets []*Image, depthTarget *Image) (uint32, uint32, error) {
	if len(renderTargets) == 0 && depthTarget == nil {
		return 0, 0, configErrorf("framebuffer needs at least one attachment")
	}
	if len(renderTargets) > MaxRenderTargets {
		return 0, 0, configErrorf("framebuffer has %d render targets, at most %d are supported", len(renderTargets), MaxRenderTargets)
	}
	var width, height uint32
	check := func(img *Image) error {
		if img == nil || img.destroyed {
			return configErrorf("framebuffer attachment is nil or destroyed")
		}
		if width == 0 && height == 0 {
			width, height = img.Width, img.Height
			return nil
		}
		if img.Width != width || img.Height != height {
			return configErrorf("attachment %s is %dx%d, expected %dx%d", img.Name, img.Width, img.Height, width, height)
		}
		return nil
	}
	for _, rt := range renderTargets {
		if err := check(rt); err != nil {
			return 0, 0, err
		}
		if rt.Usage != RenderTarget || rt.Format.IsDepth() {
			return 0, 0, configErrorf("image %s cannot be used as a render target", rt.Name)
		}
	}
	if depthTarget != nil {
		if err := check(depthTarget); err != nil {
			return 0, 0, err
		}
		if depthTarget.Usage != DepthStencil || !depthTarget.Format.IsDepth() {
			return 0, 0, configErrorf("image %s cannot be used as a depth target", depthTarget.Name)
		}
	}
	return width, height, nil
}
