package rhi

import (
	"image"

	"golang.org/x/image/draw"
)

// PixelsFromImage converts any decoded image into tightly packed RGBA8 rows,
// the layout CreateImage and CopyDataToImage expect for the Rgba8 format.
func PixelsFromImage(src image.Image) []byte {
	b := src.Bounds()
	if rgba, ok := src.(*image.RGBA); ok && rgba.Stride == 4*b.Dx() && b.Min == (image.Point{}) {
		out := make([]byte, len(rgba.Pix))
		copy(out, rgba.Pix)
		return out
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst.Pix
}

// ImageCreateInfoFor describes a sampled Rgba8 image sized after src.
func ImageCreateInfoFor(name string, src image.Image) ImageCreateInfo {
	b := src.Bounds()
	return ImageCreateInfo{
		Name:   name,
		Usage:  SampledImage,
		Format: Rgba8,
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Depth:  1,
	}
}
