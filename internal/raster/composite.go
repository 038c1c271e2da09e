package raster

import (
	"fmt"
	"math"
)

// CompositeOptions controls how a layer canvas is blended onto a destination.
type CompositeOptions struct {
	Op      Op
	Opacity float64
	Dx, Dy  int
}

// CompositeOnto blends c onto dst in place. c is translated by (Dx, Dy)
// relative to dst's origin; only the overlapping region is touched. Both
// canvases must be premultiplied. Opacity scales the source and is not
// clamped; channel values are clamped when written back.
func (c *Canvas) CompositeOnto(dst *Canvas, opts CompositeOptions) error {
	if !c.premultiplied || !dst.premultiplied {
		return fmt.Errorf("composite: %w: both canvases must be premultiplied", ErrAlphaState)
	}

	startX := max(0, opts.Dx)
	startY := max(0, opts.Dy)
	endX := min(dst.Width, opts.Dx+c.Width)
	endY := min(dst.Height, opts.Dy+c.Height)
	if startX >= endX || startY >= endY {
		return nil
	}

	blend := opts.Op.fn()
	opacity := opts.Opacity

	for y := startY; y < endY; y++ {
		for x := startX; x < endX; x++ {
			si := ((y-opts.Dy)*c.Width + (x - opts.Dx)) * 4
			di := (y*dst.Width + x) * 4

			var s, d pixel
			for k := 0; k < 4; k++ {
				s[k] = float64(c.Pix[si+k]) / 255 * opacity
				d[k] = float64(dst.Pix[di+k]) / 255
			}

			out := blend(s, d)
			a := toByte(out[3])
			dst.Pix[di+3] = a
			for k := 0; k < 3; k++ {
				// premultiplied color can never exceed alpha
				dst.Pix[di+k] = min(toByte(out[k]), a)
			}
		}
	}
	return nil
}

func toByte(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}
