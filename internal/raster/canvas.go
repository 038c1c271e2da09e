// Package raster holds the pixel-level primitives used by the blend pipeline:
// canvases with an explicit alpha state, decoding, compositing operators,
// image filters and encoding.
package raster

import (
	"errors"
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// ErrAlphaState is returned when an operation is applied to a canvas whose
// alpha representation does not match what the operation requires.
var ErrAlphaState = errors.New("canvas alpha state mismatch")

// Canvas holds RGBA pixel data. Whether the color channels are scaled by
// alpha is tracked explicitly and only changes through Premultiply and
// Demultiply.
type Canvas struct {
	Pix    []uint8
	Width  int
	Height int

	premultiplied bool
}

// NewCanvas returns a fully transparent canvas. All channels are zero, so it
// is premultiplied already.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		Pix:           make([]uint8, width*height*4),
		Width:         width,
		Height:        height,
		premultiplied: true,
	}
}

// FromImage copies img into a straight-alpha canvas.
func FromImage(img image.Image) *Canvas {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)

	return &Canvas{
		Pix:    dst.Pix,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// Premultiplied reports the current alpha state.
func (c *Canvas) Premultiplied() bool {
	return c.premultiplied
}

// Bounds returns the canvas rectangle anchored at the origin.
func (c *Canvas) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.Width, c.Height)
}

// Clone returns a deep copy of c.
func (c *Canvas) Clone() *Canvas {
	pix := make([]uint8, len(c.Pix))
	copy(pix, c.Pix)
	return &Canvas{Pix: pix, Width: c.Width, Height: c.Height, premultiplied: c.premultiplied}
}

// Premultiply scales the color channels by alpha.
func (c *Canvas) Premultiply() error {
	if c.premultiplied {
		return fmt.Errorf("premultiply: %w: already premultiplied", ErrAlphaState)
	}
	for i := 0; i < len(c.Pix); i += 4 {
		a := c.Pix[i+3]
		if a == 255 {
			continue
		}
		c.Pix[i] = mulDiv255(c.Pix[i], a)
		c.Pix[i+1] = mulDiv255(c.Pix[i+1], a)
		c.Pix[i+2] = mulDiv255(c.Pix[i+2], a)
	}
	c.premultiplied = true
	return nil
}

// Demultiply divides the color channels by alpha.
func (c *Canvas) Demultiply() error {
	if !c.premultiplied {
		return fmt.Errorf("demultiply: %w: already straight", ErrAlphaState)
	}
	for i := 0; i < len(c.Pix); i += 4 {
		a := uint32(c.Pix[i+3])
		switch a {
		case 255:
			continue
		case 0:
			c.Pix[i], c.Pix[i+1], c.Pix[i+2] = 0, 0, 0
			continue
		}
		for j := 0; j < 3; j++ {
			v := (uint32(c.Pix[i+j])*255 + a/2) / a
			if v > 255 {
				v = 255
			}
			c.Pix[i+j] = uint8(v)
		}
	}
	c.premultiplied = false
	return nil
}

// NRGBA exposes a straight-alpha canvas as an image sharing the same pixels.
func (c *Canvas) NRGBA() (*image.NRGBA, error) {
	if c.premultiplied {
		return nil, fmt.Errorf("image view: %w: canvas is premultiplied", ErrAlphaState)
	}
	return &image.NRGBA{Pix: c.Pix, Stride: c.Width * 4, Rect: c.Bounds()}, nil
}

// mulDiv255 multiplies two byte values and divides by 255 with rounding.
func mulDiv255(a, b byte) byte {
	return byte((uint16(a)*uint16(b) + 127) / 255)
}
