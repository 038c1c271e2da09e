package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Decode detects the image format from its signature and decodes it into a
// straight-alpha canvas at native resolution.
func Decode(data []byte) (*Canvas, error) {
	var (
		img image.Image
		err error
	)

	r := bytes.NewReader(data)
	switch t := Sniff(data); t {
	case TypePNG:
		img, err = png.Decode(r)
	case TypeJPEG:
		img, err = jpeg.Decode(r)
	case TypeGIF:
		img, err = gif.Decode(r)
	case TypeWebP:
		img, err = webp.Decode(r)
	case TypeTIFF:
		img, err = tiff.Decode(r)
	case TypeBMP:
		img, err = bmp.Decode(r)
	default:
		return nil, fmt.Errorf("unrecognized image format")
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", Sniff(data), err)
	}

	return FromImage(img), nil
}
