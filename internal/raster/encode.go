package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sort"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Format is a parsed output format such as "png8:c=64:z=9" or "jpeg80".
type Format struct {
	Name string
	Type Type

	// Colors is the palette size of paletted formats.
	Colors int
	// Opaque drops the alpha channel.
	Opaque bool
	// Quality applies to jpeg.
	Quality int
	// PNGCompression applies to png and png8.
	PNGCompression png.CompressionLevel
	// TIFFCompression applies to tiff.
	TIFFCompression tiff.CompressionType
}

// ParseFormat parses an output format name with optional colon separated
// key=value options.
func ParseFormat(s string) (Format, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), ":")
	name := parts[0]

	var f Format
	switch {
	case name == "png" || name == "png32":
		f = Format{Name: "png", Type: TypePNG}
	case name == "png24":
		f = Format{Name: "png24", Type: TypePNG, Opaque: true}
	case name == "png8" || name == "png256":
		f = Format{Name: "png8", Type: TypePNG, Colors: 256}
	case name == "jpeg" || name == "jpg":
		f = Format{Name: "jpeg", Type: TypeJPEG, Quality: 85}
	case strings.HasPrefix(name, "jpeg"):
		q, err := strconv.Atoi(strings.TrimPrefix(name, "jpeg"))
		if err != nil || q < 1 || q > 100 {
			return Format{}, fmt.Errorf("unknown format %q", s)
		}
		f = Format{Name: "jpeg", Type: TypeJPEG, Quality: q}
	case name == "gif":
		f = Format{Name: "gif", Type: TypeGIF, Colors: 256}
	case name == "tiff" || name == "tif":
		f = Format{Name: "tiff", Type: TypeTIFF, TIFFCompression: tiff.Deflate}
	case name == "webp":
		return Format{}, fmt.Errorf("format %q: webp encoding is not supported", s)
	default:
		return Format{}, fmt.Errorf("unknown format %q", s)
	}

	for _, opt := range parts[1:] {
		key, value, ok := strings.Cut(opt, "=")
		if !ok {
			return Format{}, fmt.Errorf("format %q: malformed option %q", s, opt)
		}
		if err := f.setOption(key, value); err != nil {
			return Format{}, fmt.Errorf("format %q: %w", s, err)
		}
	}
	return f, nil
}

func (f *Format) setOption(key, value string) error {
	switch {
	case key == "z" && f.Type == TypePNG:
		z, err := strconv.Atoi(value)
		if err != nil || z < 0 || z > 9 {
			return fmt.Errorf("z must be 0..9")
		}
		f.PNGCompression = pngLevel(z)
	case key == "c" && f.Colors > 0:
		c, err := strconv.Atoi(value)
		if err != nil || c < 2 || c > 256 {
			return fmt.Errorf("c must be 2..256")
		}
		f.Colors = c
	case key == "quality" && f.Type == TypeJPEG:
		q, err := strconv.Atoi(value)
		if err != nil || q < 1 || q > 100 {
			return fmt.Errorf("quality must be 1..100")
		}
		f.Quality = q
	case key == "compression" && f.Type == TypeTIFF:
		switch value {
		case "deflate":
			f.TIFFCompression = tiff.Deflate
		case "none":
			f.TIFFCompression = tiff.Uncompressed
		default:
			return fmt.Errorf("compression must be deflate or none")
		}
	default:
		return fmt.Errorf("unsupported option %q", key)
	}
	return nil
}

func pngLevel(z int) png.CompressionLevel {
	switch {
	case z == 0:
		return png.NoCompression
	case z <= 3:
		return png.BestSpeed
	case z <= 6:
		return png.DefaultCompression
	}
	return png.BestCompression
}

// ContentType returns the MIME type of encoded output.
func (f Format) ContentType() string {
	return f.Type.ContentType()
}

// Ext returns the file extension of encoded output, without the dot.
func (f Format) Ext() string {
	return string(f.Type)
}

// Encode encodes a straight-alpha canvas.
func Encode(c *Canvas, f Format) ([]byte, error) {
	img, err := c.NRGBA()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	var buf bytes.Buffer
	switch f.Type {
	case TypePNG:
		enc := png.Encoder{CompressionLevel: f.PNGCompression}
		var m image.Image = img
		switch {
		case f.Colors > 0:
			m = quantize(img, f.Colors)
		case f.Opaque:
			m = flatten(img)
		}
		err = enc.Encode(&buf, m)
	case TypeJPEG:
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: f.Quality})
	case TypeGIF:
		err = gif.Encode(&buf, img, &gif.Options{NumColors: f.Colors, Drawer: xdraw.FloydSteinberg})
	case TypeTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: f.TIFFCompression})
	default:
		err = fmt.Errorf("unsupported output type %q", f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// flatten drops alpha, keeping straight color.
func flatten(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out
}

// quantize maps img onto a palette of at most colors entries. Images with
// few enough distinct colors keep them exactly; others get a median-cut
// palette over RGBA so translucent pixels keep their alpha.
func quantize(img *image.NRGBA, colors int) *image.Paletted {
	hist := histogram(img)
	if len(hist) <= colors {
		p := make(color.Palette, len(hist))
		for i, e := range hist {
			p[i] = e.c
		}
		out := image.NewPaletted(img.Rect, p)
		xdraw.Draw(out, img.Rect, img, img.Rect.Min, xdraw.Src)
		return out
	}

	out := image.NewPaletted(img.Rect, medianCut(hist, colors))
	xdraw.FloydSteinberg.Draw(out, img.Rect, img, img.Rect.Min)
	return out
}

type colorCount struct {
	c color.NRGBA
	n int
}

// histogram counts the distinct colors of img, most frequent first. All
// fully transparent pixels count as one color.
func histogram(img *image.NRGBA) []colorCount {
	counts := make(map[color.NRGBA]int)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		c := color.NRGBA{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
		if c.A == 0 {
			c = color.NRGBA{}
		}
		counts[c]++
	}

	hist := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		hist = append(hist, colorCount{c: c, n: n})
	}
	sort.Slice(hist, func(i, j int) bool {
		if hist[i].n != hist[j].n {
			return hist[i].n > hist[j].n
		}
		return packRGBA(hist[i].c) < packRGBA(hist[j].c)
	})
	return hist
}

func packRGBA(c color.NRGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

func channel(c color.NRGBA, ch int) uint8 {
	switch ch {
	case 0:
		return c.R
	case 1:
		return c.G
	case 2:
		return c.B
	}
	return c.A
}

// widest returns the channel with the largest value range in box.
func widest(box []colorCount) (ch int, width int) {
	width = -1
	for k := 0; k < 4; k++ {
		lo, hi := 255, 0
		for _, e := range box {
			v := int(channel(e.c, k))
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi-lo > width {
			ch, width = k, hi-lo
		}
	}
	return ch, width
}

// medianCut splits the color histogram into colors boxes along their widest
// RGBA channel and returns the weighted mean of each box.
func medianCut(hist []colorCount, colors int) color.Palette {
	boxes := [][]colorCount{hist}
	for len(boxes) < colors {
		best, bestCh, bestWidth := -1, 0, 0
		for i, box := range boxes {
			if len(box) < 2 {
				continue
			}
			if ch, w := widest(box); w > bestWidth {
				best, bestCh, bestWidth = i, ch, w
			}
		}
		if best < 0 {
			break
		}

		box := boxes[best]
		sort.Slice(box, func(i, j int) bool {
			return channel(box[i].c, bestCh) < channel(box[j].c, bestCh)
		})
		total := 0
		for _, e := range box {
			total += e.n
		}
		cut, acc := 1, 0
		for i, e := range box {
			acc += e.n
			if acc*2 >= total {
				cut = i + 1
				break
			}
		}
		cut = max(1, min(cut, len(box)-1))
		boxes[best] = box[:cut]
		boxes = append(boxes, box[cut:])
	}

	p := make(color.Palette, 0, len(boxes))
	for _, box := range boxes {
		p = append(p, mean(box))
	}
	return p
}

func mean(box []colorCount) color.NRGBA {
	var r, g, b, a, n int
	for _, e := range box {
		r += int(e.c.R) * e.n
		g += int(e.c.G) * e.n
		b += int(e.c.B) * e.n
		a += int(e.c.A) * e.n
		n += e.n
	}
	return color.NRGBA{uint8(r / n), uint8(g / n), uint8(b / n), uint8(a / n)}
}
