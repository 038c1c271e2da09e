package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Filter is one parsed entry of an image filter chain such as
// "agg-stack-blur(2,2)".
type Filter struct {
	Name string
	Args []string

	// premultiplied filters work on premultiplied pixels, the rest on
	// straight color
	premultiplied bool
	apply         func(c *Canvas)
}

// Filters is an ordered filter chain.
type Filters []Filter

func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	return f.Name + "(" + strings.Join(f.Args, ",") + ")"
}

func (fs Filters) String() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return strings.Join(parts, " ")
}

type filterBuilder func(args []string) (fn func(c *Canvas), premultiplied bool, err error)

var filterBuilders = map[string]filterBuilder{
	"invert":                  noArgs(invertColors, false),
	"gray":                    noArgs(grayscale, false),
	"blur":                    noArgs(kernelFilter([9]float64{1, 1, 1, 1, 1, 1, 1, 1, 1}, 1.0/9, 0, true), true),
	"sharpen":                 noArgs(kernelFilter([9]float64{0, -1, 0, -1, 5, -1, 0, -1, 0}, 1, 0, false), true),
	"emboss":                  noArgs(kernelFilter([9]float64{-2, -1, 0, -1, 1, 1, 0, 1, 2}, 1, 0, false), true),
	"edge-detect":             noArgs(kernelFilter([9]float64{0, 1, 0, 1, -4, 1, 0, 1, 0}, 1, 0, false), true),
	"x-gradient":              noArgs(kernelFilter([9]float64{0, 0, 0, -1, 0, 1, 0, 0, 0}, 0.5, 128, false), true),
	"y-gradient":              noArgs(kernelFilter([9]float64{0, -1, 0, 0, 0, 0, 0, 1, 0}, 0.5, 128, false), true),
	"sobel":                   noArgs(sobel, true),
	"color-blind-protanope":   noArgs(colorMatrix([9]float64{0.567, 0.433, 0, 0.558, 0.442, 0, 0, 0.242, 0.758}), false),
	"color-blind-deuteranope": noArgs(colorMatrix([9]float64{0.625, 0.375, 0, 0.7, 0.3, 0, 0, 0.3, 0.7}), false),
	"color-blind-tritanope":   noArgs(colorMatrix([9]float64{0.95, 0.05, 0, 0, 0.433, 0.567, 0, 0.475, 0.525}), false),
	"agg-stack-blur":          buildStackBlur,
	"color-to-alpha":          buildColorToAlpha,
	"colorize-alpha":          buildColorizeAlpha,
	"scale-hsla":              buildScaleHSLA,
}

// ParseFilters parses a filter chain. Entries are separated by whitespace or
// commas outside parentheses. An empty string yields an empty chain.
func ParseFilters(s string) (Filters, error) {
	var chain Filters
	for _, token := range splitTopLevel(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		name, args, err := parseCall(token)
		if err != nil {
			return nil, err
		}
		build, ok := filterBuilders[name]
		if !ok {
			return nil, fmt.Errorf("unknown image filter %q", name)
		}
		fn, premultiplied, err := build(args)
		if err != nil {
			return nil, fmt.Errorf("image filter %s: %w", name, err)
		}
		chain = append(chain, Filter{Name: name, Args: args, premultiplied: premultiplied, apply: fn})
	}
	return chain, nil
}

// ApplyFilters runs chain over a premultiplied canvas in order. The canvas
// is converted to straight alpha around filters that need it and is
// premultiplied again on return.
func (c *Canvas) ApplyFilters(chain Filters) error {
	if !c.premultiplied {
		return fmt.Errorf("filters: %w: canvas must be premultiplied", ErrAlphaState)
	}
	for _, f := range chain {
		if f.premultiplied != c.premultiplied {
			var err error
			if f.premultiplied {
				err = c.Premultiply()
			} else {
				err = c.Demultiply()
			}
			if err != nil {
				return err
			}
		}
		f.apply(c)
	}
	if !c.premultiplied {
		return c.Premultiply()
	}
	return nil
}

// splitTopLevel splits s at runes matching sep that are not nested inside
// parentheses, dropping empty parts.
func splitTopLevel(s string, sep func(rune) bool) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')':
			depth--
		case depth == 0 && sep(r):
			if part := strings.TrimSpace(s[start:i]); part != "" {
				parts = append(parts, part)
			}
			start = i + 1
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		parts = append(parts, part)
	}
	return parts
}

// parseCall splits "name(a,b)" into its name and arguments.
func parseCall(token string) (string, []string, error) {
	open := strings.IndexByte(token, '(')
	if open < 0 {
		return strings.ToLower(token), nil, nil
	}
	if !strings.HasSuffix(token, ")") {
		return "", nil, fmt.Errorf("unbalanced parentheses in %q", token)
	}
	name := strings.ToLower(strings.TrimSpace(token[:open]))
	args := splitTopLevel(token[open+1:len(token)-1], func(r rune) bool { return r == ',' })
	return name, args, nil
}

func noArgs(fn func(c *Canvas), premultiplied bool) filterBuilder {
	return func(args []string) (func(c *Canvas), bool, error) {
		if len(args) != 0 {
			return nil, false, fmt.Errorf("takes no arguments")
		}
		return fn, premultiplied, nil
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func invertColors(c *Canvas) {
	for i := 0; i < len(c.Pix); i += 4 {
		c.Pix[i] = 255 - c.Pix[i]
		c.Pix[i+1] = 255 - c.Pix[i+1]
		c.Pix[i+2] = 255 - c.Pix[i+2]
	}
}

func grayscale(c *Canvas) {
	for i := 0; i < len(c.Pix); i += 4 {
		l := 0.299*float64(c.Pix[i]) + 0.587*float64(c.Pix[i+1]) + 0.114*float64(c.Pix[i+2])
		v := uint8(math.Round(math.Min(l, 255)))
		c.Pix[i], c.Pix[i+1], c.Pix[i+2] = v, v, v
	}
}

func colorMatrix(m [9]float64) func(c *Canvas) {
	return func(c *Canvas) {
		for i := 0; i < len(c.Pix); i += 4 {
			r, g, b := float64(c.Pix[i]), float64(c.Pix[i+1]), float64(c.Pix[i+2])
			c.Pix[i] = clampByte(m[0]*r + m[1]*g + m[2]*b)
			c.Pix[i+1] = clampByte(m[3]*r + m[4]*g + m[5]*b)
			c.Pix[i+2] = clampByte(m[6]*r + m[7]*g + m[8]*b)
		}
	}
}

// kernelFilter convolves a 3x3 kernel over premultiplied pixels with
// clamped edges. When withAlpha is false the alpha channel is kept and
// color is limited to alpha.
func kernelFilter(k [9]float64, scale, bias float64, withAlpha bool) func(c *Canvas) {
	return func(c *Canvas) {
		src := c.Clone()
		channels := 3
		if withAlpha {
			channels = 4
		}
		for y := 0; y < c.Height; y++ {
			for x := 0; x < c.Width; x++ {
				di := (y*c.Width + x) * 4
				for ch := 0; ch < channels; ch++ {
					var sum float64
					for ky := -1; ky <= 1; ky++ {
						for kx := -1; kx <= 1; kx++ {
							sum += k[(ky+1)*3+kx+1] * float64(src.at(x+kx, y+ky, ch))
						}
					}
					c.Pix[di+ch] = clampByte(sum*scale + bias)
				}
				if !withAlpha {
					limitToAlpha(c.Pix[di : di+4])
				}
			}
		}
	}
}

func sobel(c *Canvas) {
	src := c.Clone()
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			di := (y*c.Width + x) * 4
			for ch := 0; ch < 3; ch++ {
				gx := -float64(src.at(x-1, y-1, ch)) - 2*float64(src.at(x-1, y, ch)) - float64(src.at(x-1, y+1, ch)) +
					float64(src.at(x+1, y-1, ch)) + 2*float64(src.at(x+1, y, ch)) + float64(src.at(x+1, y+1, ch))
				gy := -float64(src.at(x-1, y-1, ch)) - 2*float64(src.at(x, y-1, ch)) - float64(src.at(x+1, y-1, ch)) +
					float64(src.at(x-1, y+1, ch)) + 2*float64(src.at(x, y+1, ch)) + float64(src.at(x+1, y+1, ch))
				c.Pix[di+ch] = clampByte(math.Sqrt(gx*gx + gy*gy))
			}
			limitToAlpha(c.Pix[di : di+4])
		}
	}
}

func buildStackBlur(args []string) (func(c *Canvas), bool, error) {
	radii := []float64{1, 1}
	if len(args) > 0 {
		v, err := parseFloats(args)
		if err != nil {
			return nil, false, err
		}
		if len(v) > 2 {
			return nil, false, fmt.Errorf("expects at most 2 radii")
		}
		radii[0], radii[1] = v[0], v[0]
		if len(v) == 2 {
			radii[1] = v[1]
		}
	}
	rx, ry := int(radii[0]), int(radii[1])
	if rx < 0 || ry < 0 {
		return nil, false, fmt.Errorf("radii must not be negative")
	}

	// two box passes approximate the triangular stack blur kernel
	return func(c *Canvas) {
		for pass := 0; pass < 2; pass++ {
			boxBlur(c, (rx+1)/2, true)
			boxBlur(c, (ry+1)/2, false)
		}
	}, true, nil
}

// boxBlur averages all four channels over a window of 2r+1 pixels along one
// axis using a running sum.
func boxBlur(c *Canvas, r int, horizontal bool) {
	if r <= 0 {
		return
	}
	src := c.Clone()
	lines, length := c.Height, c.Width
	if !horizontal {
		lines, length = c.Width, c.Height
	}
	window := float64(2*r + 1)

	for line := 0; line < lines; line++ {
		pos := func(i int) (int, int) {
			if horizontal {
				return i, line
			}
			return line, i
		}
		for ch := 0; ch < 4; ch++ {
			var sum float64
			for i := -r; i <= r; i++ {
				x, y := pos(i)
				sum += float64(src.at(x, y, ch))
			}
			for i := 0; i < length; i++ {
				x, y := pos(i)
				c.Pix[(y*c.Width+x)*4+ch] = clampByte(sum / window)

				ox, oy := pos(i - r)
				nx, ny := pos(i + r + 1)
				sum += float64(src.at(nx, ny, ch)) - float64(src.at(ox, oy, ch))
			}
		}
	}
}

func buildColorToAlpha(args []string) (func(c *Canvas), bool, error) {
	if len(args) != 1 {
		return nil, false, fmt.Errorf("expects exactly one color")
	}
	ref, err := ParseColor(args[0])
	if err != nil {
		return nil, false, err
	}
	refs := [3]float64{float64(ref.R) / 255, float64(ref.G) / 255, float64(ref.B) / 255}

	return func(c *Canvas) {
		for i := 0; i < len(c.Pix); i += 4 {
			var col [3]float64
			alpha := 0.0
			for k := 0; k < 3; k++ {
				col[k] = float64(c.Pix[i+k]) / 255
				var a float64
				switch {
				case col[k] > refs[k]:
					a = (col[k] - refs[k]) / (1 - refs[k])
				case col[k] < refs[k]:
					a = (refs[k] - col[k]) / refs[k]
				}
				alpha = math.Max(alpha, a)
			}
			if alpha <= 0 {
				c.Pix[i], c.Pix[i+1], c.Pix[i+2], c.Pix[i+3] = 0, 0, 0, 0
				continue
			}
			for k := 0; k < 3; k++ {
				c.Pix[i+k] = clampByte(((col[k]-refs[k])/alpha + refs[k]) * 255)
			}
			c.Pix[i+3] = clampByte(float64(c.Pix[i+3]) * alpha)
		}
	}, false, nil
}

func buildColorizeAlpha(args []string) (func(c *Canvas), bool, error) {
	if len(args) == 0 {
		return nil, false, fmt.Errorf("expects at least one color")
	}
	stops := make([][3]float64, len(args))
	for i, a := range args {
		col, err := ParseColor(a)
		if err != nil {
			return nil, false, err
		}
		stops[i] = [3]float64{float64(col.R), float64(col.G), float64(col.B)}
	}

	return func(c *Canvas) {
		for i := 0; i < len(c.Pix); i += 4 {
			if c.Pix[i+3] == 0 {
				continue
			}
			t := float64(c.Pix[i+3]) / 255 * float64(len(stops)-1)
			lo := int(math.Floor(t))
			hi := min(lo+1, len(stops)-1)
			f := t - float64(lo)
			for k := 0; k < 3; k++ {
				c.Pix[i+k] = clampByte(stops[lo][k]*(1-f) + stops[hi][k]*f)
			}
		}
	}, false, nil
}

func buildScaleHSLA(args []string) (func(c *Canvas), bool, error) {
	if len(args) != 8 {
		return nil, false, fmt.Errorf("expects 8 values")
	}
	v, err := parseFloats(args)
	if err != nil {
		return nil, false, err
	}

	return func(c *Canvas) {
		for i := 0; i < len(c.Pix); i += 4 {
			h, s, l := rgbToHSL(float64(c.Pix[i])/255, float64(c.Pix[i+1])/255, float64(c.Pix[i+2])/255)
			a := float64(c.Pix[i+3]) / 255

			h = clamp01(v[0] + h*(v[1]-v[0]))
			s = clamp01(v[2] + s*(v[3]-v[2]))
			l = clamp01(v[4] + l*(v[5]-v[4]))
			a = clamp01(v[6] + a*(v[7]-v[6]))

			r, g, b := hslToRGB(h, s, l)
			c.Pix[i], c.Pix[i+1], c.Pix[i+2] = toByte(r), toByte(g), toByte(b)
			c.Pix[i+3] = toByte(a)
		}
	}, false, nil
}

// at returns one channel of the pixel at (x, y), clamping to the edges.
func (c *Canvas) at(x, y, ch int) uint8 {
	x = max(0, min(x, c.Width-1))
	y = max(0, min(y, c.Height-1))
	return c.Pix[(y*c.Width+x)*4+ch]
}

func limitToAlpha(p []uint8) {
	for k := 0; k < 3; k++ {
		p[k] = min(p[k], p[3])
	}
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

func rgbToHSL(r, g, b float64) (h, s, l float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	l = (maxC + minC) / 2
	if maxC == minC {
		return 0, 0, l
	}
	d := maxC - minC
	if l > 0.5 {
		s = d / (2 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}
	switch maxC {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h / 6, s, l
}

func hslToRGB(h, s, l float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return hueToRGB(p, q, h+1.0/3), hueToRGB(p, q, h), hueToRGB(p, q, h-1.0/3)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
