package raster

import (
	"math"
	"strings"
)

// Op is a named compositing operator.
type Op uint8

const (
	OpSrcOver Op = iota
	OpClear
	OpSrc
	OpDst
	OpDstOver
	OpSrcIn
	OpDstIn
	OpSrcOut
	OpDstOut
	OpSrcAtop
	OpDstAtop
	OpXor
	OpPlus
	OpMinus
	OpMultiply
	OpScreen
	OpOverlay
	OpDarken
	OpLighten
	OpColorDodge
	OpColorBurn
	OpHardLight
	OpSoftLight
	OpDifference
	OpExclusion
	OpContrast
	OpInvert
	OpInvertRGB
	OpGrainMerge
	OpGrainExtract
	OpHue
	OpSaturation
	OpColor
	OpValue
)

var opNames = map[string]Op{
	"src-over":      OpSrcOver,
	"over":          OpSrcOver,
	"clear":         OpClear,
	"src":           OpSrc,
	"dst":           OpDst,
	"dst-over":      OpDstOver,
	"src-in":        OpSrcIn,
	"dst-in":        OpDstIn,
	"src-out":       OpSrcOut,
	"dst-out":       OpDstOut,
	"src-atop":      OpSrcAtop,
	"dst-atop":      OpDstAtop,
	"xor":           OpXor,
	"plus":          OpPlus,
	"add":           OpPlus,
	"minus":         OpMinus,
	"multiply":      OpMultiply,
	"screen":        OpScreen,
	"overlay":       OpOverlay,
	"darken":        OpDarken,
	"lighten":       OpLighten,
	"color-dodge":   OpColorDodge,
	"color-burn":    OpColorBurn,
	"hard-light":    OpHardLight,
	"soft-light":    OpSoftLight,
	"difference":    OpDifference,
	"exclusion":     OpExclusion,
	"contrast":      OpContrast,
	"invert":        OpInvert,
	"invert-rgb":    OpInvertRGB,
	"grain-merge":   OpGrainMerge,
	"grain-extract": OpGrainExtract,
	"hue":           OpHue,
	"saturation":    OpSaturation,
	"color":         OpColor,
	"value":         OpValue,
	"luminosity":    OpValue,
}

// LookupOp resolves an operator name. Underscores, a "source-"/"destination-"
// spelling and case are normalized. Unknown and empty names resolve to
// source-over; ok reports whether the name was found.
func LookupOp(name string) (op Op, ok bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	n = strings.Replace(n, "source-", "src-", 1)
	n = strings.Replace(n, "destination-", "dst-", 1)
	if n == "source" {
		n = "src"
	} else if n == "destination" {
		n = "dst"
	}

	op, ok = opNames[n]
	if !ok {
		return OpSrcOver, false
	}
	return op, true
}

// String returns the canonical operator name.
func (op Op) String() string {
	for _, name := range []string{
		"src-over", "clear", "src", "dst", "dst-over", "src-in", "dst-in", "src-out",
		"dst-out", "src-atop", "dst-atop", "xor", "plus", "minus", "multiply", "screen",
		"overlay", "darken", "lighten", "color-dodge", "color-burn", "hard-light",
		"soft-light", "difference", "exclusion", "contrast", "invert", "invert-rgb",
		"grain-merge", "grain-extract", "hue", "saturation", "color", "value",
	} {
		if opNames[name] == op {
			return name
		}
	}
	return "src-over"
}

// pixel is a premultiplied RGBA value with channels in [0, 1].
type pixel [4]float64

type compFunc func(s, d pixel) pixel

func (op Op) fn() compFunc {
	switch op {
	case OpClear:
		return func(s, d pixel) pixel { return pixel{} }
	case OpSrc:
		return func(s, d pixel) pixel { return s }
	case OpDst:
		return func(s, d pixel) pixel { return d }
	case OpDstOver:
		return porterDuff(func(s, d, sa, da float64) float64 { return s*(1-da) + d })
	case OpSrcIn:
		return porterDuff(func(s, d, sa, da float64) float64 { return s * da })
	case OpDstIn:
		return porterDuff(func(s, d, sa, da float64) float64 { return d * sa })
	case OpSrcOut:
		return porterDuff(func(s, d, sa, da float64) float64 { return s * (1 - da) })
	case OpDstOut:
		return porterDuff(func(s, d, sa, da float64) float64 { return d * (1 - sa) })
	case OpSrcAtop:
		return func(s, d pixel) pixel {
			sa, da := s[3], d[3]
			var p pixel
			for i := 0; i < 3; i++ {
				p[i] = s[i]*da + d[i]*(1-sa)
			}
			p[3] = da
			return p
		}
	case OpDstAtop:
		return func(s, d pixel) pixel {
			sa, da := s[3], d[3]
			var p pixel
			for i := 0; i < 3; i++ {
				p[i] = s[i]*(1-da) + d[i]*sa
			}
			p[3] = sa
			return p
		}
	case OpXor:
		return porterDuff(func(s, d, sa, da float64) float64 { return s*(1-da) + d*(1-sa) })
	case OpPlus:
		return porterDuff(func(s, d, sa, da float64) float64 { return math.Min(s+d, 1) })
	case OpMinus:
		return func(s, d pixel) pixel {
			var p pixel
			for i := 0; i < 3; i++ {
				p[i] = math.Max(d[i]-s[i], 0)
			}
			p[3] = s[3] + d[3] - s[3]*d[3]
			return p
		}
	case OpMultiply:
		return separable(func(cs, cd float64) float64 { return cs * cd })
	case OpScreen:
		return separable(screen)
	case OpOverlay:
		return separable(func(cs, cd float64) float64 { return hardLight(cd, cs) })
	case OpDarken:
		return separable(math.Min)
	case OpLighten:
		return separable(math.Max)
	case OpColorDodge:
		return separable(colorDodge)
	case OpColorBurn:
		return separable(colorBurn)
	case OpHardLight:
		return separable(hardLight)
	case OpSoftLight:
		return separable(softLight)
	case OpDifference:
		return separable(func(cs, cd float64) float64 { return math.Abs(cs - cd) })
	case OpExclusion:
		return separable(func(cs, cd float64) float64 { return cs + cd - 2*cs*cd })
	case OpContrast:
		return separable(func(cs, cd float64) float64 { return clamp01((cd-0.5)*2*cs + 0.5) })
	case OpGrainMerge:
		return separable(func(cs, cd float64) float64 { return clamp01(cs + cd - 0.5) })
	case OpGrainExtract:
		return separable(func(cs, cd float64) float64 { return clamp01(cd - cs + 0.5) })
	case OpInvert:
		return func(s, d pixel) pixel {
			sa, da := s[3], d[3]
			var p pixel
			for i := 0; i < 3; i++ {
				p[i] = (da-d[i])*sa + d[i]*(1-sa)
			}
			p[3] = sa + da - sa*da
			return p
		}
	case OpInvertRGB:
		return func(s, d pixel) pixel {
			sa, da := s[3], d[3]
			var p pixel
			for i := 0; i < 3; i++ {
				p[i] = (da-d[i])*s[i] + d[i]*(1-sa)
			}
			p[3] = sa + da - sa*da
			return p
		}
	case OpHue:
		return nonSeparable(func(cs, cd [3]float64) [3]float64 { return setLum(setSat(cs, sat(cd)), lum(cd)) })
	case OpSaturation:
		return nonSeparable(func(cs, cd [3]float64) [3]float64 { return setLum(setSat(cd, sat(cs)), lum(cd)) })
	case OpColor:
		return nonSeparable(func(cs, cd [3]float64) [3]float64 { return setLum(cs, lum(cd)) })
	case OpValue:
		return nonSeparable(func(cs, cd [3]float64) [3]float64 { return setLum(cd, lum(cs)) })
	}

	// S + D*(1-Sa)
	return porterDuff(func(s, d, sa, da float64) float64 { return s + d*(1-sa) })
}

// porterDuff applies the same formula to the color and alpha channels.
func porterDuff(f func(s, d, sa, da float64) float64) compFunc {
	return func(s, d pixel) pixel {
		sa, da := s[3], d[3]
		return pixel{f(s[0], d[0], sa, da), f(s[1], d[1], sa, da), f(s[2], d[2], sa, da), f(sa, da, sa, da)}
	}
}

// separable lifts a straight-alpha blend function B(cs, cd) to premultiplied
// compositing: co = cs*(1-da) + cd*(1-sa) + sa*da*B(cs/sa, cd/da).
func separable(b func(cs, cd float64) float64) compFunc {
	return func(s, d pixel) pixel {
		sa, da := s[3], d[3]
		var p pixel
		for i := 0; i < 3; i++ {
			p[i] = s[i]*(1-da) + d[i]*(1-sa) + sa*da*b(unpremul(s[i], sa), unpremul(d[i], da))
		}
		p[3] = sa + da - sa*da
		return p
	}
}

func nonSeparable(b func(cs, cd [3]float64) [3]float64) compFunc {
	return func(s, d pixel) pixel {
		sa, da := s[3], d[3]
		cs := [3]float64{unpremul(s[0], sa), unpremul(s[1], sa), unpremul(s[2], sa)}
		cd := [3]float64{unpremul(d[0], da), unpremul(d[1], da), unpremul(d[2], da)}
		mixed := b(cs, cd)

		var p pixel
		for i := 0; i < 3; i++ {
			p[i] = s[i]*(1-da) + d[i]*(1-sa) + sa*da*mixed[i]
		}
		p[3] = sa + da - sa*da
		return p
	}
}

func unpremul(c, a float64) float64 {
	if a <= 0 {
		return 0
	}
	return clamp01(c / a)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func screen(cs, cd float64) float64 { return cs + cd - cs*cd }

func hardLight(cs, cd float64) float64 {
	if cs <= 0.5 {
		return cd * 2 * cs
	}
	return screen(cd, 2*cs-1)
}

func colorDodge(cs, cd float64) float64 {
	if cd == 0 {
		return 0
	}
	if cs >= 1 {
		return 1
	}
	return math.Min(1, cd/(1-cs))
}

func colorBurn(cs, cd float64) float64 {
	if cd >= 1 {
		return 1
	}
	if cs <= 0 {
		return 0
	}
	return 1 - math.Min(1, (1-cd)/cs)
}

func softLight(cs, cd float64) float64 {
	if cs <= 0.5 {
		return cd - (1-2*cs)*cd*(1-cd)
	}
	var dd float64
	if cd <= 0.25 {
		dd = ((16*cd-12)*cd + 4) * cd
	} else {
		dd = math.Sqrt(cd)
	}
	return cd + (2*cs-1)*(dd-cd)
}

func lum(c [3]float64) float64 {
	return 0.3*c[0] + 0.59*c[1] + 0.11*c[2]
}

func clipColor(c [3]float64) [3]float64 {
	l := lum(c)
	n := math.Min(c[0], math.Min(c[1], c[2]))
	x := math.Max(c[0], math.Max(c[1], c[2]))
	for i := range c {
		if n < 0 {
			c[i] = l + (c[i]-l)*l/(l-n)
		}
		if x > 1 {
			c[i] = l + (c[i]-l)*(1-l)/(x-l)
		}
	}
	return c
}

func setLum(c [3]float64, l float64) [3]float64 {
	d := l - lum(c)
	return clipColor([3]float64{c[0] + d, c[1] + d, c[2] + d})
}

func sat(c [3]float64) float64 {
	return math.Max(c[0], math.Max(c[1], c[2])) - math.Min(c[0], math.Min(c[1], c[2]))
}

func setSat(c [3]float64, s float64) [3]float64 {
	maxIdx, midIdx, minIdx := 0, 1, 2
	if c[maxIdx] < c[midIdx] {
		maxIdx, midIdx = midIdx, maxIdx
	}
	if c[midIdx] < c[minIdx] {
		midIdx, minIdx = minIdx, midIdx
	}
	if c[maxIdx] < c[midIdx] {
		maxIdx, midIdx = midIdx, maxIdx
	}

	var out [3]float64
	if c[maxIdx] > c[minIdx] {
		out[midIdx] = (c[midIdx] - c[minIdx]) * s / (c[maxIdx] - c[minIdx])
		out[maxIdx] = s
	}
	return out
}
