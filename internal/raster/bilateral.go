package raster

import (
	"image"
	"math"
)

// Bilateral is an edge-preserving smoothing filter over a d-pixel diameter.
// Colour distance is the sum of absolute channel differences; borders reflect.
func Bilateral(src *image.RGBA, d int, sigmaColor, sigmaSpace float64) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	radius := d / 2
	if radius < 1 {
		radius = 1
	}
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)

	colorWeight := make([]float64, 3*256)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			if r > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(r * r * spaceCoeff)})
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			r0, g0, b0 := int(src.Pix[c]), int(src.Pix[c+1]), int(src.Pix[c+2])
			var sr, sg, sb, sw float64
			for _, t := range taps {
				o := src.PixOffset(b.Min.X+Reflect101(x+t.dx, w), b.Min.Y+Reflect101(y+t.dy, h))
				r, g, bl := int(src.Pix[o]), int(src.Pix[o+1]), int(src.Pix[o+2])
				wt := t.w * colorWeight[abs(r-r0)+abs(g-g0)+abs(bl-b0)]
				sr += wt * float64(r)
				sg += wt * float64(g)
				sb += wt * float64(bl)
				sw += wt
			}
			o := out.PixOffset(x, y)
			out.Pix[o] = Clamp8(sr / sw)
			out.Pix[o+1] = Clamp8(sg / sw)
			out.Pix[o+2] = Clamp8(sb / sw)
			out.Pix[o+3] = 255
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
