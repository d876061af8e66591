// Package warp applies a homography to a raster.
package warp

import (
	"fmt"
	"image"
	"math"

	"rectipano/internal/geom"
	"rectipano/internal/raster"
)

// Warper resamples src through h into a size-sized raster. Destination pixels
// that map outside src are black.
type Warper interface {
	Warp(src image.Image, h geom.Homography, size geom.Dimensions) (*image.RGBA, error)
}

// Native is the pure Go bilinear fallback used when cgo backends are off.
type Native struct{}

func (Native) Warp(src image.Image, h geom.Homography, size geom.Dimensions) (*image.RGBA, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, &geom.ValidationError{Field: "output size", Reason: size.String()}
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	in := raster.ToRGBA(src)
	sw, sh := in.Bounds().Dx(), in.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))

	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			fx, fy := float64(x), float64(y)
			w := inv[6]*fx + inv[7]*fy + inv[8]
			o := out.PixOffset(x, y)
			out.Pix[o+3] = 255
			if w == 0 {
				continue
			}
			sx := (inv[0]*fx + inv[1]*fy + inv[2]) / w
			sy := (inv[3]*fx + inv[4]*fy + inv[5]) / w
			if sx <= -1 || sy <= -1 || sx >= float64(sw) || sy >= float64(sh) || math.IsNaN(sx) || math.IsNaN(sy) {
				continue
			}
			sampleBilinear(in, sw, sh, sx, sy, out.Pix[o:o+3])
		}
	}
	return out, nil
}

// sampleBilinear treats neighbours outside the source as black.
func sampleBilinear(in *image.RGBA, sw, sh int, sx, sy float64, dst []uint8) {
	x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
	ax, ay := sx-float64(x0), sy-float64(y0)
	var acc [3]float64
	add := func(x, y int, wt float64) {
		if wt == 0 || x < 0 || y < 0 || x >= sw || y >= sh {
			return
		}
		p := in.PixOffset(x, y)
		acc[0] += wt * float64(in.Pix[p])
		acc[1] += wt * float64(in.Pix[p+1])
		acc[2] += wt * float64(in.Pix[p+2])
	}
	add(x0, y0, (1-ax)*(1-ay))
	add(x0+1, y0, ax*(1-ay))
	add(x0, y0+1, (1-ax)*ay)
	add(x0+1, y0+1, ax*ay)
	for c := range acc {
		dst[c] = raster.Clamp8(acc[c])
	}
}
