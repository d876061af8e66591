// Package compose builds the "enhanced focus" strips and the two-frame
// panoramas from rectified pieces.
package compose

import (
	"fmt"
	"image"
	"math"

	"rectipano/internal/geom"
	"rectipano/internal/raster"
	"rectipano/internal/warp"
)

const (
	// slabWidth is how many source columns feed each side margin.
	slabWidth = 50
	// edgeGuard keeps margins off quads that already touch the frame edge.
	edgeGuard   = 10
	seamKernel  = 11
	sharpCutoff = 0.99
)

// Smoother is the edge-preserving filter applied to the resized margins.
type Smoother interface {
	Smooth(img *image.RGBA) (*image.RGBA, error)
}

// Bilateral is the pure Go fallback Smoother.
type Bilateral struct {
	Diameter   int
	SigmaColor float64
	SigmaSpace float64
}

// DefaultBilateral is a 5 pixel bilateral filter with both sigmas at 50.
func DefaultBilateral() Bilateral { return Bilateral{Diameter: 5, SigmaColor: 50, SigmaSpace: 50} }

func (b Bilateral) Smooth(img *image.RGBA) (*image.RGBA, error) {
	return raster.Bilateral(img, b.Diameter, b.SigmaColor, b.SigmaSpace), nil
}

// Compositor assembles [left margin | rectified centre | right margin] and
// feathers the seams.
type Compositor struct {
	Warper       warp.Warper
	Smoother     Smoother
	MarginRatio  float64
	FeatherWidth int
}

// NewCompositor fills unset dependencies with the native implementations.
func NewCompositor(w warp.Warper, s Smoother, marginRatio float64, featherWidth int) *Compositor {
	if w == nil {
		w = warp.Native{}
	}
	if s == nil {
		s = DefaultBilateral()
	}
	return &Compositor{Warper: w, Smoother: s, MarginRatio: marginRatio, FeatherWidth: featherWidth}
}

// Compose warps quad out of original through h and flanks it with squeezed
// margins taken from beside the quad. With no margin applicable the centre
// strip is returned as is.
func (c *Compositor) Compose(original image.Image, quad geom.Quadrilateral, h geom.Homography, size geom.Dimensions) (*image.RGBA, error) {
	center, err := c.Warper.Warp(original, h, size)
	if err != nil {
		return nil, err
	}

	fx0, fy0, fx1, fy1 := quad.Bounds()
	xMin, yMin, xMax, yMax := int(fx0), int(fy0), int(fx1), int(fy1)
	ob := original.Bounds()
	ow, oh := ob.Dx(), ob.Dy()
	marginW := int(math.Round(float64(size.Width) * c.MarginRatio))
	y0, y1 := max(0, yMin), min(oh, yMax)

	var left, right *image.RGBA
	if xMin > edgeGuard {
		left, err = c.margin(original, image.Rect(max(0, xMin-slabWidth), y0, xMin, y1), marginW, size.Height)
		if err != nil {
			return nil, fmt.Errorf("left margin: %w", err)
		}
	}
	if xMax < ow-edgeGuard {
		right, err = c.margin(original, image.Rect(xMax, y0, min(ow, xMax+slabWidth), y1), marginW, size.Height)
		if err != nil {
			return nil, fmt.Errorf("right margin: %w", err)
		}
	}

	parts := make([]*image.RGBA, 0, 3)
	if left != nil {
		parts = append(parts, left)
	}
	parts = append(parts, center)
	if right != nil {
		parts = append(parts, right)
	}
	if len(parts) == 1 {
		return center, nil
	}

	out, err := raster.HConcat(parts...)
	if err != nil {
		return nil, err
	}
	seams := make([]int, 0, len(parts)-1)
	x := 0
	for _, p := range parts[:len(parts)-1] {
		x += p.Bounds().Dx()
		seams = append(seams, x)
	}
	Feather(out, seams, c.FeatherWidth)
	return out, nil
}

// margin crops r (given in original's coordinates relative to its origin),
// stretches it to w x h and smooths it. Nil means no margin.
func (c *Compositor) margin(original image.Image, r image.Rectangle, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, nil
	}
	slab := raster.Crop(original, r.Add(original.Bounds().Min))
	if slab == nil {
		return nil, nil
	}
	return c.Smoother.Smooth(raster.Resize(slab, w, h))
}

// Feather softens each seam over a window of ±width columns. Inside the
// window a column is mixed with its vertically blurred copy; the weight of
// the sharp column rises from 0 at the window edges to 1 at the seam. The
// outermost image columns are left alone.
func Feather(img *image.RGBA, seams []int, width int) {
	W := img.Bounds().Dx()
	kernel := raster.GaussianKernel(seamKernel, 0)
	for _, s := range seams {
		start, end := max(0, s-width), min(W, s+width)
		span := end - start
		if span < 2 {
			continue
		}
		for i := 0; i < span; i++ {
			x := start + i
			if x <= 0 || x >= W-1 {
				continue
			}
			rel := float64(i) / float64(span)
			alpha := 2 * rel
			if rel >= 0.5 {
				alpha = 2 * (1 - rel)
			}
			if alpha >= sharpCutoff {
				continue
			}
			blurred := raster.BlurColumn(img, x, kernel)
			for y, b := range blurred {
				o := img.PixOffset(img.Bounds().Min.X+x, img.Bounds().Min.Y+y)
				img.Pix[o] = raster.Clamp8(alpha*float64(img.Pix[o]) + (1-alpha)*float64(b.R))
				img.Pix[o+1] = raster.Clamp8(alpha*float64(img.Pix[o+1]) + (1-alpha)*float64(b.G))
				img.Pix[o+2] = raster.Clamp8(alpha*float64(img.Pix[o+2]) + (1-alpha)*float64(b.B))
			}
		}
	}
}
