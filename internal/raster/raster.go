// Package raster holds the in-memory pixel operations shared by the warp and
// compose packages. Every function returns a fresh *image.RGBA anchored at the
// origin.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ToRGBA copies img into a new RGBA whose bounds start at (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
	return out
}

// Crop copies the part of img inside r. An empty intersection yields nil.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(out, out.Bounds(), img, r.Min, xdraw.Src)
	return out
}

// Resize scales src to w x h with bilinear filtering. Downscaling widens the
// kernel, which approximates area averaging.
func Resize(src image.Image, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(out, out.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return out
}

// HConcat places parts side by side. All parts must share one height.
func HConcat(parts ...*image.RGBA) (*image.RGBA, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("hconcat: no parts")
	}
	h := parts[0].Bounds().Dy()
	w := 0
	for i, p := range parts {
		if p.Bounds().Dy() != h {
			return nil, fmt.Errorf("hconcat: part %d height %d, want %d", i, p.Bounds().Dy(), h)
		}
		w += p.Bounds().Dx()
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	x := 0
	for _, p := range parts {
		pw := p.Bounds().Dx()
		xdraw.Draw(out, image.Rect(x, 0, x+pw, h), p, p.Bounds().Min, xdraw.Src)
		x += pw
	}
	return out, nil
}

// Clamp8 rounds v and clamps it into 0..255.
func Clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Reflect101 maps an out-of-range index back into 0..n-1 mirroring around the
// edge pixels (gfedcb|abcdefgh|gfedcba).
func Reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// GaussianKernel returns a normalised 1-D kernel. A non-positive sigma is
// derived from the size as 0.3*((ksize-1)/2-1)+0.8.
func GaussianKernel(ksize int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*(float64(ksize-1)*0.5-1) + 0.8
	}
	k := make([]float64, ksize)
	c := float64(ksize-1) / 2
	var sum float64
	for i := range k {
		x := float64(i) - c
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// BlurColumn returns column x of img convolved vertically with kernel.
func BlurColumn(img *image.RGBA, x int, kernel []float64) []color.RGBA {
	b := img.Bounds()
	h := b.Dy()
	half := len(kernel) / 2
	out := make([]color.RGBA, h)
	for y := 0; y < h; y++ {
		var r, g, bl float64
		for k, wt := range kernel {
			sy := Reflect101(y+k-half, h)
			off := img.PixOffset(b.Min.X+x, b.Min.Y+sy)
			r += wt * float64(img.Pix[off])
			g += wt * float64(img.Pix[off+1])
			bl += wt * float64(img.Pix[off+2])
		}
		out[y] = color.RGBA{Clamp8(r), Clamp8(g), Clamp8(bl), 255}
	}
	return out
}
