package cv

import (
	"image"
	"image/color"
	"testing"

	"rectipano/internal/geom"
	"rectipano/internal/raster"
	"rectipano/internal/warp"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 2), uint8(y * 2), 128, 255})
		}
	}
	return img
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestWarpAgreesWithNative(t *testing.T) {
	src := gradient(120, 100)
	h := geom.Homography{0.8, 0.1, 5, 0.05, 0.9, 3, 0.0002, 0.0001, 1}
	size := geom.Dimensions{Width: 100, Height: 90}

	want, err := warp.Native{}.Warp(src, h, size)
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	got, err := New(5, 50, 50).Warp(src, h, size)
	if err != nil {
		t.Fatalf("opencv: %v", err)
	}

	inv, err := h.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	compared := 0
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			p := inv.Apply(geom.Pt(float64(x), float64(y)))
			if p.X < 2 || p.Y < 2 || p.X > 117 || p.Y > 97 {
				continue
			}
			o := want.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				if d := absDiff(want.Pix[o+c], got.Pix[o+c]); d > 3 {
					t.Fatalf("pixel (%d,%d) channel %d differs by %d", x, y, c, d)
				}
			}
			compared++
		}
	}
	if compared < size.Width*size.Height/2 {
		t.Fatalf("only %d interior pixels compared", compared)
	}
}

func TestSmoothAgreesWithNative(t *testing.T) {
	src := gradient(64, 48)
	want := raster.Bilateral(src, 5, 50, 50)
	got, err := New(5, 50, 50).Smooth(src)
	if err != nil {
		t.Fatalf("opencv: %v", err)
	}
	for y := 3; y < 45; y++ {
		for x := 3; x < 61; x++ {
			o := want.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				if d := absDiff(want.Pix[o+c], got.Pix[o+c]); d > 3 {
					t.Fatalf("pixel (%d,%d) channel %d differs by %d", x, y, c, d)
				}
			}
		}
	}
}
