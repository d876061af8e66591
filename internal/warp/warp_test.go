package warp

import (
	"image"
	"image/color"
	"testing"

	"rectipano/internal/geom"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 7), uint8(y * 11), uint8((x + y) * 3), 255})
		}
	}
	return img
}

func TestNativeIdentityIsLossless(t *testing.T) {
	src := gradient(23, 17)
	out, err := Native{}.Warp(src, geom.Identity(), geom.Dimensions{Width: 23, Height: 17})
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 17; y++ {
		for x := 0; x < 23; x++ {
			if out.RGBAAt(x, y) != src.RGBAAt(x, y) {
				t.Fatalf("pixel %d,%d = %v, want %v", x, y, out.RGBAAt(x, y), src.RGBAAt(x, y))
			}
		}
	}
}

func TestNativeTranslationFillsBlack(t *testing.T) {
	src := gradient(10, 10)
	// shift right by 4: the first four columns have no source
	h := geom.Homography{1, 0, 4, 0, 1, 0, 0, 0, 1}
	out, err := Native{}.Warp(src, h, geom.Dimensions{Width: 10, Height: 10})
	if err != nil {
		t.Fatal(err)
	}
	black := color.RGBA{0, 0, 0, 255}
	for y := 0; y < 10; y++ {
		for x := 0; x < 3; x++ {
			if out.RGBAAt(x, y) != black {
				t.Fatalf("pixel %d,%d = %v, want black", x, y, out.RGBAAt(x, y))
			}
		}
		if out.RGBAAt(6, y) != src.RGBAAt(2, y) {
			t.Fatalf("row %d: shifted pixel %v, want %v", y, out.RGBAAt(6, y), src.RGBAAt(2, y))
		}
	}
}

func TestNativeRectifiesQuad(t *testing.T) {
	// a bright square in the middle of a dark frame
	src := image.NewRGBA(image.Rect(0, 0, 60, 60))
	for y := 20; y < 40; y++ {
		for x := 20; x < 40; x++ {
			src.SetRGBA(x, y, color.RGBA{250, 250, 250, 255})
		}
	}
	q := geom.Quadrilateral{{X: 20, Y: 20}, {X: 39, Y: 20}, {X: 39, Y: 39}, {X: 20, Y: 39}}
	m, size, err := geom.RectifyQuad(q)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Native{}.Warp(src, m, size)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != size.Width || out.Bounds().Dy() != size.Height {
		t.Fatalf("bounds %v, want %v", out.Bounds(), size)
	}
	if c := out.RGBAAt(size.Width/2, size.Height/2); c.R < 240 {
		t.Fatalf("centre pixel %v", c)
	}
}

func TestNativeRejectsEmptySize(t *testing.T) {
	if _, err := (Native{}).Warp(gradient(2, 2), geom.Identity(), geom.Dimensions{}); err == nil {
		t.Fatal("expected error for zero size")
	}
}
