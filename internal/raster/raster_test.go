package raster

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestReflect101(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{-1, 5, 1}, {-2, 5, 2}, {0, 5, 0}, {4, 5, 4}, {5, 5, 3}, {6, 5, 2}, {-3, 1, 0},
	}
	for _, tt := range tests {
		if got := Reflect101(tt.i, tt.n); got != tt.want {
			t.Fatalf("Reflect101(%d,%d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestGaussianKernelDerivedSigma(t *testing.T) {
	k := GaussianKernel(11, 0)
	var sum float64
	for _, v := range k {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("kernel sums to %v", sum)
	}
	if k[5] <= k[4] || k[4] != k[6] {
		t.Fatalf("kernel not symmetric with a centre peak: %v", k)
	}
	// sigma 2.0 for an 11-tap kernel
	want := math.Exp(-1.0/8) / math.Exp(0)
	if got := k[4] / k[5]; math.Abs(got-want) > 1e-12 {
		t.Fatalf("neighbour ratio %v, want %v", got, want)
	}
}

func TestHConcat(t *testing.T) {
	red := solid(3, 2, color.RGBA{255, 0, 0, 255})
	blue := solid(2, 2, color.RGBA{0, 0, 255, 255})
	out, err := HConcat(red, blue)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != 5 || out.Bounds().Dy() != 2 {
		t.Fatalf("bounds %v", out.Bounds())
	}
	if out.RGBAAt(2, 1) != red.RGBAAt(0, 0) || out.RGBAAt(3, 0) != blue.RGBAAt(0, 0) {
		t.Fatal("parts placed in the wrong order")
	}
	if _, err := HConcat(red, solid(2, 3, color.RGBA{})); err == nil {
		t.Fatal("expected height mismatch error")
	}
}

func TestCropClampsToBounds(t *testing.T) {
	img := solid(10, 10, color.RGBA{1, 2, 3, 255})
	if c := Crop(img, image.Rect(8, 8, 20, 20)); c.Bounds().Dx() != 2 || c.Bounds().Dy() != 2 {
		t.Fatalf("crop bounds %v", c.Bounds())
	}
	if c := Crop(img, image.Rect(20, 20, 30, 30)); c != nil {
		t.Fatal("expected nil for empty crop")
	}
}

func TestBilateralKeepsFlatRegions(t *testing.T) {
	c := color.RGBA{120, 80, 40, 255}
	out := Bilateral(solid(7, 5, c), 5, 50, 50)
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			if out.RGBAAt(x, y) != c {
				t.Fatalf("pixel %d,%d = %v", x, y, out.RGBAAt(x, y))
			}
		}
	}
}

func TestBilateralPreservesStrongEdge(t *testing.T) {
	img := solid(8, 4, color.RGBA{0, 0, 0, 255})
	for y := 0; y < 4; y++ {
		for x := 4; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	out := Bilateral(img, 5, 50, 50)
	if got := out.RGBAAt(3, 2).R; got > 5 {
		t.Fatalf("dark side bled to %d", got)
	}
	if got := out.RGBAAt(4, 2).R; got < 250 {
		t.Fatalf("bright side bled to %d", got)
	}
}

func TestBlurColumnFlat(t *testing.T) {
	c := color.RGBA{9, 99, 199, 255}
	col := BlurColumn(solid(3, 12, c), 1, GaussianKernel(11, 0))
	for y, px := range col {
		if px != c {
			t.Fatalf("row %d = %v", y, px)
		}
	}
}
