// Package cv is the OpenCV backend: perspective warp and bilateral smoothing
// through gocv.
package cv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"rectipano/internal/geom"
	"rectipano/internal/raster"
)

// Backend implements both warp.Warper and compose.Smoother.
type Backend struct {
	// Diameter, SigmaColor and SigmaSpace configure Smooth.
	Diameter   int
	SigmaColor float64
	SigmaSpace float64
}

func New(d int, sigmaColor, sigmaSpace float64) *Backend {
	return &Backend{Diameter: d, SigmaColor: sigmaColor, SigmaSpace: sigmaSpace}
}

func (b *Backend) Warp(src image.Image, h geom.Homography, size geom.Dimensions) (*image.RGBA, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, &geom.ValidationError{Field: "output size", Reason: size.String()}
	}
	in, err := toMat(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r*3+c])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspectiveWithParams(in, &dst, m, image.Pt(size.Width, size.Height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{0, 0, 0, 255})
	if dst.Empty() {
		return nil, fmt.Errorf("opencv warp produced an empty image")
	}
	return fromMat(dst, size.Width, size.Height)
}

// Smooth runs cv::bilateralFilter on the colour channels.
func (b *Backend) Smooth(img *image.RGBA) (*image.RGBA, error) {
	in, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(in, &bgr, gocv.ColorRGBAToBGR)

	filtered := gocv.NewMat()
	defer filtered.Close()
	if err := gocv.BilateralFilter(bgr, &filtered, b.Diameter, b.SigmaColor, b.SigmaSpace); err != nil {
		return nil, fmt.Errorf("opencv bilateral: %w", err)
	}

	back := gocv.NewMat()
	defer back.Close()
	gocv.CvtColor(filtered, &back, gocv.ColorBGRToRGBA)
	return fromMat(back, img.Bounds().Dx(), img.Bounds().Dy())
}

func toMat(img image.Image) (gocv.Mat, error) {
	rgba := raster.ToRGBA(img)
	b := rgba.Bounds()
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
}

func fromMat(m gocv.Mat, w, h int) (*image.RGBA, error) {
	buf := m.ToBytes()
	if len(buf) != w*h*4 {
		return nil, fmt.Errorf("opencv: got %d bytes for %dx%d RGBA", len(buf), w, h)
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, buf)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out, nil
}
