// Package magick warps frames with ImageMagick's perspective projection.
package magick

import (
	"fmt"
	"image"

	"gopkg.in/gographics/imagick.v3/imagick"

	"rectipano/internal/geom"
	"rectipano/internal/raster"
)

// Warper drives DistortImage through a wand per call. Close releases the
// library.
type Warper struct{}

// New initialises ImageMagick. Callers must Close the returned Warper.
func New() *Warper {
	imagick.Initialize()
	return &Warper{}
}

func (*Warper) Close() { imagick.Terminate() }

func (*Warper) Warp(src image.Image, h geom.Homography, size geom.Dimensions) (*image.RGBA, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, &geom.ValidationError{Field: "output size", Reason: size.String()}
	}
	in := raster.ToRGBA(src)
	w, ht := uint(in.Bounds().Dx()), uint(in.Bounds().Dy())

	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ConstituteImage(w, ht, "RGBA", imagick.PIXEL_CHAR, in.Pix); err != nil {
		return nil, fmt.Errorf("imagick constitute: %v", err)
	}

	bg := imagick.NewPixelWand()
	defer bg.Destroy()
	bg.SetColor("black")
	if err := mw.SetImageBackgroundColor(bg); err != nil {
		return nil, err
	}
	mw.SetImageVirtualPixelMethod(imagick.VIRTUAL_PIXEL_BACKGROUND)
	if err := mw.SetImageArtifact("distort:viewport", fmt.Sprintf("%dx%d+0+0", size.Width, size.Height)); err != nil {
		return nil, err
	}
	// forward coefficients; ImageMagick inverts them for the reverse mapping
	args := []float64{h[0] / h[8], h[1] / h[8], h[2] / h[8], h[3] / h[8], h[4] / h[8], h[5] / h[8], h[6] / h[8], h[7] / h[8]}
	if err := mw.DistortImage(imagick.DISTORTION_PERSPECTIVE_PROJECTION, args, false); err != nil {
		return nil, fmt.Errorf("imagick distort: %v", err)
	}

	px, err := mw.ExportImagePixels(0, 0, uint(size.Width), uint(size.Height), "RGB", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("imagick export: %v", err)
	}
	rgb, ok := px.([]byte)
	if !ok {
		return nil, fmt.Errorf("imagick export: unexpected pixel type %T", px)
	}
	out := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for i, j := 0, 0; i+2 < len(rgb) && j+3 < len(out.Pix); i, j = i+3, j+4 {
		out.Pix[j], out.Pix[j+1], out.Pix[j+2], out.Pix[j+3] = rgb[i], rgb[i+1], rgb[i+2], 255
	}
	return out, nil
}
