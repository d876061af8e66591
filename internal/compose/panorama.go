package compose

import (
	"image"

	"rectipano/internal/geom"
	"rectipano/internal/raster"
)

// equalizeHeights downscales the taller frame to the shorter one's height,
// keeping its width.
func equalizeHeights(left, right image.Image) (*image.RGBA, *image.RGBA) {
	lh, rh := left.Bounds().Dy(), right.Bounds().Dy()
	l, r := raster.ToRGBA(left), raster.ToRGBA(right)
	switch {
	case lh > rh:
		l = raster.Resize(left, left.Bounds().Dx(), rh)
	case rh > lh:
		r = raster.Resize(right, right.Bounds().Dx(), lh)
	}
	return l, r
}

// Blend joins left and right with a linear cross-fade over blendWidth
// columns. The output is wl+wr-blendWidth wide; right's first blendWidth
// columns are consumed by the overlap.
func Blend(left, right image.Image, blendWidth int) (*image.RGBA, error) {
	l, r := equalizeHeights(left, right)
	wl, wr, h := l.Bounds().Dx(), r.Bounds().Dx(), l.Bounds().Dy()
	if blendWidth < 0 || blendWidth > wl || blendWidth > wr {
		return nil, &geom.ValidationError{Field: "blend width", Reason: "must be between 0 and the narrower frame width"}
	}

	out := image.NewRGBA(image.Rect(0, 0, wl+wr-blendWidth, h))
	start := wl - blendWidth
	for y := 0; y < h; y++ {
		lrow := l.Pix[y*l.Stride : y*l.Stride+wl*4]
		rrow := r.Pix[y*r.Stride : y*r.Stride+wr*4]
		orow := out.Pix[y*out.Stride : y*out.Stride+out.Bounds().Dx()*4]

		copy(orow[:start*4], lrow[:start*4])
		for i := 0; i < blendWidth; i++ {
			a := 1.0
			if blendWidth > 1 {
				a = 1 - float64(i)/float64(blendWidth-1)
			}
			lo, ro, oo := (start+i)*4, i*4, (start+i)*4
			for c := 0; c < 3; c++ {
				orow[oo+c] = raster.Clamp8(a*float64(lrow[lo+c]) + (1-a)*float64(rrow[ro+c]))
			}
			orow[oo+3] = 255
		}
		copy(orow[wl*4:], rrow[blendWidth*4:])
	}
	return out, nil
}

// Concat places left and right side by side after height equalisation.
func Concat(left, right image.Image) (*image.RGBA, error) {
	l, r := equalizeHeights(left, right)
	return raster.HConcat(l, r)
}
