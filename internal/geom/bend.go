package geom

import (
	"fmt"
	"math"
)

// Direction selects which side of a bent destination is shortened.
type Direction string

const (
	BendLeft  Direction = "left"
	BendRight Direction = "right"
)

// Tag is the output label used for a bend direction.
func (d Direction) Tag() string { return string(d) + "_bend" }

// ParseDirection accepts "left" or "right".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case BendLeft, BendRight:
		return Direction(s), nil
	}
	return "", &ValidationError{Field: "direction", Reason: fmt.Sprintf("%q is not left or right", s)}
}

// BentDestination is a skewed destination quad already moved into positive
// space. Offset is the (minX, minY) that was subtracted.
type BentDestination struct {
	Quad   Quadrilateral
	Size   Dimensions
	Offset Point2D
}

// Bend builds the sheared destination for a width x height rectangle.
// bendFactor scales the horizontal shift, verticalShiftRatio the vertical one.
func Bend(width, height int, dir Direction, bendFactor, verticalShiftRatio float64) BentDestination {
	w, h := float64(width), float64(height)
	hs := math.Round(w * bendFactor)
	vs := math.Round(h * verticalShiftRatio)

	var raw Quadrilateral
	if dir == BendRight {
		raw = Quadrilateral{{0, vs}, {w - hs, 0}, {w - hs, h}, {0, h - vs}}
	} else {
		raw = Quadrilateral{{hs, 0}, {w, vs}, {w, h - vs}, {hs, h}}
	}

	minX, minY, maxX, maxY := raw.Bounds()
	return BentDestination{
		Quad: raw.Translate(-minX, -minY),
		Size: Dimensions{
			Width:  int(math.Ceil(maxX - minX)),
			Height: int(math.Ceil(maxY - minY)),
		},
		Offset: Point2D{minX, minY},
	}
}

// BendQuad solves q onto a bent destination. The base rectangle is
// (0,0),(w,0),(w,h),(0,h) with no inset.
func BendQuad(q Quadrilateral, dir Direction, bendFactor, verticalShiftRatio float64) (Homography, Dimensions, error) {
	base := OutputSize(q)
	dst := Bend(base.Width, base.Height, dir, bendFactor, verticalShiftRatio)
	m, err := Solve(q, dst.Quad)
	if err != nil {
		return Homography{}, Dimensions{}, fmt.Errorf("bend %s quad %s: %w", dir, q, err)
	}
	return m, dst.Size, nil
}
