package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when four correspondences do not determine a
// projective transform.
var ErrSingular = errors.New("singular homography")

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography { return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// Apply maps p through h.
func (h Homography) Apply(p Point2D) Point2D {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// Inverse returns the inverse transform scaled so that its last element is 1.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, h[:])); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return Homography{}, ErrSingular
		}
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	if !out.finite() {
		return Homography{}, ErrSingular
	}
	return out.normalized(), nil
}

// Rows returns the matrix as three rows, the layout used in JSON and YAML.
func (h Homography) Rows() [][]float64 {
	return [][]float64{h[0:3:3], h[3:6:6], h[6:9:9]}
}

// HomographyFromRows is the inverse of Rows.
func HomographyFromRows(rows [][]float64) (Homography, error) {
	var h Homography
	if len(rows) != 3 {
		return h, &ValidationError{Field: "matrix", Reason: fmt.Sprintf("need 3 rows, got %d", len(rows))}
	}
	for r, row := range rows {
		if len(row) != 3 {
			return h, &ValidationError{Field: "matrix", Reason: fmt.Sprintf("row %d has %d columns", r, len(row))}
		}
		copy(h[r*3:], row)
	}
	return h, nil
}

func (h Homography) normalized() Homography {
	if h[8] == 0 {
		return h
	}
	s := h[8]
	for i := range h {
		h[i] /= s
	}
	return h
}

func (h Homography) finite() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Solve returns the transform that maps each src corner onto the matching dst
// corner. The 8x8 system fixes h[8] = 1. Degenerate quads are not checked;
// an exactly singular system returns ErrSingular.
func Solve(src, dst Quadrilateral) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i
		a.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)
		a.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return Homography{}, ErrSingular
		}
	}
	h := Homography{x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3), x.AtVec(4), x.AtVec(5), x.AtVec(6), x.AtVec(7), 1}
	if !h.finite() {
		return Homography{}, ErrSingular
	}
	return h, nil
}

// OutputSize infers the rectified size of q from its longest opposite edges,
// never smaller than 1x1.
func OutputSize(q Quadrilateral) Dimensions {
	w := max(1, roundInt(q[TopRight].Dist(q[TopLeft])), roundInt(q[BottomRight].Dist(q[BottomLeft])))
	h := max(1, roundInt(q[BottomLeft].Dist(q[TopLeft])), roundInt(q[BottomRight].Dist(q[TopRight])))
	return Dimensions{Width: w, Height: h}
}

// RectifyQuad solves q onto the inset rectangle (0,0)..(w-1,h-1) where w,h
// come from OutputSize.
func RectifyQuad(q Quadrilateral) (Homography, Dimensions, error) {
	size := OutputSize(q)
	w, h := float64(size.Width-1), float64(size.Height-1)
	dst := Quadrilateral{{0, 0}, {w, 0}, {w, h}, {0, h}}
	m, err := Solve(q, dst)
	if err != nil {
		return Homography{}, Dimensions{}, fmt.Errorf("rectify quad %s: %w", q, err)
	}
	return m, size, nil
}

func roundInt(v float64) int { return int(math.Round(v)) }
