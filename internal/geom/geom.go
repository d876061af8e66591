package geom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point2D is an image coordinate in pixels.
type Point2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point2D{X: x, Y: y}.
func Pt(x, y float64) Point2D { return Point2D{X: x, Y: y} }

func (p Point2D) Sub(q Point2D) Point2D { return Point2D{p.X - q.X, p.Y - q.Y} }

// Dist returns the Euclidean distance between p and q.
func (p Point2D) Dist(q Point2D) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

func (p Point2D) String() string {
	return strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64)
}

// Corner indexes of a Quadrilateral.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// Quadrilateral holds four corners in TopLeft, TopRight, BottomRight,
// BottomLeft order. Convexity and winding are the caller's concern.
type Quadrilateral [4]Point2D

// Rect returns the quadrilateral (0,0),(w,0),(w,h),(0,h).
func Rect(w, h float64) Quadrilateral {
	return Quadrilateral{{0, 0}, {w, 0}, {w, h}, {0, h}}
}

// Bounds returns the axis-aligned bounding box of the corners.
func (q Quadrilateral) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range q {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}

// Translate shifts every corner by (dx, dy).
func (q Quadrilateral) Translate(dx, dy float64) Quadrilateral {
	var out Quadrilateral
	for i, p := range q {
		out[i] = Point2D{p.X + dx, p.Y + dy}
	}
	return out
}

// Area returns the signed shoelace area.
func (q Quadrilateral) Area() float64 {
	var s float64
	for i := range q {
		j := (i + 1) % 4
		s += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return s / 2
}

// CheckDegenerate reports coincident corners, three collinear corners or a
// zero-area quadrilateral. The solver never calls it.
func (q Quadrilateral) CheckDegenerate() error {
	const eps = 1e-6
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if q[i].Dist(q[j]) < eps {
				return &ValidationError{Field: "quad", Reason: fmt.Sprintf("corners %d and %d coincide", i, j)}
			}
		}
	}
	for i := 0; i < 4; i++ {
		a, b, c := q[i], q[(i+1)%4], q[(i+2)%4]
		ab, ac := b.Sub(a), c.Sub(a)
		cross := ab.X*ac.Y - ab.Y*ac.X
		scale := math.Hypot(ab.X, ab.Y) * math.Hypot(ac.X, ac.Y)
		if math.Abs(cross) <= eps*scale {
			return &ValidationError{Field: "quad", Reason: fmt.Sprintf("corners %d, %d and %d are collinear", i, (i+1)%4, (i+2)%4)}
		}
	}
	if math.Abs(q.Area()) < eps {
		return &ValidationError{Field: "quad", Reason: "zero area"}
	}
	return nil
}

func (q Quadrilateral) String() string {
	parts := make([]string, len(q))
	for i, p := range q {
		parts[i] = p.String()
	}
	return strings.Join(parts, " ")
}

// Dimensions is a raster size in pixels.
type Dimensions struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (d Dimensions) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

// MaxQuads is the largest number of quadrilaterals one image set may carry.
const MaxQuads = 3

// QuadsFromPoints groups 4, 8 or 12 points into quadrilaterals.
func QuadsFromPoints(points []Point2D) ([]Quadrilateral, error) {
	n := len(points)
	if n == 0 || n%4 != 0 || n/4 > MaxQuads {
		return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("need 4, 8 or 12 points, got %d", n)}
	}
	quads := make([]Quadrilateral, n/4)
	for i := range quads {
		copy(quads[i][:], points[i*4:i*4+4])
	}
	return quads, nil
}

// ParsePoints reads "x,y x,y ..." (spaces, semicolons or newlines between
// pairs) into points.
func ParsePoints(s string) ([]Point2D, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ';' || r == '\n' || r == '\t'
	})
	points := make([]Point2D, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("%q is not x,y", f)}
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("bad x in %q", f)}
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("bad y in %q", f)}
		}
		points = append(points, Point2D{x, y})
	}
	return points, nil
}

// PointsFromValue reads points from loosely typed input: []Point2D,
// "x,y x,y" text, or decoded JSON ([[x,y],...] or [{"x":..,"y":..},...]).
// A nil value yields no points.
func PointsFromValue(v any) ([]Point2D, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []Point2D:
		return val, nil
	case string:
		return ParsePoints(val)
	case []any:
		pts := make([]Point2D, 0, len(val))
		for i, raw := range val {
			p, ok := pointFromValue(raw)
			if !ok {
				return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("entry %d is not a point", i)}
			}
			pts = append(pts, p)
		}
		return pts, nil
	}
	return nil, &ValidationError{Field: "points", Reason: fmt.Sprintf("unsupported type %T", v)}
}

func pointFromValue(raw any) (Point2D, bool) {
	switch v := raw.(type) {
	case []any:
		if len(v) != 2 {
			return Point2D{}, false
		}
		x, okx := v[0].(float64)
		y, oky := v[1].(float64)
		return Point2D{x, y}, okx && oky
	case map[string]any:
		x, okx := v["x"].(float64)
		y, oky := v["y"].(float64)
		return Point2D{x, y}, okx && oky
	}
	return Point2D{}, false
}

// ValidationError reports malformed geometry input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
