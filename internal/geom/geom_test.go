package geom

import (
	"errors"
	"math"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestOutputSizeAndIdentityForSquare(t *testing.T) {
	for _, s := range []int{2, 10, 257} {
		q := Rect(float64(s), float64(s))
		m, size, err := RectifyQuad(q)
		if err != nil {
			t.Fatalf("side %d: %v", s, err)
		}
		if size != (Dimensions{s, s}) {
			t.Fatalf("side %d: size %v", s, size)
		}
		// destination is inset by one pixel, so the matrix is a pure scale
		k := float64(s-1) / float64(s)
		want := Homography{k, 0, 0, 0, k, 0, 0, 0, 1}
		for i := range want {
			if !near(m[i], want[i], 1e-9) {
				t.Fatalf("side %d: matrix %v, want %v", s, m, want)
			}
		}
	}
}

func TestSolveIdentity(t *testing.T) {
	q := Rect(640, 480)
	m, err := Solve(q, q)
	if err != nil {
		t.Fatal(err)
	}
	id := Identity()
	for i := range id {
		if !near(m[i], id[i], 1e-9) {
			t.Fatalf("got %v", m)
		}
	}
}

func TestRectifyQuadMapsCorners(t *testing.T) {
	q := Quadrilateral{{100, 50}, {500, 60}, {510, 400}, {90, 390}}
	m, size, err := RectifyQuad(q)
	if err != nil {
		t.Fatal(err)
	}
	// top edge is ~400.1 and bottom ~420.1, the larger one wins
	if size.Width != 420 || size.Height != 340 {
		t.Fatalf("size = %v, want 420x340", size)
	}
	w, h := float64(size.Width-1), float64(size.Height-1)
	want := Quadrilateral{{0, 0}, {w, 0}, {w, h}, {0, h}}
	for i, p := range q {
		got := m.Apply(p)
		if !near(got.X, want[i].X, 1e-6) || !near(got.Y, want[i].Y, 1e-6) {
			t.Fatalf("corner %d -> %v, want %v", i, got, want[i])
		}
	}
}

func TestOutputSizeNeverZero(t *testing.T) {
	q := Quadrilateral{{5, 5}, {5, 5}, {5, 5}, {5, 5}}
	if got := OutputSize(q); got != (Dimensions{1, 1}) {
		t.Fatalf("got %v", got)
	}
}

func TestInverseRoundTrip(t *testing.T) {
	q := Quadrilateral{{12, 8}, {300, 20}, {310, 200}, {4, 190}}
	m, _, err := RectifyQuad(q)
	if err != nil {
		t.Fatal(err)
	}
	inv, err := m.Inverse()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range q {
		back := inv.Apply(m.Apply(p))
		if !near(back.X, p.X, 1e-6) || !near(back.Y, p.Y, 1e-6) {
			t.Fatalf("round trip %v -> %v", p, back)
		}
	}
}

func TestSolveCoincidentPointsIsSingular(t *testing.T) {
	q := Quadrilateral{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	if _, err := Solve(q, Rect(10, 10)); !errors.Is(err, ErrSingular) {
		t.Fatalf("err = %v, want ErrSingular", err)
	}
}

func TestBendCornersNonNegative(t *testing.T) {
	sizes := []Dimensions{{1, 1}, {3, 7}, {400, 340}, {1920, 1080}}
	for _, d := range sizes {
		for bf := 0.0; bf < 0.5; bf += 0.05 {
			for _, dir := range []Direction{BendLeft, BendRight} {
				got := Bend(d.Width, d.Height, dir, bf, 0.08)
				for i, p := range got.Quad {
					if p.X < 0 || p.Y < 0 {
						t.Fatalf("%v bf=%.2f %s corner %d = %v", d, bf, dir, i, p)
					}
					if p.X > float64(got.Size.Width) || p.Y > float64(got.Size.Height) {
						t.Fatalf("%v bf=%.2f %s corner %d = %v outside %v", d, bf, dir, i, p, got.Size)
					}
				}
			}
		}
	}
}

func TestBendShapes(t *testing.T) {
	tests := []struct {
		dir    Direction
		want   Quadrilateral
		offset Point2D
	}{
		{BendRight, Quadrilateral{{0, 27}, {300, 0}, {300, 340}, {0, 313}}, Point2D{0, 0}},
		{BendLeft, Quadrilateral{{0, 0}, {300, 27}, {300, 313}, {0, 340}}, Point2D{100, 0}},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			got := Bend(400, 340, tt.dir, 0.25, 0.08)
			if got.Quad != tt.want {
				t.Fatalf("quad = %v, want %v", got.Quad, tt.want)
			}
			if got.Size != (Dimensions{300, 340}) {
				t.Fatalf("size = %v", got.Size)
			}
			if got.Offset != tt.offset {
				t.Fatalf("offset = %v", got.Offset)
			}
		})
	}
}

func TestBendQuadMapsOntoBentCorners(t *testing.T) {
	q := Quadrilateral{{100, 50}, {500, 60}, {510, 400}, {90, 390}}
	m, size, err := BendQuad(q, BendLeft, 0.25, 0.08)
	if err != nil {
		t.Fatal(err)
	}
	dst := Bend(420, 340, BendLeft, 0.25, 0.08)
	if size != dst.Size {
		t.Fatalf("size = %v, want %v", size, dst.Size)
	}
	for i, p := range q {
		got := m.Apply(p)
		if !near(got.X, dst.Quad[i].X, 1e-6) || !near(got.Y, dst.Quad[i].Y, 1e-6) {
			t.Fatalf("corner %d -> %v, want %v", i, got, dst.Quad[i])
		}
	}
}

func TestQuadsFromPoints(t *testing.T) {
	pts := make([]Point2D, 12)
	for i := range pts {
		pts[i] = Pt(float64(i), float64(i*2))
	}
	for _, n := range []int{4, 8, 12} {
		quads, err := QuadsFromPoints(pts[:n])
		if err != nil {
			t.Fatalf("%d points: %v", n, err)
		}
		if len(quads) != n/4 {
			t.Fatalf("%d points: %d quads", n, len(quads))
		}
		if quads[len(quads)-1][BottomLeft] != pts[n-1] {
			t.Fatalf("%d points: last corner %v", n, quads[len(quads)-1][BottomLeft])
		}
	}
	for _, n := range []int{0, 3, 5, 16} {
		many := make([]Point2D, n)
		var ve *ValidationError
		if _, err := QuadsFromPoints(many); !errors.As(err, &ve) {
			t.Fatalf("%d points: err = %v", n, err)
		}
	}
}

func TestParsePoints(t *testing.T) {
	pts, err := ParsePoints("100,50 500,60;510,400\n90,390")
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 4 || pts[2] != Pt(510, 400) {
		t.Fatalf("got %v", pts)
	}
	if _, err := ParsePoints("100;50"); err == nil {
		t.Fatal("expected error for missing comma")
	}
}

func TestCheckDegenerate(t *testing.T) {
	if err := Rect(10, 10).CheckDegenerate(); err != nil {
		t.Fatalf("rect: %v", err)
	}
	line := Quadrilateral{{0, 0}, {5, 0}, {10, 0}, {0, 10}}
	if err := line.CheckDegenerate(); err == nil {
		t.Fatal("expected collinear error")
	}
	dup := Quadrilateral{{0, 0}, {0, 0}, {10, 10}, {0, 10}}
	if err := dup.CheckDegenerate(); err == nil {
		t.Fatal("expected coincident error")
	}
}

func TestPointsFromValue(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
	}{
		{"nil", nil, 0},
		{"text", "0,0 9,0 9,9 0,9", 4},
		{"pairs", []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, 2},
		{"objects", []any{map[string]any{"x": 1.0, "y": 2.0}}, 1},
		{"typed", []Point2D{{1, 2}, {3, 4}, {5, 6}}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pts, err := PointsFromValue(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if len(pts) != tc.want {
				t.Fatalf("got %d points, want %d", len(pts), tc.want)
			}
		})
	}

	pts, _ := PointsFromValue([]any{map[string]any{"x": 7.0, "y": 8.0}})
	if pts[0] != Pt(7, 8) {
		t.Fatalf("got %v", pts[0])
	}

	for _, bad := range []any{42, []any{[]any{1.0}}, []any{"1,2"}} {
		var verr *ValidationError
		if _, err := PointsFromValue(bad); !errors.As(err, &verr) {
			t.Fatalf("%v: expected ValidationError, got %v", bad, err)
		}
	}
}
