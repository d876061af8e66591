package rectify

import (
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"rectipano/internal/geom"
)

var quadPoints = []geom.Point2D{{X: 100, Y: 50}, {X: 500, Y: 60}, {X: 510, Y: 400}, {X: 90, Y: 390}}

func TestBuildSpecsFocusTags(t *testing.T) {
	pts := append(append([]geom.Point2D{}, quadPoints...), quadPoints...)
	specs, err := BuildSpecs(pts, ModeFocus, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 || specs[0].Tag != "left" || specs[1].Tag != "middle" {
		t.Fatalf("specs %+v", specs)
	}
	if specs[0].OutputSize != (geom.Dimensions{Width: 420, Height: 340}) {
		t.Fatalf("size %v", specs[0].OutputSize)
	}
}

func TestBuildSpecsDualBend(t *testing.T) {
	specs, err := BuildSpecs(quadPoints, ModeDualBend, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 || specs[0].Tag != "left_bend" || specs[1].Tag != "right_bend" {
		t.Fatalf("specs %+v", specs)
	}
	// both bends of a 420x340 base shrink the width by round(420*0.25)
	for _, sp := range specs {
		if sp.OutputSize != (geom.Dimensions{Width: 315, Height: 340}) {
			t.Fatalf("%s size %v", sp.Tag, sp.OutputSize)
		}
	}
}

func TestBuildSpecsRejectsPointCounts(t *testing.T) {
	tests := []struct {
		name string
		n    int
		mode Mode
	}{
		{"focus five", 5, ModeFocus},
		{"focus sixteen", 16, ModeFocus},
		{"bend eight", 8, ModeDualBend},
		{"empty", 0, ModeFocus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts := make([]geom.Point2D, tt.n)
			var ve *geom.ValidationError
			if _, err := BuildSpecs(pts, tt.mode, DefaultConfig()); !errors.As(err, &ve) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestStrictGeometry(t *testing.T) {
	line := []geom.Point2D{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}}
	cfg := DefaultConfig()
	if _, err := BuildSpecs(line, ModeFocus, cfg); err != nil {
		t.Fatalf("lenient mode should not check corners: %v", err)
	}
	cfg.StrictGeometry = true
	if _, err := BuildSpecs(line, ModeFocus, cfg); err == nil {
		t.Fatal("strict mode accepted collinear corners")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := DefaultConfig()
	bad.BendFactor = 0.5
	if err := bad.Validate(); err == nil {
		t.Fatal("bend factor 0.5 accepted")
	}
	bad = DefaultConfig()
	bad.BlendWidth = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("negative blend width accepted")
	}
}

func TestSessionStagesDoNotShareState(t *testing.T) {
	pts := append([]geom.Point2D{}, quadPoints...)
	s0 := NewSession("cam5", ModeFocus)
	s1 := s0.WithPoints(pts)
	pts[0] = geom.Pt(-1, -1)
	if s1.Points[0] != quadPoints[0] {
		t.Fatal("WithPoints aliased the caller's slice")
	}
	s2, err := Prepare(s1, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if s1.Prepared() || !s2.Prepared() {
		t.Fatal("Prepare mutated its input")
	}
	if _, ok := s2.Spec("left"); !ok {
		t.Fatal("left spec missing")
	}
	if s0.ID != s2.ID {
		t.Fatal("session id changed across stages")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s, err := Prepare(NewSession("set-a", ModeDualBend).WithPoints(quadPoints), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "set-a", "session.yaml")
	if err := SaveSession(path, s); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != s.ID || got.Mode != ModeDualBend || got.SetName != "set-a" {
		t.Fatalf("session header %+v", got)
	}
	if len(got.Specs) != 2 {
		t.Fatalf("specs %d", len(got.Specs))
	}
	for i, sp := range got.Specs {
		want := s.Specs[i]
		if sp.Tag != want.Tag || sp.OutputSize != want.OutputSize || sp.SourceQuad != want.SourceQuad {
			t.Fatalf("spec %d = %+v, want %+v", i, sp, want)
		}
		for k := range sp.Matrix {
			if math.Abs(sp.Matrix[k]-want.Matrix[k]) > 1e-9 {
				t.Fatalf("spec %d matrix %v, want %v", i, sp.Matrix, want.Matrix)
			}
		}
	}
}

func TestEngineApplyDualBendIsCroppedWarp(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 600, 450))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	s, err := Prepare(NewSession("x", ModeDualBend).WithPoints(quadPoints), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(DefaultConfig(), nil, nil)
	for _, sp := range s.Specs {
		out, err := e.Apply(img, s.Mode, sp)
		if err != nil {
			t.Fatal(err)
		}
		if out.Bounds().Dx() != sp.OutputSize.Width || out.Bounds().Dy() != sp.OutputSize.Height {
			t.Fatalf("%s: bounds %v, want %v", sp.Tag, out.Bounds(), sp.OutputSize)
		}
	}
}

func TestEngineApplyFocusAddsMargins(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 600, 450))
	for y := 0; y < 450; y++ {
		for x := 0; x < 600; x++ {
			img.SetRGBA(x, y, color.RGBA{80, 90, 100, 255})
		}
	}
	s, err := Prepare(NewSession("x", ModeFocus).WithPoints(quadPoints), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	sp, _ := s.Spec("left")
	out, err := NewEngine(DefaultConfig(), nil, nil).Apply(img, ModeFocus, sp)
	if err != nil {
		t.Fatal(err)
	}
	// round(420*0.35) = 147 on each side
	if want := 420 + 2*147; out.Bounds().Dx() != want {
		t.Fatalf("width %d, want %d", out.Bounds().Dx(), want)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeFocus, "focus": ModeFocus, "bend": ModeDualBend, "dual-bend": ModeDualBend} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("spiral"); err == nil {
		t.Fatal("unknown mode accepted")
	}
}
