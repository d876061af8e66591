// Package rectify turns a finished point list into per-quad transforms and
// applies them to frames.
package rectify

import (
	"fmt"
	"math"

	"rectipano/internal/geom"
)

// Mode selects how an image set is rectified.
type Mode string

const (
	// ModeFocus rectifies 1 to 3 quads and flanks each with soft margins.
	ModeFocus Mode = "focus"
	// ModeDualBend bends one quad both ways and crops straight to the warp.
	ModeDualBend Mode = "dual-bend"
)

// ParseMode accepts "focus" and "dual-bend" (also "bend").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeFocus):
		return ModeFocus, nil
	case string(ModeDualBend), "bend":
		return ModeDualBend, nil
	}
	return "", &geom.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
}

// focusTags name the quads of a focus set in click order.
var focusTags = []string{"left", "middle", "right"}

// Config holds the geometry constants of the engine.
type Config struct {
	BendFactor         float64 `json:"bend_factor" yaml:"bend_factor"`
	VerticalShiftRatio float64 `json:"vertical_shift_ratio" yaml:"vertical_shift_ratio"`
	MarginRatio        float64 `json:"margin_ratio" yaml:"margin_ratio"`
	FeatherWidth       int     `json:"feather_width" yaml:"feather_width"`
	BlendWidth         int     `json:"blend_width" yaml:"blend_width"`
	// StrictGeometry rejects coincident or collinear corners up front.
	StrictGeometry bool `json:"strict_geometry" yaml:"strict_geometry"`
}

// DefaultConfig returns bend 0.25, vertical shift 0.08, margin 0.35,
// feather 25 and blend 50.
func DefaultConfig() Config {
	return Config{
		BendFactor:         0.25,
		VerticalShiftRatio: 0.08,
		MarginRatio:        0.35,
		FeatherWidth:       25,
		BlendWidth:         50,
	}
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	switch {
	case c.BendFactor < 0 || c.BendFactor >= 0.5 || math.IsNaN(c.BendFactor):
		return &geom.ValidationError{Field: "bend_factor", Reason: "must be in [0, 0.5)"}
	case c.VerticalShiftRatio < 0 || c.VerticalShiftRatio >= 0.5:
		return &geom.ValidationError{Field: "vertical_shift_ratio", Reason: "must be in [0, 0.5)"}
	case c.MarginRatio < 0 || c.MarginRatio > 1:
		return &geom.ValidationError{Field: "margin_ratio", Reason: "must be in [0, 1]"}
	case c.FeatherWidth < 0:
		return &geom.ValidationError{Field: "feather_width", Reason: "must not be negative"}
	case c.BlendWidth < 0:
		return &geom.ValidationError{Field: "blend_width", Reason: "must not be negative"}
	}
	return nil
}

// TransformSpec is one solved quad. It is computed once per image set and
// applied unchanged to every frame of that set.
type TransformSpec struct {
	Tag        string             `json:"tag" yaml:"tag"`
	SourceQuad geom.Quadrilateral `json:"source_quad" yaml:"source_quad"`
	Matrix     geom.Homography    `json:"matrix" yaml:"matrix"`
	OutputSize geom.Dimensions    `json:"output_size" yaml:"output_size"`
}

// BuildSpecs solves every quad the points describe. Focus mode takes 4, 8
// or 12 points; dual-bend mode takes exactly 4 and yields left_bend and
// right_bend.
func BuildSpecs(points []geom.Point2D, mode Mode, cfg Config) ([]TransformSpec, error) {
	if mode == ModeDualBend && len(points) != 4 {
		return nil, &geom.ValidationError{Field: "points", Reason: fmt.Sprintf("dual-bend needs exactly 4 points, got %d", len(points))}
	}
	quads, err := geom.QuadsFromPoints(points)
	if err != nil {
		return nil, err
	}
	if cfg.StrictGeometry {
		for _, q := range quads {
			if err := q.CheckDegenerate(); err != nil {
				return nil, err
			}
		}
	}

	switch mode {
	case ModeDualBend:
		q := quads[0]
		specs := make([]TransformSpec, 0, 2)
		for _, dir := range []geom.Direction{geom.BendLeft, geom.BendRight} {
			m, size, err := geom.BendQuad(q, dir, cfg.BendFactor, cfg.VerticalShiftRatio)
			if err != nil {
				return nil, err
			}
			specs = append(specs, TransformSpec{Tag: dir.Tag(), SourceQuad: q, Matrix: m, OutputSize: size})
		}
		return specs, nil
	case ModeFocus:
		specs := make([]TransformSpec, 0, len(quads))
		for i, q := range quads {
			m, size, err := geom.RectifyQuad(q)
			if err != nil {
				return nil, err
			}
			specs = append(specs, TransformSpec{Tag: focusTags[i], SourceQuad: q, Matrix: m, OutputSize: size})
		}
		return specs, nil
	}
	return nil, &geom.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
}
