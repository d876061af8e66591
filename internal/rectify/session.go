package rectify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"rectipano/internal/geom"
)

// BatchSession carries the points and solved transforms of one image set
// between stages. Stages return a new value instead of mutating shared state.
type BatchSession struct {
	ID        string
	SetName   string
	Mode      Mode
	Points    []geom.Point2D
	Specs     []TransformSpec
	CreatedAt time.Time
}

// NewSession starts an empty session for setName.
func NewSession(setName string, mode Mode) BatchSession {
	return BatchSession{
		ID:        uuid.NewString(),
		SetName:   setName,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
}

// WithPoints returns a copy holding points and no solved specs.
func (s BatchSession) WithPoints(points []geom.Point2D) BatchSession {
	s.Points = append([]geom.Point2D(nil), points...)
	s.Specs = nil
	return s
}

// Prepared reports whether specs have been solved.
func (s BatchSession) Prepared() bool { return len(s.Specs) > 0 }

// Spec looks up a solved spec by tag.
func (s BatchSession) Spec(tag string) (TransformSpec, bool) {
	for _, sp := range s.Specs {
		if sp.Tag == tag {
			return sp, true
		}
	}
	return TransformSpec{}, false
}

// Tags lists the spec tags in order.
func (s BatchSession) Tags() []string {
	tags := make([]string, len(s.Specs))
	for i, sp := range s.Specs {
		tags[i] = sp.Tag
	}
	return tags
}

// Prepare solves the session's points once.
func Prepare(s BatchSession, cfg Config) (BatchSession, error) {
	specs, err := BuildSpecs(s.Points, s.Mode, cfg)
	if err != nil {
		return s, fmt.Errorf("set %s: %w", s.SetName, err)
	}
	s.Specs = specs
	return s, nil
}

type specFile struct {
	Tag    string      `yaml:"tag"`
	Quad   [][]float64 `yaml:"quad"`
	Matrix [][]float64 `yaml:"matrix"`
	Width  int         `yaml:"width"`
	Height int         `yaml:"height"`
}

type sessionFile struct {
	ID        string      `yaml:"id,omitempty"`
	Set       string      `yaml:"set,omitempty"`
	Mode      string      `yaml:"mode,omitempty"`
	CreatedAt string      `yaml:"created_at,omitempty"`
	Points    [][]float64 `yaml:"points"`
	Specs     []specFile  `yaml:"specs,omitempty"`
}

func pointsToRows(pts []geom.Point2D) [][]float64 {
	rows := make([][]float64, len(pts))
	for i, p := range pts {
		rows[i] = []float64{p.X, p.Y}
	}
	return rows
}

func rowsToPoints(rows [][]float64) ([]geom.Point2D, error) {
	pts := make([]geom.Point2D, len(rows))
	for i, r := range rows {
		if len(r) != 2 {
			return nil, &geom.ValidationError{Field: "points", Reason: fmt.Sprintf("entry %d has %d values, want 2", i, len(r))}
		}
		pts[i] = geom.Pt(r[0], r[1])
	}
	return pts, nil
}

// SaveSession writes s as YAML.
func SaveSession(path string, s BatchSession) error {
	f := sessionFile{
		ID:        s.ID,
		Set:       s.SetName,
		Mode:      string(s.Mode),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		Points:    pointsToRows(s.Points),
	}
	for _, sp := range s.Specs {
		f.Specs = append(f.Specs, specFile{
			Tag:    sp.Tag,
			Quad:   pointsToRows(sp.SourceQuad[:]),
			Matrix: sp.Matrix.Rows(),
			Width:  sp.OutputSize.Width,
			Height: sp.OutputSize.Height,
		})
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSession reads a session or a bare points file. A file without specs
// comes back unprepared; a missing mode means focus.
func LoadSession(path string) (BatchSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchSession{}, err
	}
	var f sessionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return BatchSession{}, &geom.ValidationError{Field: "points", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	mode, err := ParseMode(f.Mode)
	if err != nil {
		return BatchSession{}, err
	}
	pts, err := rowsToPoints(f.Points)
	if err != nil {
		return BatchSession{}, err
	}

	s := NewSession(f.Set, mode).WithPoints(pts)
	if f.ID != "" {
		s.ID = f.ID
	}
	if s.SetName == "" {
		s.SetName = filepath.Base(filepath.Dir(path))
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedAt); err == nil {
		s.CreatedAt = t
	}
	for _, sf := range f.Specs {
		quadPts, err := rowsToPoints(sf.Quad)
		if err != nil {
			return BatchSession{}, err
		}
		if len(quadPts) != 4 {
			return BatchSession{}, &geom.ValidationError{Field: "quad", Reason: fmt.Sprintf("spec %s has %d corners", sf.Tag, len(quadPts))}
		}
		m, err := geom.HomographyFromRows(sf.Matrix)
		if err != nil {
			return BatchSession{}, err
		}
		var q geom.Quadrilateral
		copy(q[:], quadPts)
		s.Specs = append(s.Specs, TransformSpec{
			Tag:        sf.Tag,
			SourceQuad: q,
			Matrix:     m,
			OutputSize: geom.Dimensions{Width: sf.Width, Height: sf.Height},
		})
	}
	return s, nil
}
