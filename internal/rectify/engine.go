package rectify

import (
	"fmt"
	"image"

	"rectipano/internal/compose"
	"rectipano/internal/warp"
)

// Engine applies solved specs to decoded frames. It holds no per-frame
// state and is safe for concurrent use when its Warper and Smoother are.
type Engine struct {
	cfg        Config
	warper     warp.Warper
	compositor *compose.Compositor
}

// NewEngine wires the backends. Nil backends fall back to the native ones.
func NewEngine(cfg Config, w warp.Warper, s compose.Smoother) *Engine {
	c := compose.NewCompositor(w, s, cfg.MarginRatio, cfg.FeatherWidth)
	return &Engine{cfg: cfg, warper: c.Warper, compositor: c}
}

func (e *Engine) Config() Config { return e.cfg }

// Apply renders one spec of a frame. Focus specs get margins and feathered
// seams; bend specs are a straight warp cropped to the bent rectangle.
func (e *Engine) Apply(img image.Image, mode Mode, spec TransformSpec) (*image.RGBA, error) {
	switch mode {
	case ModeFocus:
		return e.compositor.Compose(img, spec.SourceQuad, spec.Matrix, spec.OutputSize)
	case ModeDualBend:
		return e.warper.Warp(img, spec.Matrix, spec.OutputSize)
	}
	return nil, fmt.Errorf("apply %s: unknown mode %q", spec.Tag, mode)
}

// Join merges two rectified frames, cross-fading unless blend is false.
func (e *Engine) Join(left, right image.Image, blend bool) (*image.RGBA, error) {
	if !blend {
		return compose.Concat(left, right)
	}
	return compose.Blend(left, right, e.cfg.BlendWidth)
}
