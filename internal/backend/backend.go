// Package backend picks the pixel implementations named in the config.
package backend

import (
	"fmt"

	"rectipano/internal/compose"
	"rectipano/internal/config"
	"rectipano/internal/warp"
	"rectipano/internal/warp/cv"
	"rectipano/internal/warp/magick"
)

// Set is the chosen warper and smoother plus a release hook.
type Set struct {
	Warper   warp.Warper
	Smoother compose.Smoother
	closers  []func()
}

// Close releases native libraries that were initialised.
func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// New builds the warper and smoother named in cfg.
func New(cfg config.Backend) (*Set, error) {
	set := &Set{}
	var opencv *cv.Backend
	bilateral := compose.DefaultBilateral()
	cvBackend := func() *cv.Backend {
		if opencv == nil {
			opencv = cv.New(bilateral.Diameter, bilateral.SigmaColor, bilateral.SigmaSpace)
		}
		return opencv
	}

	switch cfg.Warp {
	case "", "native":
		set.Warper = warp.Native{}
	case "imagick":
		w := magick.New()
		set.Warper = w
		set.closers = append(set.closers, w.Close)
	case "opencv":
		set.Warper = cvBackend()
	default:
		return nil, fmt.Errorf("unknown warp backend %q", cfg.Warp)
	}

	switch cfg.Smoother {
	case "", "native":
		set.Smoother = bilateral
	case "opencv":
		set.Smoother = cvBackend()
	default:
		set.Close()
		return nil, fmt.Errorf("unknown smoother backend %q", cfg.Smoother)
	}
	return set, nil
}
