package tasks

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/fogleman/gg"

	"rectipano/internal/fsutil"
	"rectipano/internal/geom"
	"rectipano/internal/imageio"
	"rectipano/internal/raster"
	"rectipano/internal/rectify"
)

const defaultPreviewDim = 900

// PreviewRequest renders the first frame of a set with its quads outlined
// next to downscaled previews of every output.
type PreviewRequest struct {
	InputDir  string
	OutputDir string // defaults to <InputDir>/preview
	Mode      rectify.Mode
	Points    []geom.Point2D
	MaxDim    int
}

// PreviewResult lists the rendered files.
type PreviewResult struct {
	Source  string   `json:"source"`
	Overlay string   `json:"overlay"`
	Strips  []string `json:"strips"`
}

// Preview renders preview_quads.jpg and preview_<tag>.jpg for a set.
func (r *Runner) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	setName := filepath.Base(filepath.Clean(req.InputDir))
	sess, err := r.loadSession(RectifyRequest{InputDir: req.InputDir, Mode: req.Mode, Points: req.Points}, setName)
	if err != nil {
		return PreviewResult{}, err
	}
	sess, err = rectify.Prepare(sess, r.Engine.Config())
	if err != nil {
		return PreviewResult{}, err
	}

	frames, err := fsutil.ListFrames(req.InputDir)
	if err != nil {
		return PreviewResult{}, err
	}
	if len(frames) == 0 {
		return PreviewResult{}, fmt.Errorf("no images in %s", req.InputDir)
	}
	img, err := imageio.Load(frames[0])
	if err != nil {
		return PreviewResult{}, err
	}

	maxDim := req.MaxDim
	if maxDim <= 0 {
		maxDim = defaultPreviewDim
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Join(req.InputDir, "preview")
	}

	res := PreviewResult{Source: frames[0]}
	overlay := drawQuads(img, sess.Specs)
	res.Overlay = filepath.Join(outDir, "preview_quads.jpg")
	if err := imageio.SaveJPEG(res.Overlay, fitWithin(overlay, maxDim), r.Quality); err != nil {
		return res, err
	}

	for _, spec := range sess.Specs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		strip, err := r.Engine.Apply(img, sess.Mode, spec)
		if err != nil {
			return res, fmt.Errorf("preview %s: %w", spec.Tag, err)
		}
		labelled := label(fitWithin(strip, maxDim), spec.Tag)
		out := filepath.Join(outDir, "preview_"+spec.Tag+".jpg")
		if err := imageio.SaveJPEG(out, labelled, r.Quality); err != nil {
			return res, err
		}
		res.Strips = append(res.Strips, out)
	}
	return res, nil
}

// drawQuads outlines each source quad and numbers its corners in click order.
func drawQuads(img image.Image, specs []rectify.TransformSpec) image.Image {
	dc := gg.NewContextForImage(img)
	lw := math.Max(2, float64(img.Bounds().Dx())/400)
	n := 1
	for _, spec := range specs {
		q := spec.SourceQuad
		dc.SetRGB(0, 1, 0)
		dc.SetLineWidth(lw)
		dc.MoveTo(q[0].X, q[0].Y)
		for _, p := range q[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.ClosePath()
		dc.Stroke()

		for _, p := range q {
			dc.SetRGB(1, 0, 0)
			dc.DrawCircle(p.X, p.Y, lw*2)
			dc.Fill()
			dc.SetRGB(1, 1, 1)
			dc.DrawStringAnchored(fmt.Sprint(n), p.X+lw*3, p.Y-lw*3, 0, 0)
			n++
		}
		cx, cy := (q[0].X+q[2].X)/2, (q[0].Y+q[2].Y)/2
		dc.SetRGB(1, 1, 0)
		dc.DrawStringAnchored(spec.Tag, cx, cy, 0.5, 0.5)
	}
	return dc.Image()
}

func label(img image.Image, text string) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(0, 0, float64(len(text)*7+12), 20)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawString(text, 6, 14)
	return dc.Image()
}

// fitWithin scales img down so neither side exceeds maxDim.
func fitWithin(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return raster.Resize(img, nw, nh)
}
