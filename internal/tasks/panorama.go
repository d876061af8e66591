package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rectipano/internal/fsutil"
	"rectipano/internal/geom"
	"rectipano/internal/imageio"
	"rectipano/internal/logging"
)

// PairingError reports a left frame without its right partner.
type PairingError struct {
	Base    string
	Missing string
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("no pair for %s: %s missing", e.Base, e.Missing)
}

// Pairing schemes.
const (
	PairBend  = "bend"  // <base>_left_bend.jpg + <base>_right_bend.jpg
	PairPlain = "plain" // <base>_left.jpg + <base>_right.jpg
)

// Frame orders.
const (
	OrderRightLeft = "right-left" // right frame placed first
	OrderLeftRight = "left-right"
)

// PanoramaRequest defines which outputs to pair and join.
type PanoramaRequest struct {
	JobID     string
	InputDir  string // a set output folder, or a folder holding both halves
	OutputDir string // defaults to <InputDir>/panorama
	Pair      string
	Order     string
	NoBlend   bool
	Tree      bool // InputDir holds one rectified set per subfolder
}

// PanoramaResult captures output counts.
type PanoramaResult struct {
	OutputDir string   `json:"output_dir"`
	Pairs     int      `json:"pairs"`
	Written   int      `json:"written"`
	Unpaired  int      `json:"unpaired"`
	Skipped   int      `json:"skipped"` // pairs whose frames failed to decode
	Failed    int      `json:"failed"`
	Sets      int      `json:"sets,omitempty"` // tree mode only
	Outputs   []string `json:"outputs,omitempty"`
}

func (p *PanoramaResult) add(o PanoramaResult) {
	p.Pairs += o.Pairs
	p.Written += o.Written
	p.Unpaired += o.Unpaired
	p.Skipped += o.Skipped
	p.Failed += o.Failed
	p.Outputs = append(p.Outputs, o.Outputs...)
}

func pairTags(pair string) (string, string, error) {
	switch pair {
	case "", PairBend:
		return geom.BendLeft.Tag(), geom.BendRight.Tag(), nil
	case PairPlain:
		return "left", "right", nil
	}
	return "", "", &geom.ValidationError{Field: "pair", Reason: fmt.Sprintf("unknown pairing %q", pair)}
}

// tagDir prefers the per-tag subfolder written by RectifySet.
func tagDir(root, tag string) string {
	sub := filepath.Join(root, tag)
	if st, err := os.Stat(sub); err == nil && st.IsDir() {
		return sub
	}
	return root
}

// leftFrames lists <base>_<leftTag>.jpg files for the set rooted at dir.
func leftFrames(dir, leftTag string) ([]string, error) {
	lefts, err := filepath.Glob(filepath.Join(tagDir(dir, leftTag), "*_"+leftTag+".jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(lefts)
	return lefts, nil
}

// isPanoramaTree reports a root with no left frames of its own whose
// subfolders do hold some.
func isPanoramaTree(root, leftTag string) bool {
	if lefts, err := leftFrames(root, leftTag); err != nil || len(lefts) > 0 {
		return false
	}
	sets, err := fsutil.ImageSets(root)
	if err != nil {
		return false
	}
	for _, dir := range sets {
		if lefts, err := leftFrames(dir, leftTag); err == nil && len(lefts) > 0 {
			return true
		}
	}
	return false
}

// Panorama joins every left frame with its right partner into
// <base>_panorama.jpg. Unpaired and undecodable frames are counted and
// skipped. With req.Tree, or when InputDir only holds sets in subfolders,
// each set is written to <OutputDir>/<set>.
func (r *Runner) Panorama(ctx context.Context, req PanoramaRequest) (PanoramaResult, error) {
	leftTag, rightTag, err := pairTags(req.Pair)
	if err != nil {
		return PanoramaResult{}, err
	}
	switch req.Order {
	case "", OrderRightLeft, OrderLeftRight:
	default:
		return PanoramaResult{}, &geom.ValidationError{Field: "order", Reason: fmt.Sprintf("unknown order %q", req.Order)}
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Join(req.InputDir, "panorama")
	}
	if req.Tree || isPanoramaTree(req.InputDir, leftTag) {
		return r.panoramaTree(ctx, req, outDir, leftTag, rightTag)
	}
	res, err := r.panoramaSet(ctx, req, req.InputDir, outDir, leftTag, rightTag)
	if err == nil && res.Pairs == 0 && res.Unpaired == 0 {
		r.Logger.Warn("no left frames found", "job_id", req.JobID, "input", req.InputDir, "tag", leftTag)
	}
	return res, err
}

func (r *Runner) panoramaTree(ctx context.Context, req PanoramaRequest, outRoot, leftTag, rightTag string) (PanoramaResult, error) {
	res := PanoramaResult{OutputDir: outRoot}
	sets, err := fsutil.ImageSets(req.InputDir)
	if err != nil {
		return res, err
	}
	for _, dir := range sets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if filepath.Clean(dir) == filepath.Clean(outRoot) {
			continue
		}
		if lefts, err := leftFrames(dir, leftTag); err != nil || len(lefts) == 0 {
			r.Logger.Debug("set has no left frames", "job_id", req.JobID, "set", filepath.Base(dir))
			continue
		}
		setRes, err := r.panoramaSet(ctx, req, dir, filepath.Join(outRoot, filepath.Base(dir)), leftTag, rightTag)
		res.add(setRes)
		if err != nil {
			return res, err
		}
		res.Sets++
	}
	if res.Sets == 0 {
		r.Logger.Warn("no left frames found", "job_id", req.JobID, "input", req.InputDir, "tag", leftTag)
	}
	return res, nil
}

func (r *Runner) panoramaSet(ctx context.Context, req PanoramaRequest, inDir, outDir, leftTag, rightTag string) (PanoramaResult, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return PanoramaResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	res := PanoramaResult{OutputDir: outDir}

	lefts, err := leftFrames(inDir, leftTag)
	if err != nil {
		return res, err
	}
	rightDir := tagDir(inDir, rightTag)
	suffix := "_" + leftTag + ".jpg"

	setName := filepath.Base(filepath.Clean(inDir))
	for i, leftPath := range lefts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		base := strings.TrimSuffix(filepath.Base(leftPath), suffix)
		rightPath := filepath.Join(rightDir, imageio.OutputName(base, rightTag))
		switch out, err := r.joinPair(req, base, leftPath, rightPath, outDir); {
		case err == nil:
			res.Pairs++
			res.Written++
			res.Outputs = append(res.Outputs, out)
			r.recordFrame(req.JobID, setName, leftPath, "panorama", out, FrameOK, nil)
		case isPairing(err):
			r.Logger.Warn("frame unpaired", "job_id", req.JobID, "error", err)
			res.Unpaired++
		case isDecode(err):
			r.Logger.Warn("pair skipped", "job_id", req.JobID, "base", base, "error", err)
			res.Pairs++
			res.Skipped++
			r.recordFrame(req.JobID, setName, leftPath, "panorama", "", FrameSkipped, err)
		default:
			r.Logger.Error("panorama failed", "job_id", req.JobID, "base", base, "error", err)
			res.Pairs++
			res.Failed++
			r.recordFrame(req.JobID, setName, leftPath, "panorama", out, FrameFailed, err)
		}
		logging.LogProgress(r.Logger, req.JobID, setName, i+1, len(lefts))
	}
	return res, nil
}

func (r *Runner) joinPair(req PanoramaRequest, base, leftPath, rightPath, outDir string) (string, error) {
	if _, err := os.Stat(rightPath); err != nil {
		return "", &PairingError{Base: base, Missing: rightPath}
	}
	left, err := imageio.Load(leftPath)
	if err != nil {
		return "", err
	}
	right, err := imageio.Load(rightPath)
	if err != nil {
		return "", err
	}

	first, second := right, left
	if req.Order == OrderLeftRight {
		first, second = left, right
	}
	joined, err := r.Engine.Join(first, second, !req.NoBlend)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, imageio.OutputName(base, "panorama"))
	return out, imageio.SaveJPEG(out, joined, r.Quality)
}

func isPairing(err error) bool {
	var perr *PairingError
	return errors.As(err, &perr)
}

func isDecode(err error) bool {
	var derr *imageio.DecodeError
	return errors.As(err, &derr)
}
