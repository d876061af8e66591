package tasks

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rectipano/internal/fsutil"
	"rectipano/internal/geom"
	"rectipano/internal/imageio"
	"rectipano/internal/logging"
	"rectipano/internal/rectify"
	"rectipano/internal/storage"
)

// Frame outcomes recorded per output.
const (
	FrameOK      = "ok"
	FrameSkipped = "skipped"
	FrameFailed  = "failed"
)

// Runner executes batch work against one engine. Store may be nil.
type Runner struct {
	Engine  *rectify.Engine
	Store   *storage.Store
	Logger  *slog.Logger
	Workers int // frames processed at once
	Quality int // JPEG quality

	SessionFile string // written into every set output folder
	PointsFile  string // looked up in every set input folder
}

// NewRunner fills in defaults for zero settings.
func NewRunner(engine *rectify.Engine, store *storage.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = rectify.NewEngine(rectify.DefaultConfig(), nil, nil)
	}
	return &Runner{
		Engine:      engine,
		Store:       store,
		Logger:      logger,
		Workers:     4,
		Quality:     imageio.DefaultQuality,
		SessionFile: "session.yaml",
		PointsFile:  "points.yaml",
	}
}

// RectifyRequest names one image set and where its outputs go.
type RectifyRequest struct {
	JobID     string
	InputDir  string // folder of frames sharing one camera geometry
	OutputDir string // root; outputs land in <OutputDir>/<set>/<tag>/
	Mode      rectify.Mode
	// Points overrides the points file of the set when non-empty.
	Points []geom.Point2D
}

// RectifyResult summarizes one processed set.
type RectifyResult struct {
	SetName   string            `json:"set"`
	SessionID string            `json:"session_id"`
	Mode      rectify.Mode      `json:"mode"`
	Frames    int               `json:"frames"`
	Written   int               `json:"written"`
	Skipped   int               `json:"skipped"` // frames that failed to decode
	Failed    int               `json:"failed"`  // outputs that failed to warp or encode
	TagDirs   map[string]string `json:"tag_dirs"`
	Session   string            `json:"session_file"`
}

// RectifySet prepares the set's session once and applies it to every frame.
func (r *Runner) RectifySet(ctx context.Context, req RectifyRequest) (RectifyResult, error) {
	setName := filepath.Base(filepath.Clean(req.InputDir))
	sess, err := r.loadSession(req, setName)
	if err != nil {
		return RectifyResult{SetName: setName}, err
	}
	sess, err = rectify.Prepare(sess, r.Engine.Config())
	if err != nil {
		return RectifyResult{SetName: setName}, err
	}
	logging.LogProcessingStep(r.Logger, req.JobID, "solve", "completed", map[string]any{
		"set":  setName,
		"mode": sess.Mode,
		"tags": sess.Tags(),
	})

	frames, err := fsutil.ListFrames(req.InputDir)
	if err != nil {
		return RectifyResult{SetName: setName}, fmt.Errorf("list %s: %w", req.InputDir, err)
	}

	setOut := filepath.Join(req.OutputDir, setName)
	sessionPath := filepath.Join(setOut, r.SessionFile)
	if err := rectify.SaveSession(sessionPath, sess); err != nil {
		return RectifyResult{SetName: setName}, fmt.Errorf("save session: %w", err)
	}
	if err := r.Store.RecordSession(sess); err != nil {
		r.Logger.Warn("session not recorded", "set", setName, "error", err)
	}

	res, err := r.RectifyFrames(ctx, req.JobID, sess, frames, setOut)
	res.Session = sessionPath
	return res, err
}

// loadSession builds the session from explicit points or the set's points file.
func (r *Runner) loadSession(req RectifyRequest, setName string) (rectify.BatchSession, error) {
	mode := req.Mode
	if len(req.Points) > 0 {
		if mode == "" {
			mode = rectify.ModeFocus
		}
		return rectify.NewSession(setName, mode).WithPoints(req.Points), nil
	}

	named := filepath.Join(req.InputDir, r.PointsFile)
	path := fsutil.FirstExisting(named, strings.TrimSuffix(named, ".yaml")+".yml")
	if path == "" {
		return rectify.BatchSession{}, &geom.ValidationError{Field: "points", Reason: fmt.Sprintf("%s not found", named)}
	}
	sess, err := rectify.LoadSession(path)
	if err != nil {
		return sess, err
	}
	sess.SetName = setName
	if mode != "" && mode != sess.Mode {
		sess.Mode = mode
		sess.Specs = nil
	}
	return sess, nil
}

// RectifyFrames applies a prepared session to frames with a bounded worker
// pool. Frames that fail to decode or encode are counted and skipped.
func (r *Runner) RectifyFrames(ctx context.Context, jobID string, sess rectify.BatchSession, frames []string, setOut string) (RectifyResult, error) {
	res := RectifyResult{
		SetName:   sess.SetName,
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Frames:    len(frames),
		TagDirs:   make(map[string]string, len(sess.Specs)),
	}
	if !sess.Prepared() {
		return res, fmt.Errorf("set %s: session has no solved transforms", sess.SetName)
	}
	for _, tag := range sess.Tags() {
		dir := filepath.Join(setOut, tag)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return res, fmt.Errorf("create %s: %w", dir, err)
		}
		res.TagDirs[tag] = dir
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(frames) {
		workers = len(frames)
	}

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)
	work := make(chan string)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range work {
				written, skipped, failed := r.rectifyFrame(jobID, sess, path, res.TagDirs)
				mu.Lock()
				res.Written += written
				res.Failed += failed
				if skipped {
					res.Skipped++
				}
				done++
				logging.LogProgress(r.Logger, jobID, sess.SetName, done, len(frames))
				mu.Unlock()
			}
		}()
	}

feed:
	for _, path := range frames {
		select {
		case <-ctx.Done():
			break feed
		case work <- path:
		}
	}
	close(work)
	wg.Wait()

	return res, ctx.Err()
}

func (r *Runner) rectifyFrame(jobID string, sess rectify.BatchSession, path string, tagDirs map[string]string) (written int, skipped bool, failed int) {
	img, err := imageio.Load(path)
	if err != nil {
		r.Logger.Warn("frame skipped", "set", sess.SetName, "source", path, "error", err)
		r.recordFrame(jobID, sess.SetName, path, "", "", FrameSkipped, err)
		return 0, true, 0
	}

	if meta, err := imageio.ReadMetadata(path); err == nil {
		if err := r.Store.RecordImageMetadata(meta); err != nil {
			r.Logger.Warn("metadata not recorded", "set", sess.SetName, "source", path, "error", err)
		}
	}

	base := imageio.BaseName(path)
	for _, spec := range sess.Specs {
		out := filepath.Join(tagDirs[spec.Tag], imageio.OutputName(base, spec.Tag))
		if err := r.writeSpec(img, sess.Mode, spec, out); err != nil {
			r.Logger.Error("frame output failed", "set", sess.SetName, "source", path, "tag", spec.Tag, "error", err)
			r.recordFrame(jobID, sess.SetName, path, spec.Tag, out, FrameFailed, err)
			failed++
			continue
		}
		var size int64
		if st, err := os.Stat(out); err == nil {
			size = st.Size()
		}
		logging.LogFrame(r.Logger, jobID, path, spec.Tag, out, size)
		r.recordFrame(jobID, sess.SetName, path, spec.Tag, out, FrameOK, nil)
		written++
	}
	return written, false, failed
}

func (r *Runner) writeSpec(img image.Image, mode rectify.Mode, spec rectify.TransformSpec, out string) error {
	rendered, err := r.Engine.Apply(img, mode, spec)
	if err != nil {
		return err
	}
	return imageio.SaveJPEG(out, rendered, r.Quality)
}

func (r *Runner) recordFrame(jobID, set, source, tag, output, status string, err error) {
	rec := storage.FrameRecord{
		JobID:      jobID,
		SetName:    set,
		SourcePath: source,
		Tag:        tag,
		OutputPath: output,
		Status:     status,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if err := r.Store.RecordFrame(rec); err != nil {
		r.Logger.Debug("frame not recorded", "source", source, "error", err)
	}
}

// TreeResult summarizes every set under a root.
type TreeResult struct {
	Sets        []RectifyResult   `json:"sets"`
	SkippedSets map[string]string `json:"skipped_sets,omitempty"` // set name to reason
}

// RectifyTree treats every immediate subfolder of req.InputDir as an image
// set. Sets whose points are missing, unreadable or degenerate are logged and
// skipped. When the root has no subfolders it is processed as a single set.
func (r *Runner) RectifyTree(ctx context.Context, req RectifyRequest) (TreeResult, error) {
	var out TreeResult
	sets, err := fsutil.ImageSets(req.InputDir)
	if err != nil {
		return out, err
	}
	if len(sets) == 0 {
		sets = []string{req.InputDir}
	}

	for _, dir := range sets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		setReq := req
		setReq.InputDir = dir
		res, err := r.RectifySet(ctx, setReq)
		if isBadSet(err) {
			r.Logger.Warn("set skipped", "set", res.SetName, "error", err)
			if out.SkippedSets == nil {
				out.SkippedSets = make(map[string]string)
			}
			out.SkippedSets[res.SetName] = err.Error()
			continue
		}
		if err != nil {
			return out, err
		}
		out.Sets = append(out.Sets, res)
	}
	return out, nil
}

// isBadSet reports errors that condemn one set's geometry but not the run.
func isBadSet(err error) bool {
	var valErr *geom.ValidationError
	return errors.As(err, &valErr) || errors.Is(err, geom.ErrSingular)
}
