package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rectipano/internal/fsutil"
	"rectipano/internal/geom"
	"rectipano/internal/rectify"
	"rectipano/internal/storage"
	"rectipano/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log         *slog.Logger
	store       *storage.Store
	rectifySet  rectifySetFunc
	rectifyTree rectifyTreeFunc
	panorama    panoramaFunc
	preview     previewFunc
	flatten     flattenFunc
}

type rectifySetFunc func(ctx context.Context, req tasks.RectifyRequest) (tasks.RectifyResult, error)

type rectifyTreeFunc func(ctx context.Context, req tasks.RectifyRequest) (tasks.TreeResult, error)

type panoramaFunc func(ctx context.Context, req tasks.PanoramaRequest) (tasks.PanoramaResult, error)

type previewFunc func(ctx context.Context, req tasks.PreviewRequest) (tasks.PreviewResult, error)

type flattenFunc func(ctx context.Context, src, dst string) (fsutil.FlattenResult, error)

func newRouter(logger *slog.Logger, store *storage.Store, runner *tasks.Runner) Processor {
	if runner == nil {
		runner = tasks.NewRunner(nil, store, logger)
	}
	return &router{
		log:         logger,
		store:       store,
		rectifySet:  runner.RectifySet,
		rectifyTree: runner.RectifyTree,
		panorama:    runner.Panorama,
		preview:     runner.Preview,
		flatten:     fsutil.Flatten,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobRectify:
		return r.handleRectify(ctx, job)
	case JobPanorama:
		return r.handlePanorama(ctx, job)
	case JobPreview:
		return r.handlePreview(ctx, job)
	case JobFlatten:
		return r.handleFlatten(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleRectify(ctx context.Context, job Job) Result {
	mode, err := rectify.ParseMode(getStringOption(job.Options, "mode"))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	points, err := getPointsOption(job.Options, "points")
	if err != nil {
		return Result{Job: job, Error: err}
	}
	req := tasks.RectifyRequest{
		JobID:     job.ID,
		InputDir:  job.InputPath,
		OutputDir: outputOrDefault(job.InputPath, job.Output, "_rectified"),
		Mode:      mode,
		Points:    points,
	}

	if getBoolOption(job.Options, "tree") || (len(points) == 0 && isSetTree(job.InputPath)) {
		res, err := r.rectifyTree(ctx, req)
		meta := map[string]any{
			"sets":    len(res.Sets),
			"skipped": res.SkippedSets,
		}
		written, skipped, failed := 0, 0, 0
		for _, s := range res.Sets {
			written += s.Written
			skipped += s.Skipped
			failed += s.Failed
		}
		meta["written"], meta["skippedFrames"], meta["failedFrames"] = written, skipped, failed
		return Result{Job: job, Error: err, Meta: meta}
	}

	res, err := r.rectifySet(ctx, req)
	meta := map[string]any{
		"set":       res.SetName,
		"sessionId": res.SessionID,
		"mode":      string(res.Mode),
		"frames":    res.Frames,
		"written":   res.Written,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"tagDirs":   res.TagDirs,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handlePanorama(ctx context.Context, job Job) Result {
	res, err := r.panorama(ctx, tasks.PanoramaRequest{
		JobID:     job.ID,
		InputDir:  job.InputPath,
		OutputDir: job.Output,
		Pair:      getStringOption(job.Options, "pair"),
		Order:     getStringOption(job.Options, "order"),
		NoBlend:   getBoolOption(job.Options, "noBlend"),
		Tree:      getBoolOption(job.Options, "tree"),
	})
	meta := map[string]any{
		"outputDir": res.OutputDir,
		"pairs":     res.Pairs,
		"written":   res.Written,
		"unpaired":  res.Unpaired,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	}
	if res.Sets > 0 {
		meta["sets"] = res.Sets
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handlePreview(ctx context.Context, job Job) Result {
	mode, err := rectify.ParseMode(getStringOption(job.Options, "mode"))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	points, err := getPointsOption(job.Options, "points")
	if err != nil {
		return Result{Job: job, Error: err}
	}
	res, err := r.preview(ctx, tasks.PreviewRequest{
		InputDir:  job.InputPath,
		OutputDir: job.Output,
		Mode:      mode,
		Points:    points,
		MaxDim:    getIntOption(job.Options, "maxDim"),
	})
	meta := map[string]any{
		"source":  res.Source,
		"overlay": res.Overlay,
		"strips":  res.Strips,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleFlatten(ctx context.Context, job Job) Result {
	dst := job.Output
	if dst == "" {
		dst = filepath.Join(job.InputPath, "all_images")
	}
	res, err := r.flatten(ctx, job.InputPath, dst)
	meta := map[string]any{
		"copied":     res.Copied,
		"skipped":    res.Skipped,
		"collisions": res.Collisions,
		"errors":     res.Errors,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// isSetTree reports a root holding set folders and no frames of its own.
func isSetTree(dir string) bool {
	sets, err := fsutil.ImageSets(dir)
	if err != nil || len(sets) == 0 {
		return false
	}
	frames, err := fsutil.ListFrames(dir)
	return err == nil && len(frames) == 0
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

// getIntOption also accepts float64, which is what JSON bodies decode to.
func getIntOption(options map[string]any, key string) int {
	switch val := options[key].(type) {
	case int:
		return val
	case float64:
		return int(val)
	}
	return 0
}

func getPointsOption(options map[string]any, key string) ([]geom.Point2D, error) {
	return geom.PointsFromValue(options[key])
}

// outputOrDefault keeps job outputs next to the input when none was given.
func outputOrDefault(input, output, suffix string) string {
	if output != "" {
		return output
	}
	return strings.TrimRight(input, string(os.PathSeparator)) + suffix
}
