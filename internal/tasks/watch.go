package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"rectipano/internal/fsutil"
	"rectipano/internal/rectify"
)

// WatchRequest configures folder watching.
type WatchRequest struct {
	JobID     string
	InputDir  string // root of image sets, or a single set
	OutputDir string
	Settle    time.Duration // quiet time after the last write before a frame is processed
}

// FrameBatch is a group of settled frames of one set.
type FrameBatch struct {
	SetDir string
	Frames []string
}

// Watch rectifies images as they land in the watched sets, using each set's
// saved session. It blocks until ctx is cancelled. onResult may be nil.
func (r *Runner) Watch(ctx context.Context, req WatchRequest, onResult func(RectifyResult)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dirs := []string{req.InputDir}
	sets, err := fsutil.ImageSets(req.InputDir)
	if err != nil {
		return err
	}
	dirs = append(dirs, sets...)
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			return err
		}
		r.Logger.Info("watching directory", "path", dir)
	}

	settle := req.Settle
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	tick := time.NewTicker(settle / 2)
	defer tick.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					if err := w.Add(event.Name); err != nil {
						r.Logger.Warn("watch failed", "path", event.Name, "error", err)
					}
					continue
				}
			case event.Op&fsnotify.Write == fsnotify.Write:
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, event.Name)
				continue
			default:
				continue
			}
			if fsutil.IsImageFile(event.Name) && filepath.Base(event.Name)[0] != '.' {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.Logger.Error("filesystem watcher error", "error", err)

		case now := <-tick.C:
			for _, batch := range settled(pending, now, settle) {
				res, err := r.rectifyBatch(ctx, req, batch)
				if err != nil {
					r.Logger.Warn("watched frames skipped", "set", filepath.Base(batch.SetDir), "frames", len(batch.Frames), "error", err)
					continue
				}
				if onResult != nil {
					onResult(res)
				}
			}
		}
	}
}

// settled removes frames quiet for at least settle from pending and groups
// them by set folder.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []FrameBatch {
	bySet := make(map[string][]string)
	for path, last := range pending {
		if now.Sub(last) < settle {
			continue
		}
		delete(pending, path)
		dir := filepath.Dir(path)
		bySet[dir] = append(bySet[dir], path)
	}
	batches := make([]FrameBatch, 0, len(bySet))
	for dir, frames := range bySet {
		sort.Strings(frames)
		batches = append(batches, FrameBatch{SetDir: dir, Frames: frames})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].SetDir < batches[j].SetDir })
	return batches
}

func (r *Runner) rectifyBatch(ctx context.Context, req WatchRequest, batch FrameBatch) (RectifyResult, error) {
	setName := filepath.Base(batch.SetDir)
	setOut := filepath.Join(req.OutputDir, setName)
	sess, err := r.sessionFor(batch.SetDir, setOut)
	if err != nil {
		return RectifyResult{SetName: setName}, err
	}
	return r.RectifyFrames(ctx, req.JobID, sess, batch.Frames, setOut)
}

// sessionFor finds the prepared session of a set: the saved session file,
// then the store, then the set's points file.
func (r *Runner) sessionFor(setDir, setOut string) (rectify.BatchSession, error) {
	setName := filepath.Base(setDir)
	sess, err := rectify.LoadSession(filepath.Join(setOut, r.SessionFile))
	if err == nil && sess.Prepared() {
		return sess, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return sess, err
	}
	if stored, err := r.Store.LatestSession(setName); err == nil && stored.Prepared() {
		return stored, nil
	}

	sess, err = r.loadSession(RectifyRequest{InputDir: setDir}, setName)
	if err != nil {
		return sess, err
	}
	sess, err = rectify.Prepare(sess, r.Engine.Config())
	if err != nil {
		return sess, err
	}
	if err := rectify.SaveSession(filepath.Join(setOut, r.SessionFile), sess); err != nil {
		return sess, err
	}
	if err := r.Store.RecordSession(sess); err != nil {
		r.Logger.Warn("session not recorded", "set", setName, "error", err)
	}
	return sess, nil
}
