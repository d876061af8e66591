package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rectipano/internal/fsutil"
	"rectipano/internal/geom"
	"rectipano/internal/rectify"
	"rectipano/internal/tasks"
)

func TestRouterRectifyParsesOptions(t *testing.T) {
	var got tasks.RectifyRequest
	r := &router{
		log: slog.Default(),
		rectifySet: func(ctx context.Context, req tasks.RectifyRequest) (tasks.RectifyResult, error) {
			got = req
			return tasks.RectifyResult{SetName: "s", Written: 6, Mode: req.Mode}, nil
		},
		rectifyTree: func(ctx context.Context, req tasks.RectifyRequest) (tasks.TreeResult, error) {
			t.Fatalf("tree handler should not run")
			return tasks.TreeResult{}, nil
		},
	}

	job := Job{
		ID:        "rectify-1",
		Type:      JobRectify,
		InputPath: t.TempDir(),
		Output:    t.TempDir(),
		Options: map[string]any{
			"mode":   "bend",
			"points": "0,0 10,0 10,10 0,10",
		},
	}
	res := r.Process(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.Mode != rectify.ModeDualBend || len(got.Points) != 4 || got.JobID != "rectify-1" {
		t.Fatalf("unexpected request %+v", got)
	}
	if res.Meta["written"] != 6 || res.Meta["mode"] != "dual-bend" {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterRectifyUsesTreeForSetFolders(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "set_a"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	treeCalls := 0
	r := &router{
		log: slog.Default(),
		rectifySet: func(ctx context.Context, req tasks.RectifyRequest) (tasks.RectifyResult, error) {
			t.Fatalf("set handler should not run")
			return tasks.RectifyResult{}, nil
		},
		rectifyTree: func(ctx context.Context, req tasks.RectifyRequest) (tasks.TreeResult, error) {
			treeCalls++
			if req.OutputDir != root+"_rectified" {
				t.Fatalf("unexpected default output %s", req.OutputDir)
			}
			return tasks.TreeResult{
				Sets:        []tasks.RectifyResult{{Written: 2}, {Written: 3, Skipped: 1}},
				SkippedSets: map[string]string{"c": "invalid points"},
			}, nil
		},
	}

	res := r.Process(context.Background(), Job{ID: "tree", Type: JobRectify, InputPath: root})
	if res.Error != nil || treeCalls != 1 {
		t.Fatalf("expected one tree call, got %d (%v)", treeCalls, res.Error)
	}
	if res.Meta["sets"] != 2 || res.Meta["written"] != 5 || res.Meta["skippedFrames"] != 1 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterRejectsBadOptions(t *testing.T) {
	r := &router{log: slog.Default()}
	cases := []struct {
		name string
		job  Job
	}{
		{"mode", Job{Type: JobRectify, Options: map[string]any{"mode": "fisheye"}}},
		{"points", Job{Type: JobRectify, Options: map[string]any{"points": []any{"bogus"}}}},
		{"preview points", Job{Type: JobPreview, Options: map[string]any{"points": 42}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := r.Process(context.Background(), tc.job)
			var verr *geom.ValidationError
			if !errors.As(res.Error, &verr) {
				t.Fatalf("expected ValidationError, got %v", res.Error)
			}
		})
	}
}

func TestRouterUnknownJobType(t *testing.T) {
	r := &router{log: slog.Default()}
	res := r.Process(context.Background(), Job{Type: "stack"})
	if res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestRouterPanoramaPassesFlags(t *testing.T) {
	var got tasks.PanoramaRequest
	r := &router{
		log: slog.Default(),
		panorama: func(ctx context.Context, req tasks.PanoramaRequest) (tasks.PanoramaResult, error) {
			got = req
			return tasks.PanoramaResult{Written: 4, Unpaired: 1}, nil
		},
	}
	res := r.Process(context.Background(), Job{
		ID:        "pano",
		Type:      JobPanorama,
		InputPath: "/in",
		Options:   map[string]any{"order": "left-right", "noBlend": true, "pair": "plain"},
	})
	if res.Error != nil {
		t.Fatalf("unexpected error %v", res.Error)
	}
	if got.Order != tasks.OrderLeftRight || !got.NoBlend || got.Pair != tasks.PairPlain || got.InputDir != "/in" {
		t.Fatalf("unexpected request %+v", got)
	}
	if res.Meta["unpaired"] != 1 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterPanoramaTreeOption(t *testing.T) {
	var got tasks.PanoramaRequest
	r := &router{
		log: slog.Default(),
		panorama: func(ctx context.Context, req tasks.PanoramaRequest) (tasks.PanoramaResult, error) {
			got = req
			return tasks.PanoramaResult{Sets: 2, Pairs: 2, Written: 2}, nil
		},
	}
	res := r.Process(context.Background(), Job{
		ID:        "pano-tree",
		Type:      JobPanorama,
		InputPath: "/shoot_rectified",
		Options:   map[string]any{"tree": true},
	})
	if res.Error != nil {
		t.Fatalf("unexpected error %v", res.Error)
	}
	if !got.Tree {
		t.Fatalf("expected tree request, got %+v", got)
	}
	if res.Meta["sets"] != 2 || res.Meta["written"] != 2 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterFlattenDefaultsDestination(t *testing.T) {
	var gotDst string
	r := &router{
		log: slog.Default(),
		flatten: func(ctx context.Context, src, dst string) (fsutil.FlattenResult, error) {
			gotDst = dst
			return fsutil.FlattenResult{Copied: 3}, nil
		},
	}
	res := r.Process(context.Background(), Job{Type: JobFlatten, InputPath: "/photos"})
	if gotDst != filepath.Join("/photos", "all_images") {
		t.Fatalf("unexpected destination %s", gotDst)
	}
	if res.Meta["copied"] != 3 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestGetPointsOptionFromJSON(t *testing.T) {
	var opts map[string]any
	body := `{"points": [[1,2],[3,4],{"x":5,"y":6},[7,8]]}`
	if err := json.Unmarshal([]byte(body), &opts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pts, err := getPointsOption(opts, "points")
	if err != nil {
		t.Fatalf("getPointsOption: %v", err)
	}
	want := []geom.Point2D{geom.Pt(1, 2), geom.Pt(3, 4), geom.Pt(5, 6), geom.Pt(7, 8)}
	for i := range want {
		if pts[i] != want[i] {
			t.Fatalf("point %d: got %v want %v", i, pts[i], want[i])
		}
	}
}

type stubProcessor struct {
	calls chan Job
}

func (s *stubProcessor) Process(ctx context.Context, job Job) Result {
	s.calls <- job
	if job.ID == "bad" {
		return Result{Job: job, Error: errors.New("boom")}
	}
	return Result{Job: job, Meta: map[string]any{"ok": true}}
}

func TestPipelineBroadcastsResults(t *testing.T) {
	stub := &stubProcessor{calls: make(chan Job, 2)}
	p := New(context.Background(), 1, slog.Default(), nil, nil)
	p.processor = stub
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	for _, id := range []string{"good", "bad"} {
		if err := p.Submit(Job{ID: id, Type: JobFlatten}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	statuses := map[string]string{}
	timeout := time.After(5 * time.Second)
	for len(statuses) < 2 {
		select {
		case res := <-results:
			statuses[res.Job.ID] = res.Status()
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %v", statuses)
		}
	}
	if statuses["good"] != "completed" || statuses["bad"] != "failed" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestParseJobType(t *testing.T) {
	if jt, err := ParseJobType("panorama"); err != nil || jt != JobPanorama {
		t.Fatalf("expected panorama, got %v %v", jt, err)
	}
	if _, err := ParseJobType("timelapse"); err == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestNewJobNormalisesBend(t *testing.T) {
	job, err := NewJob("bend", "/in", "/out", nil)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if job.Type != JobRectify || job.Options["mode"] != "dual-bend" {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := NewJob("rectify", "", "", nil); err == nil {
		t.Fatalf("expected error for missing input")
	}
	ev := Result{Job: job, Error: errors.New("boom")}.Event()
	if ev.Status != "failed" || ev.Error != "boom" || ev.ID != job.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
}
