package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"time"

	"rectipano/internal/imageio"
	"rectipano/internal/logging"
	"rectipano/internal/pipeline"
	"rectipano/internal/storage"
	"rectipano/internal/tasks"
)

func main() {
	fmt.Println("🔍 Testing rectify + panorama end to end")

	work, err := os.MkdirTemp("", "rectipano-integration-")
	if err != nil {
		log.Fatal("Failed to create work dir:", err)
	}
	defer os.RemoveAll(work)

	store, err := storage.New(filepath.Join(work, "test_integration.db"))
	if err != nil {
		log.Fatal("Failed to create storage:", err)
	}
	defer store.Close()

	setDir := filepath.Join(work, "set1")
	if err := writeFrames(setDir, 3); err != nil {
		log.Fatal("Failed to write frames:", err)
	}
	fmt.Printf("✅ Wrote 3 synthetic frames to %s\n", setDir)

	logger := logging.New("warn", "text")
	runner := tasks.NewRunner(nil, store, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	pipe := pipeline.New(ctx, 1, logger, store, runner)
	defer pipe.Stop()

	results, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	outDir := filepath.Join(work, "rectified")
	bend, err := pipeline.NewJob("bend", setDir, outDir, map[string]any{"points": "60,40 360,60 350,280 70,300"})
	if err != nil {
		log.Fatal(err)
	}
	pano, err := pipeline.NewJob(string(pipeline.JobPanorama), filepath.Join(outDir, "set1"), "", nil)
	if err != nil {
		log.Fatal(err)
	}
	for _, job := range []pipeline.Job{bend, pano} {
		fmt.Printf("\n🚀 %s %s\n", job.Type, job.ID)
		if err := pipe.Submit(job); err != nil {
			log.Fatal("Failed to submit:", err)
		}
		res := waitFor(ctx, results, job.ID)
		if res.Error != nil {
			log.Fatalf("❌ %s failed: %v", job.Type, res.Error)
		}
		for k, v := range res.Meta {
			fmt.Printf("   %s: %v\n", k, v)
		}
		counts, err := store.FrameCounts(job.ID)
		if err == nil && len(counts) > 0 {
			fmt.Printf("   frames: %v\n", counts)
		}
	}

	jobs, err := store.RecentJobs(10)
	if err != nil {
		log.Fatal("Failed to list jobs:", err)
	}
	fmt.Printf("\n📊 Recorded jobs:\n")
	for _, j := range jobs {
		fmt.Printf("   %s %s %s\n", j.ID, j.JobType, j.Status)
	}
	if sess, err := store.LatestSession("set1"); err == nil {
		fmt.Printf("   session %s mode=%s tags=%v\n", sess.ID, sess.Mode, sess.Tags())
	}
	fmt.Println("\n✅ Test completed.")
}

func waitFor(ctx context.Context, results <-chan pipeline.Result, id string) pipeline.Result {
	for {
		select {
		case <-ctx.Done():
			log.Fatal("⏳ Timed out waiting for ", id)
		case res, ok := <-results:
			if !ok {
				log.Fatal("pipeline stopped")
			}
			if res.Job.ID == id {
				return res
			}
		}
	}
}

// writeFrames renders a checkerboard with a shifting tint per frame.
func writeFrames(dir string, n int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 420, 340))
		for y := 0; y < 340; y++ {
			for x := 0; x < 420; x++ {
				v := uint8(40)
				if (x/30+y/30)%2 == 0 {
					v = 220
				}
				img.SetRGBA(x, y, color.RGBA{v, uint8(int(v) * (i + 1) / n), 255 - v, 255})
			}
		}
		name := filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := imageio.SaveJPEG(name, img, 95); err != nil {
			return err
		}
	}
	return nil
}
