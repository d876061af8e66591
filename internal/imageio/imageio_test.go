package imageio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "nested", "frame_left.jpg")
	if err := SaveJPEG(path, img, DefaultQuality); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bounds().Dx() != 16 || got.Bounds().Dy() != 8 {
		t.Fatalf("bounds %v", got.Bounds())
	}
	r, _, _, _ := got.At(8, 4).RGBA()
	if d := int(r>>8) - 200; d < -4 || d > 4 {
		t.Fatalf("red channel drifted to %d", r>>8)
	}

	meta, err := ReadMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Width != 16 || meta.Height != 8 || meta.SizeBytes == 0 {
		t.Fatalf("metadata %+v", meta)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func TestLoadReturnsDecodeError(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{bad, filepath.Join(dir, "missing.jpg")} {
		_, err := Load(p)
		var de *DecodeError
		if !errors.As(err, &de) || de.Path != p {
			t.Fatalf("%s: err = %v", p, err)
		}
	}
}

func TestNames(t *testing.T) {
	if got := BaseName("/a/b/IMG_0001.JPG"); got != "IMG_0001" {
		t.Fatalf("BaseName = %q", got)
	}
	if got := OutputName("IMG_0001", "left_bend"); got != "IMG_0001_left_bend.jpg" {
		t.Fatalf("OutputName = %q", got)
	}
}
