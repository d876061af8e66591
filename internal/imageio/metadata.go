package imageio

import (
	"image"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata is what the store keeps about a source frame.
type Metadata struct {
	Path        string
	Width       int
	Height      int
	SizeBytes   int64
	CameraMake  string
	CameraModel string
	Taken       time.Time
	GPSLat      float64
	GPSLon      float64
}

// ReadMetadata returns dimensions, file size and whatever EXIF tags are
// present. Missing EXIF is not an error.
func ReadMetadata(path string) (Metadata, error) {
	meta := Metadata{Path: path}
	f, err := os.Open(path)
	if err != nil {
		return meta, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil {
		meta.SizeBytes = st.Size()
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return meta, &DecodeError{Path: path, Err: err}
	}
	meta.Width, meta.Height = cfg.Width, cfg.Height

	if _, err := f.Seek(0, 0); err != nil {
		return meta, nil
	}
	ex, err := exif.Decode(f)
	if err != nil {
		return meta, nil
	}
	if tag, err := ex.Get(exif.Make); err == nil {
		meta.CameraMake, _ = tag.StringVal()
	}
	if tag, err := ex.Get(exif.Model); err == nil {
		meta.CameraModel, _ = tag.StringVal()
	}
	if tm, err := ex.DateTime(); err == nil {
		meta.Taken = tm
	}
	if lat, lon, err := ex.LatLong(); err == nil {
		meta.GPSLat, meta.GPSLon = lat, lon
	}
	return meta, nil
}
