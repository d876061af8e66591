package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rectipano/internal/rectify"
)

const (
	defaultConfigPath = "~/.config/rectipano/config.json"
	defaultParallel   = 2
	defaultFrameJobs  = 4

	// EnvConfig overrides the config file location.
	EnvConfig = "RECTIPANO_CONFIG"
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing     `json:"processing"`
	Logging    Logging        `json:"logging"`
	Paths      Paths          `json:"paths"`
	Geometry   rectify.Config `json:"geometry"`
	Output     Output         `json:"output"`
	Backend    Backend        `json:"backend"`
	Storage    Storage        `json:"storage"`
	Server     Server         `json:"server"`
	Watch      Watch          `json:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"` // jobs running at once
	FrameWorkers int    `json:"frame_workers"` // frames decoded/warped at once inside a job
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Output controls encoded frames.
type Output struct {
	JPEGQuality   int    `json:"jpeg_quality"`
	PreviewMaxDim int    `json:"preview_max_dim"`
	SessionFile   string `json:"session_file"` // written into every set output folder
	PointsFile    string `json:"points_file"`  // looked up inside every set input folder
}

// Backend picks the pixel implementations. "native" is the pure-Go fallback
// for builds without cgo; imagick and opencv are the library backends.
type Backend struct {
	Warp     string `json:"warp"`     // native (fallback), imagick, opencv
	Smoother string `json:"smoother"` // native (fallback), opencv
}

// Storage selects the sqlite driver.
type Storage struct {
	Driver string `json:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// Server holds listen addresses for `serve`.
type Server struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Watch tunes the folder watcher.
type Watch struct {
	SettleMillis int `json:"settle_ms"` // wait after the last write before processing
}

// Path returns the config file location honouring EnvConfig.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads path over the defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	return cfg, nil
}

// Save writes cfg as indented JSON, creating the parent directory.
func Save(path string, cfg *Config) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, append(data, '\n'), 0o644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpeg_quality must be 1-100, got %d", c.Output.JPEGQuality)
	}
	if c.Processing.ParallelJobs < 1 || c.Processing.FrameWorkers < 1 {
		return fmt.Errorf("processing.parallel_jobs and frame_workers must be positive")
	}
	switch c.Backend.Warp {
	case "native", "imagick", "opencv":
	default:
		return fmt.Errorf("backend.warp %q is not native, imagick or opencv", c.Backend.Warp)
	}
	switch c.Backend.Smoother {
	case "native", "opencv":
	default:
		return fmt.Errorf("backend.smoother %q is not native or opencv", c.Backend.Smoother)
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver %q is not sqlite or sqlite3", c.Storage.Driver)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			FrameWorkers: defaultFrameJobs,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "rectipano.db"),
		},
		Geometry: rectify.DefaultConfig(),
		Output: Output{
			JPEGQuality:   95,
			PreviewMaxDim: 900,
			SessionFile:   "session.yaml",
			PointsFile:    "points.yaml",
		},
		Backend: Backend{Warp: "native", Smoother: "native"},
		Storage: Storage{Driver: "sqlite"},
		Server:  Server{HTTPAddr: ":8080", GRPCAddr: ":9090"},
		Watch:   Watch{SettleMillis: 500},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
