package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultConfigPath = "~/.config/lapscreen/config.json"
	defaultParallel   = 4
	envPrefix         = "LAPSCREEN_"
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Storage    Storage    `json:"storage"`
	Detector   Detector   `json:"detector"`
	Editing    Editing    `json:"editing"`
	Output     Output     `json:"output"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	QueueSize    int    `json:"queue_size"` // 0 = 2*parallel_jobs
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

// Storage picks the database/sql driver for the job store.
type Storage struct {
	Driver string `json:"driver"` // sqlite (pure Go), sqlite3 (cgo)
}

// Detector configures the screen detector backend.
type Detector struct {
	Backend          string  `json:"backend"` // onnx, remote, mask
	Confidence       float64 `json:"confidence"`
	IoU              float64 `json:"iou"`
	ModelPath        string  `json:"model_path"`
	LibraryPath      string  `json:"library_path"` // onnxruntime shared library
	InputSize        int     `json:"input_size"`
	NumClasses       int     `json:"num_classes"`
	MaskDim          int     `json:"mask_dim"`
	RemoteURL        string  `json:"remote_url"`
	TimeoutSeconds   int     `json:"timeout_seconds"`
	MaskSuffix       string  `json:"mask_suffix"`
	AnnotationSuffix string  `json:"annotation_suffix"`
}

// Editing controls what happens to the detected screen.
type Editing struct {
	FillMode        string  `json:"fill_mode"`  // black, color, image, none
	FillColor       string  `json:"fill_color"` // #rrggbb
	FillImage       string  `json:"fill_image"`
	UsePerspective  bool    `json:"use_perspective"`
	Blend           bool    `json:"blend"`
	AutoCrop        bool    `json:"auto_crop"`
	CropMargin      int     `json:"crop_margin"`
	BackgroundColor string  `json:"background_color"`
	CropAspectRatio float64 `json:"crop_aspect_ratio"` // 0 = keep
}

// Output controls encoding and final framing.
type Output struct {
	Format         string `json:"format"` // png, jpg
	JPEGQuality    int    `json:"jpeg_quality"`
	PNGCompression int    `json:"png_compression"`
	Suffix         string `json:"suffix"`
	Resize         bool   `json:"resize"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	MaintainAspect bool   `json:"maintain_aspect"`
	Fit            string `json:"fit"` // none, fit, fill, smart
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	Addr     string `json:"addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Path returns the config file location honoring LAPSCREEN_CONFIG.
func Path() string {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(Path())
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", expanded, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", expanded, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "lapscreen.db"),
		},
		Storage: Storage{Driver: "sqlite"},
		Detector: Detector{
			Backend:          "onnx",
			Confidence:       0.25,
			IoU:              0.45,
			ModelPath:        "models/screen_detector.onnx",
			InputSize:        640,
			NumClasses:       1,
			MaskDim:          32,
			TimeoutSeconds:   30,
			MaskSuffix:       "_mask",
			AnnotationSuffix: ".screen.yaml",
		},
		Editing: Editing{
			FillMode:        "black",
			FillColor:       "#000000",
			UsePerspective:  true,
			Blend:           true,
			CropMargin:      10,
			BackgroundColor: "#ffffff",
		},
		Output: Output{
			Format:         "png",
			JPEGQuality:    95,
			PNGCompression: 6,
			Suffix:         "_processed",
			Width:          2000,
			Height:         1500,
			MaintainAspect: true,
			Fit:            "none",
		},
		Server: Server{
			Addr:     ":8080",
			GRPCAddr: ":9090",
		},
	}
}

// QueueSize resolves the job queue capacity.
func (c *Config) QueueSize() int {
	if c.Processing.QueueSize > 0 {
		return c.Processing.QueueSize
	}
	return max(1, c.Processing.ParallelJobs) * 2
}

// Validate rejects values the pipeline cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.ParallelJobs < 1 {
		errs = append(errs, fmt.Errorf("processing.parallel_jobs must be >= 1, got %d", c.Processing.ParallelJobs))
	}
	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		errs = append(errs, fmt.Errorf("detector.confidence must be in [0,1], got %g", c.Detector.Confidence))
	}
	if c.Detector.IoU < 0 || c.Detector.IoU > 1 {
		errs = append(errs, fmt.Errorf("detector.iou must be in [0,1], got %g", c.Detector.IoU))
	}
	switch c.Detector.Backend {
	case "onnx", "remote", "mask":
	default:
		errs = append(errs, fmt.Errorf("detector.backend %q is not one of onnx, remote, mask", c.Detector.Backend))
	}
	if c.Detector.Backend == "remote" && c.Detector.RemoteURL == "" {
		errs = append(errs, errors.New("detector.remote_url is required for the remote backend"))
	}
	switch c.Editing.FillMode {
	case "black", "color", "image", "none":
	default:
		errs = append(errs, fmt.Errorf("editing.fill_mode %q is not one of black, color, image, none", c.Editing.FillMode))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("output.jpeg_quality must be in [1,100], got %d", c.Output.JPEGQuality))
	}
	if c.Output.PNGCompression < 0 || c.Output.PNGCompression > 9 {
		errs = append(errs, fmt.Errorf("output.png_compression must be in [0,9], got %d", c.Output.PNGCompression))
	}
	switch strings.ToLower(c.Output.Format) {
	case "png", "jpg", "jpeg":
	default:
		errs = append(errs, fmt.Errorf("output.format %q is not supported", c.Output.Format))
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of sqlite, sqlite3", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// applyEnv overlays LAPSCREEN_* variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "MODEL_PATH"); v != "" {
		c.Detector.ModelPath = v
	}
	if v := os.Getenv(envPrefix + "DETECTOR"); v != "" {
		c.Detector.Backend = v
	}
	if v := os.Getenv(envPrefix + "OUTPUT_FORMAT"); v != "" {
		c.Output.Format = v
	}
	if v := os.Getenv(envPrefix + "PARALLEL_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPARALLEL_JOBS: %w", envPrefix, err)
		}
		c.Processing.ParallelJobs = n
	}
	return nil
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
