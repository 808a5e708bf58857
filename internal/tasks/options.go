package tasks

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"lapscreen/internal/config"
	"lapscreen/internal/framing"
	"lapscreen/internal/fsutil"
	"lapscreen/internal/imageio"
)

// FillMode selects what replaces the detected screen.
type FillMode string

const (
	FillBlack FillMode = "black"
	FillColor FillMode = "color"
	FillImage FillMode = "image"
	FillNone  FillMode = "none"
)

// ParseFillMode validates a fill mode name.
func ParseFillMode(s string) (FillMode, error) {
	switch m := FillMode(strings.ToLower(s)); m {
	case FillBlack, FillColor, FillImage, FillNone:
		return m, nil
	}
	return "", fmt.Errorf("unknown fill mode %q", s)
}

// ProcessingOptions drive a single ProcessFile call.
type ProcessingOptions struct {
	// Detection
	Confidence float64

	// Screen fill
	FillMode       FillMode
	FillColor      color.RGBA
	FillImagePath  string
	UsePerspective bool
	Blend          bool

	// Cropping
	AutoCrop        bool
	CropMargin      int
	Background      color.RGBA
	CropAspectRatio float64 // 0 keeps the aspect ratio

	// Resizing
	Resize         bool
	Width          int
	Height         int
	MaintainAspect bool
	Fit            framing.FitMode

	// Output
	Format         string // png, jpg
	JPEGQuality    int
	PNGCompression int
	Suffix         string
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() ProcessingOptions {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// OptionsFromConfig converts the editing and output sections of cfg.
func OptionsFromConfig(cfg *config.Config) (ProcessingOptions, error) {
	mode, err := ParseFillMode(cfg.Editing.FillMode)
	if err != nil {
		return ProcessingOptions{}, err
	}
	fill, err := ParseHexColor(cfg.Editing.FillColor)
	if err != nil {
		return ProcessingOptions{}, fmt.Errorf("fill color: %w", err)
	}
	bg, err := ParseHexColor(cfg.Editing.BackgroundColor)
	if err != nil {
		return ProcessingOptions{}, fmt.Errorf("background color: %w", err)
	}
	return ProcessingOptions{
		Confidence:      cfg.Detector.Confidence,
		FillMode:        mode,
		FillColor:       fill,
		FillImagePath:   cfg.Editing.FillImage,
		UsePerspective:  cfg.Editing.UsePerspective,
		Blend:           cfg.Editing.Blend,
		AutoCrop:        cfg.Editing.AutoCrop,
		CropMargin:      cfg.Editing.CropMargin,
		Background:      bg,
		CropAspectRatio: cfg.Editing.CropAspectRatio,
		Resize:          cfg.Output.Resize,
		Width:           cfg.Output.Width,
		Height:          cfg.Output.Height,
		MaintainAspect:  cfg.Output.MaintainAspect,
		Fit:             framing.ParseFitMode(cfg.Output.Fit),
		Format:          fsutil.NormalizeFormat(cfg.Output.Format),
		JPEGQuality:     cfg.Output.JPEGQuality,
		PNGCompression:  cfg.Output.PNGCompression,
		Suffix:          cfg.Output.Suffix,
	}, nil
}

func (o ProcessingOptions) saveOptions() imageio.SaveOptions {
	return imageio.SaveOptions{JPEGQuality: o.JPEGQuality, PNGCompression: o.PNGCompression}
}

func (o ProcessingOptions) format() string {
	if o.Format == "" {
		return "png"
	}
	return fsutil.NormalizeFormat(o.Format)
}

// ParseHexColor reads #rgb or #rrggbb. The empty string is black.
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return color.RGBA{A: 255}, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// ProcessingResult is the outcome for one image.
type ProcessingResult struct {
	InputPath      string        `json:"input_path"`
	OutputPath     string        `json:"output_path,omitempty"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	ScreenDetected bool          `json:"screen_detected"`
	Confidence     float64       `json:"confidence"`
	Width          int           `json:"width,omitempty"`
	Height         int           `json:"height,omitempty"`
	OutputBytes    int64         `json:"output_bytes,omitempty"`
}
