// Package detect locates the laptop screen in a photo.
//
// A ScreenDetector returns the screen as a binary mask plus four ordered
// corners. Backends are an ONNX YOLOv8-seg model, a remote inference service
// and precomputed mask files; hand-edited YAML annotations can supersede any
// of them.
package detect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"lapscreen/internal/config"
	"lapscreen/internal/geometry"
	"lapscreen/internal/mask"
)

// Frame is one image submitted for detection.
type Frame struct {
	Path  string
	Image gocv.Mat
}

// Detection is a located screen. Mask has the frame's size; Polygon holds
// four corners in top-left, top-right, bottom-right, bottom-left order.
type Detection struct {
	Mask       gocv.Mat
	Polygon    geometry.Polygon
	Box        geometry.BoundingBox
	Confidence float64
	Source     string
}

// Close releases the mask.
func (d *Detection) Close() error {
	if d == nil {
		return nil
	}
	return d.Mask.Close()
}

// ScreenDetector finds a screen in a frame. A nil Detection with a nil error
// means no screen was found.
type ScreenDetector interface {
	Detect(ctx context.Context, f Frame) (*Detection, error)
}

// New builds the detector selected by cfg.Backend, wrapped so annotation
// files take precedence.
func New(cfg config.Detector, logger *slog.Logger) (ScreenDetector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var (
		d   ScreenDetector
		err error
	)
	switch cfg.Backend {
	case "onnx":
		d, err = NewONNXDetector(cfg, logger)
	case "remote":
		d = NewRemoteDetector(cfg.RemoteURL, time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.Confidence)
	case "mask":
		d = NewMaskFileDetector(cfg.MaskSuffix)
	default:
		err = fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("detector ready", "backend", cfg.Backend)
	return WithAnnotations(d, cfg.AnnotationSuffix), nil
}

// Close releases detector resources when the backend holds any.
func Close(d ScreenDetector) error {
	if c, ok := d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// fromMask derives corners and box from a binary mask; it takes ownership of m.
// An empty mask yields no detection.
func fromMask(m gocv.Mat, confidence float64, source string) (*Detection, error) {
	box, ok := mask.Bounds(m)
	if !ok {
		m.Close()
		return nil, nil
	}
	q, err := mask.Quad(m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("screen corners: %w", err)
	}
	return &Detection{Mask: m, Polygon: q.Polygon(), Box: box, Confidence: confidence, Source: source}, nil
}

// fromPolygon rasterizes poly at the frame size. Four-point polygons keep
// their corners; any other outline is reduced to a quad through its mask.
func fromPolygon(poly geometry.Polygon, width, height int, confidence float64, source string) (*Detection, error) {
	m, err := mask.FromPolygon(poly, width, height)
	if err != nil {
		return nil, err
	}
	if poly.Len() != 4 {
		return fromMask(m, confidence, source)
	}
	q, err := poly.Ordered()
	if err != nil {
		m.Close()
		return nil, err
	}
	box, ok := mask.Bounds(m)
	if !ok {
		m.Close()
		return nil, nil
	}
	return &Detection{Mask: m, Polygon: q.Polygon(), Box: box, Confidence: confidence, Source: source}, nil
}
