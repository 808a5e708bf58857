package detect

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lapscreen/internal/geometry"
)

// Annotation is a hand-editable screen outline stored beside an image.
type Annotation struct {
	Image      string      `yaml:"image,omitempty"`
	Source     string      `yaml:"source,omitempty"`
	Confidence float64     `yaml:"confidence,omitempty"`
	Polygon    [][]float64 `yaml:"polygon,flow"`
}

// AnnotationPath returns the sidecar path for an image.
func AnnotationPath(imagePath, suffix string) string {
	if suffix == "" {
		suffix = ".screen.yaml"
	}
	return imagePath + suffix
}

// LoadAnnotation reads an annotation file. A missing file returns an error
// matching os.ErrNotExist.
func LoadAnnotation(path string) (*Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Annotation
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &a, nil
}

// SaveAnnotation writes a to path.
func SaveAnnotation(path string, a *Annotation) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// NewAnnotation records a detection's corners.
func NewAnnotation(imagePath string, d *Detection) *Annotation {
	return &Annotation{
		Image:      imagePath,
		Source:     d.Source,
		Confidence: d.Confidence,
		Polygon:    d.Polygon.Pairs(),
	}
}

type annotated struct {
	inner  ScreenDetector
	suffix string
}

// WithAnnotations wraps d so an annotation file beside the image replaces
// the detector's answer. The inner detector only runs for unannotated images;
// with a nil d only annotated images have a screen.
func WithAnnotations(d ScreenDetector, suffix string) ScreenDetector {
	return &annotated{inner: d, suffix: suffix}
}

func (a *annotated) Detect(ctx context.Context, f Frame) (*Detection, error) {
	if f.Path != "" {
		ann, err := LoadAnnotation(AnnotationPath(f.Path, a.suffix))
		switch {
		case err == nil:
			poly := geometry.PolygonFromPairs(ann.Polygon)
			if poly.Len() >= 3 {
				return fromPolygon(poly, f.Image.Cols(), f.Image.Rows(), 1, "annotation")
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}
	if a.inner == nil {
		return nil, nil
	}
	return a.inner.Detect(ctx, f)
}

// Close closes the wrapped detector.
func (a *annotated) Close() error {
	return Close(a.inner)
}

// Unwrap returns the wrapped detector.
func (a *annotated) Unwrap() ScreenDetector { return a.inner }
