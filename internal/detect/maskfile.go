package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"lapscreen/internal/mask"
)

// MaskFileDetector reads masks produced by an external segmenter, stored
// next to each image as <stem><suffix>.png.
type MaskFileDetector struct {
	suffix string
}

func NewMaskFileDetector(suffix string) *MaskFileDetector {
	if suffix == "" {
		suffix = "_mask"
	}
	return &MaskFileDetector{suffix: suffix}
}

// MaskPath returns the mask location for an image.
func (m *MaskFileDetector) MaskPath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + m.suffix + ".png"
}

// Detect loads the sidecar mask. A missing or blank mask means no screen.
func (m *MaskFileDetector) Detect(ctx context.Context, f Frame) (*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := m.MaskPath(f.Path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	raw := gocv.IMRead(path, gocv.IMReadGrayScale)
	if raw.Empty() {
		raw.Close()
		return nil, errors.New("unreadable mask " + path)
	}
	defer raw.Close()

	bin := mask.Binarize(raw)
	if !f.Image.Empty() && (bin.Cols() != f.Image.Cols() || bin.Rows() != f.Image.Rows()) {
		resized := mask.Resize(bin, f.Image.Cols(), f.Image.Rows())
		bin.Close()
		bin = resized
	}
	return fromMask(bin, 1, "mask")
}
