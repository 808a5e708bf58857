// Package imageio loads and stores BGR image buffers.
//
// Loading tries OpenCV first, then Go's decoders (JPEG, PNG, WebP, TIFF,
// BMP) and finally ImageMagick, which covers HEIF and AVIF.
package imageio

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gopkg.in/gographics/imagick.v3/imagick"
)

// ErrUnsupportedFormat reports an output extension other than jpg or png.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// SaveOptions control encoding.
type SaveOptions struct {
	JPEGQuality    int // 1-100
	PNGCompression int // 0-9
}

// DefaultSaveOptions matches the configuration defaults.
var DefaultSaveOptions = SaveOptions{JPEGQuality: 95, PNGCompression: 6}

// Load decodes path into a 3-channel BGR Mat.
func Load(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, err
	}
	m := gocv.IMRead(path, gocv.IMReadColor)
	if !m.Empty() {
		return m, nil
	}
	m.Close()

	if img, err := decodeGo(path); err == nil {
		mat, err := FromImage(img)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("convert %s: %w", path, err)
		}
		return mat, nil
	}
	mat, err := loadMagick(path)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return mat, nil
}

// FromImage converts a decoded Go image into a BGR Mat.
func FromImage(img image.Image) (gocv.Mat, error) {
	return gocv.ImageToMatRGB(img)
}

func decodeGo(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func loadMagick(path string) (gocv.Mat, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ReadImage(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("imagemagick read: %w", err)
	}
	w, h := mw.GetImageWidth(), mw.GetImageHeight()
	px, err := mw.ExportImagePixels(0, 0, w, h, "BGR", imagick.PIXEL_CHAR)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("imagemagick export: %w", err)
	}
	data, ok := px.([]byte)
	if !ok || len(data) != int(w*h*3) {
		return gocv.Mat{}, errors.New("imagemagick export: unexpected pixel buffer")
	}
	raw, err := gocv.NewMatFromBytes(int(h), int(w), gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer raw.Close()
	return raw.Clone(), nil
}

// Save writes img to path, creating parent directories. The extension picks
// the encoder.
func Save(path string, img gocv.Mat, opts SaveOptions) error {
	params, err := encodeParams(filepath.Ext(path), opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if !gocv.IMWriteWithParams(path, img, params) {
		return fmt.Errorf("write %s failed", path)
	}
	return nil
}

// Encode returns img encoded with the encoder for ext (".jpg", ".png").
func Encode(img gocv.Mat, ext string) ([]byte, error) {
	return EncodeWithOptions(img, ext, DefaultSaveOptions)
}

// EncodeWithOptions is Encode with explicit quality settings.
func EncodeWithOptions(img gocv.Mat, ext string, opts SaveOptions) ([]byte, error) {
	params, err := encodeParams(ext, opts)
	if err != nil {
		return nil, err
	}
	fe := gocv.JPEGFileExt
	if normalizeExt(ext) == ".png" {
		fe = gocv.PNGFileExt
	}
	buf, err := gocv.IMEncodeWithParams(fe, img, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func encodeParams(ext string, opts SaveOptions) ([]int, error) {
	switch normalizeExt(ext) {
	case ".jpg":
		q := opts.JPEGQuality
		if q < 1 || q > 100 {
			q = DefaultSaveOptions.JPEGQuality
		}
		return []int{int(gocv.IMWriteJpegQuality), q}, nil
	case ".png":
		c := opts.PNGCompression
		if c < 0 || c > 9 {
			c = DefaultSaveOptions.PNGCompression
		}
		return []int{int(gocv.IMWritePngCompression), c}, nil
	}
	return nil, fmt.Errorf("%q: %w", ext, ErrUnsupportedFormat)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}
