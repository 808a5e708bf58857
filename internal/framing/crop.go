// Package framing crops, pads and resizes image buffers to catalog
// dimensions.
//
// Framing operations never fail: a request that cannot be honoured returns a
// copy of the input. Every result is a new Mat the caller must Close.
package framing

import (
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"lapscreen/internal/geometry"
	"lapscreen/internal/mask"
)

const (
	// RatioTolerance is the aspect-ratio difference treated as a match.
	RatioTolerance = 0.01
	// DefaultTolerance is the per-channel background tolerance of AutoCrop.
	DefaultTolerance = 30
)

// White is the default padding color.
var White = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// CropToBBox returns the part of img inside box, clamped to the image. The
// result is empty when nothing of box lies inside the image.
func CropToBBox(img gocv.Mat, box geometry.BoundingBox) gocv.Mat {
	box = box.Clamp(img.Cols(), img.Rows())
	if box.Empty() {
		return gocv.NewMat()
	}
	region := img.Region(box.Rect())
	defer region.Close()
	return region.Clone()
}

// CropToAspectRatio trims the oversized axis so width/height matches ratio,
// centered or anchored at the top-left.
func CropToAspectRatio(img gocv.Mat, ratio float64, fromCenter bool) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	if ratio <= 0 || w == 0 || h == 0 {
		return img.Clone()
	}
	if math.Abs(float64(w)/float64(h)-ratio) < RatioTolerance {
		return img.Clone()
	}
	cw, ch := ratioSize(w, h, ratio)
	x, y := 0, 0
	if fromCenter {
		x, y = (w-cw)/2, (h-ch)/2
	}
	return CropToBBox(img, geometry.BoundingBox{X: x, Y: y, Width: cw, Height: ch})
}

// ratioSize finds the largest crop of a w x h image whose ratio lies within
// RatioTolerance of ratio. Only the oversized axis shrinks unless rounding on
// a small image forces both to.
func ratioSize(w, h int, ratio float64) (int, int) {
	if float64(w)/float64(h) > ratio {
		for ch := h; ch > 0; ch-- {
			cw := int(math.Round(float64(ch) * ratio))
			if cw >= 1 && cw <= w && math.Abs(float64(cw)/float64(ch)-ratio) < RatioTolerance {
				return cw, ch
			}
		}
		return max(1, min(w, int(float64(h)*ratio))), h
	}
	for cw := w; cw > 0; cw-- {
		ch := int(math.Round(float64(cw) / ratio))
		if ch >= 1 && ch <= h && math.Abs(float64(cw)/float64(ch)-ratio) < RatioTolerance {
			return cw, ch
		}
	}
	return w, max(1, min(h, int(float64(w)/ratio)))
}

// AutoCrop removes a uniform background border. Pixels within tolerance of
// background on every channel count as background; the remaining content is
// cropped with margin pixels of context. A negative tolerance selects
// DefaultTolerance. An image with no foreground is returned unchanged.
func AutoCrop(img gocv.Mat, background color.RGBA, tolerance, margin int) gocv.Mat {
	if img.Empty() {
		return img.Clone()
	}
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	lo := gocv.NewScalar(
		float64(max(0, int(background.B)-tolerance)),
		float64(max(0, int(background.G)-tolerance)),
		float64(max(0, int(background.R)-tolerance)), 0)
	hi := gocv.NewScalar(
		float64(min(255, int(background.B)+tolerance)),
		float64(min(255, int(background.G)+tolerance)),
		float64(min(255, int(background.R)+tolerance)), 0)

	bg := gocv.NewMat()
	defer bg.Close()
	gocv.InRangeWithScalar(img, lo, hi, &bg)
	fg := gocv.NewMat()
	defer fg.Close()
	gocv.BitwiseNot(bg, &fg)

	box, ok := mask.Bounds(fg)
	if !ok {
		return img.Clone()
	}
	box = geometry.BoundingBox{
		X:      box.X - margin,
		Y:      box.Y - margin,
		Width:  box.Width + 2*margin,
		Height: box.Height + 2*margin,
	}
	return CropToBBox(img, box)
}

// SmartCrop crops to the target ratio around the centre, then stretches to
// exactly width x height.
func SmartCrop(img gocv.Mat, width, height int) gocv.Mat {
	if width <= 0 || height <= 0 || (img.Cols() == width && img.Rows() == height) {
		return img.Clone()
	}
	cropped := CropToAspectRatio(img, float64(width)/float64(height), true)
	defer cropped.Close()
	return Resize(cropped, width, height, false, gocv.InterpolationLanczos4)
}

// PadToAspectRatio grows the short axis with c so width/height matches ratio.
// Left/top padding is half the total; the remainder goes right/bottom.
func PadToAspectRatio(img gocv.Mat, ratio float64, c color.RGBA) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	if ratio <= 0 || w == 0 || h == 0 {
		return img.Clone()
	}
	current := float64(w) / float64(h)
	if math.Abs(current-ratio) < RatioTolerance {
		return img.Clone()
	}
	var top, bottom, left, right int
	if current < ratio {
		total := int(math.Round(float64(h)*ratio)) - w
		left = total / 2
		right = total - left
	} else {
		total := int(math.Round(float64(w)/ratio)) - h
		top = total / 2
		bottom = total - top
	}
	out := gocv.NewMat()
	gocv.CopyMakeBorder(img, &out, top, bottom, left, right, gocv.BorderConstant, c)
	return out
}
