package framing

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// FitMode selects how an image is brought to a target size.
type FitMode string

const (
	FitNone  FitMode = "none"
	FitFit   FitMode = "fit"
	FitFill  FitMode = "fill"
	FitSmart FitMode = "smart"
)

// ParseFitMode maps user input to a FitMode; unknown values are FitNone.
func ParseFitMode(s string) FitMode {
	switch FitMode(s) {
	case FitFit, FitFill, FitSmart:
		return FitMode(s)
	}
	return FitNone
}

// Resize scales img. A zero width or height means "not given": with
// maintainAspect the missing side is derived, and when both are given the
// image is fitted inside them. Without maintainAspect missing sides keep their
// size. Downscaling uses area interpolation.
func Resize(img gocv.Mat, width, height int, maintainAspect bool, interp gocv.InterpolationFlags) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	if (width <= 0 && height <= 0) || w == 0 || h == 0 {
		return img.Clone()
	}
	var nw, nh int
	switch {
	case !maintainAspect:
		nw, nh = w, h
		if width > 0 {
			nw = width
		}
		if height > 0 {
			nh = height
		}
	case width > 0 && height > 0:
		s := math.Min(float64(width)/float64(w), float64(height)/float64(h))
		nw, nh = int(float64(w)*s), int(float64(h)*s)
	case width > 0:
		nw, nh = width, int(float64(h)*float64(width)/float64(w))
	default:
		nw, nh = int(float64(w)*float64(height)/float64(h)), height
	}
	return resizeTo(img, max(1, nw), max(1, nh), interp)
}

// ResizeToMaxDimension shrinks img so its longer side is at most maxDim.
func ResizeToMaxDimension(img gocv.Mat, maxDim int) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	longest := max(w, h)
	if maxDim <= 0 || longest <= maxDim {
		return img.Clone()
	}
	s := float64(maxDim) / float64(longest)
	return resizeTo(img, max(1, int(float64(w)*s)), max(1, int(float64(h)*s)), gocv.InterpolationLanczos4)
}

// ResizeToFit scales img to fit inside width x height and centres it on a
// canvas of exactly that size filled with pad.
func ResizeToFit(img gocv.Mat, width, height int, pad color.RGBA) gocv.Mat {
	if width <= 0 || height <= 0 || img.Empty() {
		return img.Clone()
	}
	resized := Resize(img, width, height, true, gocv.InterpolationLanczos4)
	defer resized.Close()
	rw, rh := min(resized.Cols(), width), min(resized.Rows(), height)
	if rw == width && rh == height {
		return resized.Clone()
	}

	canvas := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(pad.B), float64(pad.G), float64(pad.R), 0), height, width, img.Type())
	x, y := (width-rw)/2, (height-rh)/2
	dst := canvas.Region(image.Rect(x, y, x+rw, y+rh))
	defer dst.Close()
	src := resized.Region(image.Rect(0, 0, rw, rh))
	defer src.Close()
	src.CopyTo(&dst)
	return canvas
}

// ResizeToFill scales img to cover width x height and crops the centre. The
// result is exactly width x height.
func ResizeToFill(img gocv.Mat, width, height int) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	if width <= 0 || height <= 0 || w == 0 || h == 0 {
		return img.Clone()
	}
	var s float64
	if float64(w)/float64(h) > float64(width)/float64(height) {
		s = float64(height) / float64(h)
	} else {
		s = float64(width) / float64(w)
	}
	nw := max(width, int(math.Ceil(float64(w)*s-1e-9)))
	nh := max(height, int(math.Ceil(float64(h)*s-1e-9)))
	resized := resizeTo(img, nw, nh, gocv.InterpolationLanczos4)
	defer resized.Close()

	x, y := (nw-width)/2, (nh-height)/2
	region := resized.Region(image.Rect(x, y, x+width, y+height))
	defer region.Close()
	return region.Clone()
}

// ScaleByFactor multiplies both sides by factor. A non-positive factor, or one
// that collapses a side to zero, returns a copy.
func ScaleByFactor(img gocv.Mat, factor float64) gocv.Mat {
	if factor <= 0 {
		return img.Clone()
	}
	nw, nh := int(float64(img.Cols())*factor), int(float64(img.Rows())*factor)
	if nw <= 0 || nh <= 0 {
		return img.Clone()
	}
	return resizeTo(img, nw, nh, gocv.InterpolationLanczos4)
}

// OptimalScale returns the factor that fits (FitFit) or covers (any other
// mode) a w x h image onto width x height.
func OptimalScale(w, h, width, height int, mode FitMode) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	sw, sh := float64(width)/float64(w), float64(height)/float64(h)
	if mode == FitFit {
		return math.Min(sw, sh)
	}
	return math.Max(sw, sh)
}

// Frame brings img to width x height with the given mode. FitNone with
// maintainAspect resizes inside the box; without it the image is stretched.
func Frame(img gocv.Mat, width, height int, mode FitMode, maintainAspect bool, pad color.RGBA) gocv.Mat {
	switch mode {
	case FitFit:
		return ResizeToFit(img, width, height, pad)
	case FitFill:
		return ResizeToFill(img, width, height)
	case FitSmart:
		return SmartCrop(img, width, height)
	}
	return Resize(img, width, height, maintainAspect, gocv.InterpolationLanczos4)
}

// resizeTo resizes to exactly w x h, switching to area interpolation when shrinking.
func resizeTo(img gocv.Mat, w, h int, interp gocv.InterpolationFlags) gocv.Mat {
	if w == img.Cols() && h == img.Rows() {
		return img.Clone()
	}
	if w < img.Cols() && h < img.Rows() {
		interp = gocv.InterpolationArea
	}
	out := gocv.NewMat()
	gocv.Resize(img, &out, image.Pt(w, h), 0, 0, interp)
	return out
}
