// Package compositor fills or replaces the masked screen region of a photo,
// with optional soft edges.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"lapscreen/internal/geometry"
	"lapscreen/internal/mask"
	"lapscreen/internal/perspective"
)

// BlurKernel is the Gaussian kernel size used to soften mask edges.
const BlurKernel = 5

var (
	overlayColor    = color.RGBA{G: 255, A: 255}
	overlayAlpha    = 0.3
	overlayOutlineW = 3
)

// Fill returns a copy of img with every mask-positive pixel set to c.
func Fill(img, m gocv.Mat, c color.RGBA) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("fill: empty image: %w", geometry.ErrInvalidGeometry)
	}
	bin := fitMask(m, img.Cols(), img.Rows())
	defer bin.Close()

	out := img.Clone()
	solid := gocv.NewMatWithSizeFromScalar(scalar(c), img.Rows(), img.Cols(), img.Type())
	defer solid.Close()
	solid.CopyToWithMask(&out, bin)
	return out, nil
}

// ReplaceAxisAligned resizes content to the bounding rectangle of the mask and
// pastes it there. With blend the mask edge is feathered inside the rectangle;
// without it only mask-positive pixels are replaced. An empty mask yields an
// unchanged copy.
func ReplaceAxisAligned(img, m, content gocv.Mat, blend bool) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("replace: empty image: %w", geometry.ErrInvalidGeometry)
	}
	bin := fitMask(m, img.Cols(), img.Rows())
	defer bin.Close()

	out := img.Clone()
	box, ok := mask.Bounds(bin)
	if !ok {
		return out, nil
	}
	box = box.Clamp(img.Cols(), img.Rows())
	if box.Empty() {
		return out, nil
	}
	if content.Empty() {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("replace: empty content: %w", geometry.ErrInvalidGeometry)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(content, &resized, image.Pt(box.Width, box.Height), 0, 0, gocv.InterpolationLanczos4)

	roi := out.Region(box.Rect())
	defer roi.Close()
	maskROI := bin.Region(box.Rect())
	defer maskROI.Close()

	if !blend {
		resized.CopyToWithMask(&roi, maskROI)
		return out, nil
	}

	orig := roi.Clone()
	defer orig.Close()
	weights := maskROI.Clone()
	defer weights.Close()
	mixed, err := Blend(orig, resized, weights)
	if err != nil {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("replace: %w", err)
	}
	defer mixed.Close()
	mixed.CopyTo(&roi)
	return out, nil
}

// ReplaceWithPerspective warps content onto the quad given by the first four
// points of poly and blends it in with a feathered edge.
func ReplaceWithPerspective(img gocv.Mat, poly geometry.Polygon, content gocv.Mat) (gocv.Mat, error) {
	q, err := poly.Ordered()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("perspective replace: %w", err)
	}
	warped, err := perspective.Insert(content, q.Polygon(), img.Cols(), img.Rows())
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("perspective replace: %w", err)
	}
	defer warped.Close()

	m, err := mask.FromPolygon(q.Polygon(), img.Cols(), img.Rows())
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("perspective replace: %w", err)
	}
	defer m.Close()

	base := img.Clone()
	defer base.Close()
	return Blend(base, warped, m)
}

// Blend computes content*w + img*(1-w) per channel, where w is the mask after
// a BlurKernel Gaussian, scaled to [0,1]. Results are rounded and clamped to
// the 8-bit range.
func Blend(img, content, m gocv.Mat) (gocv.Mat, error) {
	if img.Rows() != content.Rows() || img.Cols() != content.Cols() || img.Type() != content.Type() {
		return gocv.Mat{}, fmt.Errorf("blend %dx%d with %dx%d: %w",
			img.Cols(), img.Rows(), content.Cols(), content.Rows(), geometry.ErrInvalidGeometry)
	}
	soft := fitMask(m, img.Cols(), img.Rows())
	defer soft.Close()
	w := softWeights(soft)
	defer w.Close()
	weights, err := w.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("blend weights: %w", err)
	}

	base, over := contiguousBytes(img), contiguousBytes(content)
	ch := img.Channels()
	if len(weights)*ch != len(base) {
		return gocv.Mat{}, fmt.Errorf("blend: mask does not match image: %w", geometry.ErrInvalidGeometry)
	}
	out := make([]byte, len(base))
	for i, a := range weights {
		a64 := float64(a)
		for c := 0; c < ch; c++ {
			k := i*ch + c
			out[k] = clamp8(float64(over[k])*a64 + float64(base[k])*(1-a64))
		}
	}
	mixed, err := gocv.NewMatFromBytes(img.Rows(), img.Cols(), img.Type(), out)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("blend: %w", err)
	}
	defer mixed.Close()
	return mixed.Clone(), nil
}

// Overlay draws a detection preview: the mask tinted green and the polygon outlined.
func Overlay(img, m gocv.Mat, poly geometry.Polygon) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("overlay: empty image: %w", geometry.ErrInvalidGeometry)
	}
	bin := fitMask(m, img.Cols(), img.Rows())
	defer bin.Close()

	tint := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), img.Rows(), img.Cols(), img.Type())
	defer tint.Close()
	green := gocv.NewMatWithSizeFromScalar(scalar(overlayColor), img.Rows(), img.Cols(), img.Type())
	defer green.Close()
	green.CopyToWithMask(&tint, bin)

	out := gocv.NewMat()
	gocv.AddWeighted(img, 1-overlayAlpha, tint, overlayAlpha, 0, &out)

	if poly.Len() >= 2 {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{poly.ImagePoints()})
		defer pv.Close()
		gocv.Polylines(&out, pv, true, overlayColor, overlayOutlineW)
	}
	return out, nil
}

// fitMask binarizes m and resizes it to the image when the sizes disagree.
func fitMask(m gocv.Mat, w, h int) gocv.Mat {
	if m.Empty() {
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8U)
	}
	bin := mask.Binarize(m)
	if bin.Cols() == w && bin.Rows() == h {
		return bin
	}
	defer bin.Close()
	return mask.Resize(bin, w, h)
}

func softWeights(m gocv.Mat) gocv.Mat {
	f := gocv.NewMat()
	m.ConvertTo(&f, gocv.MatTypeCV32F)
	blurred := gocv.NewMat()
	gocv.GaussianBlur(f, &blurred, image.Pt(BlurKernel, BlurKernel), 0, 0, gocv.BorderDefault)
	f.Close()
	blurred.MultiplyFloat(1.0 / 255)
	return blurred
}

func contiguousBytes(m gocv.Mat) []byte {
	if m.IsContinuous() {
		return m.ToBytes()
	}
	c := m.Clone()
	defer c.Close()
	return c.ToBytes()
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

func scalar(c color.RGBA) gocv.Scalar {
	return gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0)
}
