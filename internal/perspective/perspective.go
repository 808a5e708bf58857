// Package perspective maps image content between screen quadrilaterals and
// axis-aligned rectangles with planar homographies.
//
// Every function returns a new Mat owned by the caller. On error the returned
// Mat is the zero value, which is safe to Close.
package perspective

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"lapscreen/internal/geometry"
)

const (
	// RansacThreshold is the reprojection error, in pixels, tolerated by ApplyHomography.
	RansacThreshold = 3.0
	ransacIters     = 2000
	ransacConf      = 0.995

	minDeterminant = 1e-12
	maxCondition   = 1e12
)

// Extract rectifies the screen quad given by the first four points of poly.
// The output size comes from geometry.PerspectiveSize.
func Extract(img gocv.Mat, poly geometry.Polygon) (gocv.Mat, error) {
	q, err := poly.Ordered()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("extract: %w", err)
	}
	w, h := geometry.PerspectiveSize(q)
	return rectify(img, q, w, h)
}

// CorrectDistortion behaves like Extract, then shrinks the oversized side so
// the result has the requested width/height ratio. A non-positive ratio keeps
// the natural size.
func CorrectDistortion(img gocv.Mat, poly geometry.Polygon, targetAspect float64) (gocv.Mat, error) {
	q, err := poly.Ordered()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("correct distortion: %w", err)
	}
	w, h := geometry.PerspectiveSize(q)
	if targetAspect > 0 && w > 0 && h > 0 {
		if float64(w)/float64(h) > targetAspect {
			w = int(float64(h) * targetAspect)
		} else {
			h = int(float64(w) / targetAspect)
		}
	}
	return rectify(img, q, w, h)
}

// Insert warps the full content image onto target inside a width x height
// canvas. Pixels outside the target quad are black and must be masked by the
// caller.
func Insert(content gocv.Mat, target geometry.Polygon, width, height int) (gocv.Mat, error) {
	if content.Empty() || width <= 0 || height <= 0 {
		return gocv.Mat{}, fmt.Errorf("insert into %dx%d canvas: %w", width, height, geometry.ErrInvalidGeometry)
	}
	q, err := target.Ordered()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("insert: %w", err)
	}
	m, err := transform(corners(content.Cols(), content.Rows()), q)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("insert: %w", err)
	}
	defer m.Close()
	return warp(content, m, width, height), nil
}

// ApplyHomography estimates a robust homography from exactly four source and
// destination points and warps img into a width x height canvas.
func ApplyHomography(img gocv.Mat, src, dst []geometry.Point, width, height int) (gocv.Mat, error) {
	if len(src) != 4 || len(dst) != 4 {
		return gocv.Mat{}, fmt.Errorf("homography needs 4 point pairs, got %d and %d: %w", len(src), len(dst), geometry.ErrInvalidPointCount)
	}
	if width <= 0 || height <= 0 {
		return gocv.Mat{}, fmt.Errorf("homography output %dx%d: %w", width, height, geometry.ErrInvalidGeometry)
	}
	srcMat := pointsMat(src)
	defer srcMat.Close()
	dstMat := pointsMat(dst)
	defer dstMat.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	h := gocv.FindHomography(srcMat, &dstMat, gocv.HomographyMethodRANSAC, RansacThreshold, &inliers, ransacIters, ransacConf)
	defer h.Close()
	if _, err := Matrix(h); err != nil {
		return gocv.Mat{}, err
	}
	return warp(img, h, width, height), nil
}

// Matrix copies a 3x3 CV_64F homography into a gonum matrix and rejects it when
// it is missing, non-finite, singular or ill-conditioned.
func Matrix(h gocv.Mat) (*mat.Dense, error) {
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		return nil, fmt.Errorf("homography estimation failed: %w", geometry.ErrDegenerateHomography)
	}
	data := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := h.GetDoubleAt(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("homography has non-finite entries: %w", geometry.ErrDegenerateHomography)
			}
			data[r*3+c] = v
		}
	}
	d := mat.NewDense(3, 3, data)
	if det := mat.Det(d); math.Abs(det) < minDeterminant {
		return nil, fmt.Errorf("homography determinant %g: %w", det, geometry.ErrDegenerateHomography)
	}
	if cond := mat.Cond(d, 2); cond > maxCondition || math.IsInf(cond, 0) {
		return nil, fmt.Errorf("homography condition number %g: %w", cond, geometry.ErrDegenerateHomography)
	}
	return d, nil
}

// Project maps p through h.
func Project(h *mat.Dense, p geometry.Point) geometry.Point {
	v := mat.NewVecDense(3, []float64{p.X, p.Y, 1})
	var out mat.VecDense
	out.MulVec(h, v)
	w := out.AtVec(2)
	if w == 0 {
		return geometry.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return geometry.Point{X: out.AtVec(0) / w, Y: out.AtVec(1) / w}
}

func rectify(img gocv.Mat, q geometry.Quad, w, h int) (gocv.Mat, error) {
	if img.Empty() || w <= 0 || h <= 0 {
		return gocv.Mat{}, fmt.Errorf("rectify to %dx%d: %w", w, h, geometry.ErrInvalidGeometry)
	}
	m, err := transform(q, corners(w, h))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("rectify: %w", err)
	}
	defer m.Close()
	return warp(img, m, w, h), nil
}

// corners lists the pixel-centre corners of a w x h rectangle, clockwise from top-left.
func corners(w, h int) geometry.Quad {
	fw, fh := float64(w-1), float64(h-1)
	return geometry.Quad{{X: 0, Y: 0}, {X: fw, Y: 0}, {X: fw, Y: fh}, {X: 0, Y: fh}}
}

func transform(src, dst geometry.Quad) (gocv.Mat, error) {
	sv := gocv.NewPoint2fVectorFromPoints(point2f(src))
	defer sv.Close()
	dv := gocv.NewPoint2fVectorFromPoints(point2f(dst))
	defer dv.Close()
	m := gocv.GetPerspectiveTransform2f(sv, dv)
	if _, err := Matrix(m); err != nil {
		m.Close()
		return gocv.Mat{}, err
	}
	return m, nil
}

func warp(img, m gocv.Mat, w, h int) gocv.Mat {
	out := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(img, &out, m, image.Pt(w, h), gocv.InterpolationCubic, gocv.BorderConstant, color.RGBA{})
	return out
}

func point2f(q geometry.Quad) []gocv.Point2f {
	out := make([]gocv.Point2f, len(q))
	for i, p := range q {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

func pointsMat(pts []geometry.Point) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV64FC2)
	for i, p := range pts {
		m.SetDoubleAt(i, 0, p.X)
		m.SetDoubleAt(i, 1, p.Y)
	}
	return m
}
