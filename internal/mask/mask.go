// Package mask converts between screen polygons and single-channel 0/255 masks.
package mask

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"lapscreen/internal/geometry"
)

// Threshold is the binarization cut: values above it are foreground.
const Threshold = 127

// DefaultEpsilon is the polygon approximation tolerance as a fraction of contour perimeter.
const DefaultEpsilon = 0.01

// QuadEpsilon is the looser tolerance used when exactly four corners are wanted.
const QuadEpsilon = 0.02

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// FromPolygon rasterizes poly into a width x height CV_8UC1 mask. Four-point
// polygons are ordered first, so the filled loop is the convex quad even when
// the corners arrive shuffled; other polygons are filled as given and must be
// simple.
func FromPolygon(poly geometry.Polygon, width, height int) (gocv.Mat, error) {
	if poly.Len() < 3 {
		return gocv.Mat{}, fmt.Errorf("polygon has %d points: %w", poly.Len(), geometry.ErrInvalidGeometry)
	}
	if width <= 0 || height <= 0 {
		return gocv.Mat{}, fmt.Errorf("mask size %dx%d: %w", width, height, geometry.ErrInvalidGeometry)
	}

	pts := poly.ImagePoints()
	if poly.Len() == 4 {
		q, _ := poly.Ordered()
		pts = q.Polygon().ImagePoints()
	}

	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(&m, pv, white)
	return m, nil
}

// Binarize returns a copy of m with values above Threshold set to 255 and the rest to 0.
// Multi-channel input is converted to gray first.
func Binarize(m gocv.Mat) gocv.Mat {
	src := m
	if m.Channels() > 1 {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
		src = gray
	}
	out := gocv.NewMat()
	gocv.Threshold(src, &out, Threshold, 255, gocv.ThresholdBinary)
	return out
}

// Empty reports whether m has no foreground pixels.
func Empty(m gocv.Mat) bool {
	if m.Empty() {
		return true
	}
	bin := Binarize(m)
	defer bin.Close()
	return gocv.CountNonZero(bin) == 0
}

// Bounds returns the bounding box of foreground pixels; ok is false for an empty mask.
func Bounds(m gocv.Mat) (box geometry.BoundingBox, ok bool) {
	contours, err := externalContours(m)
	if err != nil {
		return geometry.BoundingBox{}, false
	}
	var union image.Rectangle
	for i, c := range contours {
		r := gocv.BoundingRect(c)
		if i == 0 {
			union = r
		} else {
			union = union.Union(r)
		}
		c.Close()
	}
	return geometry.BoxFromRect(union), true
}

// ToPolygon approximates the largest external contour of m with a tolerance of
// epsilonFactor times its perimeter. A non-positive factor uses DefaultEpsilon.
func ToPolygon(m gocv.Mat, epsilonFactor float64) (geometry.Polygon, error) {
	if epsilonFactor <= 0 {
		epsilonFactor = DefaultEpsilon
	}
	contour, err := largestContour(m)
	if err != nil {
		return geometry.Polygon{}, err
	}
	defer contour.Close()

	approx := gocv.ApproxPolyDP(contour, epsilonFactor*gocv.ArcLength(contour, true), true)
	defer approx.Close()
	if approx.Size() < 3 {
		return geometry.Polygon{}, fmt.Errorf("approximation kept %d points: %w", approx.Size(), geometry.ErrNoContourFound)
	}
	return geometry.PolygonFromImagePoints(approx.ToPoints()), nil
}

// Quad extracts four ordered screen corners from m. The largest contour is
// approximated at QuadEpsilon; when that does not give four points the
// minimum-area rotated rectangle of the contour is used instead.
func Quad(m gocv.Mat) (geometry.Quad, error) {
	contour, err := largestContour(m)
	if err != nil {
		return geometry.Quad{}, err
	}
	defer contour.Close()

	approx := gocv.ApproxPolyDP(contour, QuadEpsilon*gocv.ArcLength(contour, true), true)
	defer approx.Close()

	pts := approx.ToPoints()
	if len(pts) != 4 {
		rect := gocv.MinAreaRect(contour)
		pts = rect.Points
	}
	if len(pts) != 4 {
		return geometry.Quad{}, fmt.Errorf("could not reduce contour to 4 corners: %w", geometry.ErrNoContourFound)
	}
	q, _ := geometry.PolygonFromImagePoints(pts).Quad()
	return geometry.OrderPoints(q), nil
}

// Resize scales a mask to width x height with nearest-neighbour sampling so it stays binary.
func Resize(m gocv.Mat, width, height int) gocv.Mat {
	out := gocv.NewMat()
	gocv.Resize(m, &out, image.Pt(width, height), 0, 0, gocv.InterpolationNearestNeighbor)
	return out
}

// externalContours returns the external contours of the binarized mask as
// standalone point vectors the caller must close.
func externalContours(m gocv.Mat) ([]gocv.PointVector, error) {
	if m.Empty() {
		return nil, fmt.Errorf("empty mask: %w", geometry.ErrNoContourFound)
	}
	bin := Binarize(m)
	defer bin.Close()

	found := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer found.Close()
	if found.Size() == 0 {
		return nil, geometry.ErrNoContourFound
	}
	out := make([]gocv.PointVector, 0, found.Size())
	for i := 0; i < found.Size(); i++ {
		out = append(out, gocv.NewPointVectorFromPoints(found.At(i).ToPoints()))
	}
	return out, nil
}

func largestContour(m gocv.Mat) (gocv.PointVector, error) {
	contours, err := externalContours(m)
	if err != nil {
		return gocv.PointVector{}, err
	}
	best, bestArea := 0, -1.0
	for i, c := range contours {
		if area := gocv.ContourArea(c); area > bestArea {
			best, bestArea = i, area
		}
	}
	for i, c := range contours {
		if i != best {
			c.Close()
		}
	}
	return contours[best], nil
}
