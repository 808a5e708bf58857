package geometry

import (
	"fmt"
	"image"
)

// BoundingBox is an axis-aligned box in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxFromRect converts an image.Rectangle.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (b BoundingBox) X2() int { return b.X + b.Width }

func (b BoundingBox) Y2() int { return b.Y + b.Height }

// Center returns the integer center of the box.
func (b BoundingBox) Center() image.Point {
	return image.Pt(b.X+b.Width/2, b.Y+b.Height/2)
}

func (b BoundingBox) Area() int { return b.Width * b.Height }

// Empty reports whether the box covers no pixels.
func (b BoundingBox) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X2(), b.Y2())
}

// Scale multiplies position and size by independent factors, truncating.
func (b BoundingBox) Scale(sx, sy float64) BoundingBox {
	return BoundingBox{
		X:      int(float64(b.X) * sx),
		Y:      int(float64(b.Y) * sy),
		Width:  int(float64(b.Width) * sx),
		Height: int(float64(b.Height) * sy),
	}
}

// Expand grows the box by margin on every side. The origin is clamped at zero,
// the far edge is not; use Clamp to fit an image.
func (b BoundingBox) Expand(margin int) BoundingBox {
	return BoundingBox{
		X:      max(0, b.X-margin),
		Y:      max(0, b.Y-margin),
		Width:  b.Width + 2*margin,
		Height: b.Height + 2*margin,
	}
}

// Clamp restricts the box to [0,width)x[0,height). The result may be empty.
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	x1 := clampInt(b.X, 0, width)
	y1 := clampInt(b.Y, 0, height)
	x2 := clampInt(b.X2(), 0, width)
	y2 := clampInt(b.Y2(), 0, height)
	return BoundingBox{X: x1, Y: y1, Width: max(0, x2-x1), Height: max(0, y2-y1)}
}

// Intersection returns the overlap of two boxes; ok is false when they do not overlap.
func (b BoundingBox) Intersection(o BoundingBox) (BoundingBox, bool) {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X2(), o.X2())
	y2 := min(b.Y2(), o.Y2())
	if x2 <= x1 || y2 <= y1 {
		return BoundingBox{}, false
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

// IoU returns intersection over union, 0 for disjoint or empty boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	inter, ok := b.Intersection(o)
	if !ok {
		return 0
	}
	union := b.Area() + o.Area() - inter.Area()
	if union <= 0 {
		return 0
	}
	return float64(inter.Area()) / float64(union)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("BoundingBox(x=%d, y=%d, w=%d, h=%d)", b.X, b.Y, b.Width, b.Height)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
