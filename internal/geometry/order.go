package geometry

import (
	"math"
	"sort"
)

// Quad holds four corners. Values returned by OrderPoints are in
// top-left, top-right, bottom-right, bottom-left order.
type Quad [4]Point

// Polygon converts the quad to a Polygon.
func (q Quad) Polygon() Polygon {
	return NewPolygon(q[:]...)
}

func (q Quad) TopLeft() Point     { return q[0] }
func (q Quad) TopRight() Point    { return q[1] }
func (q Quad) BottomRight() Point { return q[2] }
func (q Quad) BottomLeft() Point  { return q[3] }

// OrderPoints sorts four corners into top-left, top-right, bottom-right, bottom-left.
//
// The smallest x+y is top-left and the largest is bottom-right; the smallest y-x is
// top-right and the largest is bottom-left. Ties go to the first occurrence. The rule
// holds for roughly axis-aligned quads. When it picks the same input point for two
// corners (quads rotated close to 45 degrees) the result would not be a permutation
// of the input, so the corners are ordered by angle around the centroid instead.
func OrderPoints(pts Quad) Quad {
	tl := argExtreme(pts, sumXY, false)
	br := argExtreme(pts, sumXY, true)
	tr := argExtreme(pts, diffYX, false)
	bl := argExtreme(pts, diffYX, true)

	seen := [4]bool{}
	for _, i := range [4]int{tl, tr, br, bl} {
		if seen[i] {
			return OrderPointsByAngle(pts)
		}
		seen[i] = true
	}
	return Quad{pts[tl], pts[tr], pts[br], pts[bl]}
}

// OrderPointsByAngle orders corners clockwise (in image coordinates) around their
// centroid, starting from the corner with the smallest x+y (smaller y on ties).
// The result does not depend on input order.
func OrderPointsByAngle(pts Quad) Quad {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= 4
	cy /= 4

	sorted := pts
	sort.SliceStable(sorted[:], func(i, j int) bool {
		ai := math.Atan2(sorted[i].Y-cy, sorted[i].X-cx)
		aj := math.Atan2(sorted[j].Y-cy, sorted[j].X-cx)
		return ai < aj
	})

	start := 0
	for i := 1; i < 4; i++ {
		si, ss := sumXY(sorted[i]), sumXY(sorted[start])
		if si < ss || (si == ss && sorted[i].Y < sorted[start].Y) {
			start = i
		}
	}
	var out Quad
	for i := range out {
		out[i] = sorted[(start+i)%4]
	}
	return out
}

// PerspectiveSize estimates the rectified size of an ordered quad. Each axis takes the
// longer of its two parallel edges, truncated, so the output never undersamples the
// content. Collinear corners give a zero dimension.
func PerspectiveSize(q Quad) (width, height int) {
	tl, tr, br, bl := q[0], q[1], q[2], q[3]
	width = int(math.Max(br.Dist(bl), tr.Dist(tl)))
	height = int(math.Max(tr.Dist(br), tl.Dist(bl)))
	return width, height
}

func sumXY(p Point) float64  { return p.X + p.Y }
func diffYX(p Point) float64 { return p.Y - p.X }

func argExtreme(pts Quad, key func(Point) float64, largest bool) int {
	best := 0
	bestVal := key(pts[0])
	for i := 1; i < len(pts); i++ {
		v := key(pts[i])
		if (largest && v > bestVal) || (!largest && v < bestVal) {
			best, bestVal = i, v
		}
	}
	return best
}
