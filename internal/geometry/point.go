package geometry

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strings"
)

// Point is a 2D coordinate. It is a value type; all arithmetic returns a new Point.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

func (p Point) Scale(sx, sy float64) Point { return Point{X: p.X * sx, Y: p.Y * sy} }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Int truncates the coordinates toward zero, the way pixel indices are derived from detector output.
func (p Point) Int() image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Polygon is an immutable sequence of points. Edits return a new Polygon;
// the backing slice is never shared with callers.
type Polygon struct {
	pts []Point
}

// NewPolygon copies pts into a new Polygon.
func NewPolygon(pts ...Point) Polygon {
	cp := make([]Point, len(pts))
	copy(cp, pts)
	return Polygon{pts: cp}
}

// PolygonFromPairs builds a polygon from [x, y] pairs; pairs of the wrong length are skipped.
func PolygonFromPairs(pairs [][]float64) Polygon {
	pts := make([]Point, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		pts = append(pts, Point{X: pair[0], Y: pair[1]})
	}
	return Polygon{pts: pts}
}

// PolygonFromImagePoints converts integer pixel coordinates, e.g. a contour.
func PolygonFromImagePoints(pts []image.Point) Polygon {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return Polygon{pts: out}
}

func (p Polygon) Len() int { return len(p.pts) }

// At returns the i-th point.
func (p Polygon) At(i int) Point { return p.pts[i] }

// Points returns a copy of the points.
func (p Polygon) Points() []Point {
	cp := make([]Point, len(p.pts))
	copy(cp, p.pts)
	return cp
}

// Pairs returns the points as [x, y] pairs for serialization.
func (p Polygon) Pairs() [][]float64 {
	out := make([][]float64, len(p.pts))
	for i, pt := range p.pts {
		out[i] = []float64{pt.X, pt.Y}
	}
	return out
}

// ImagePoints returns truncated integer coordinates for rasterization.
func (p Polygon) ImagePoints() []image.Point {
	out := make([]image.Point, len(p.pts))
	for i, pt := range p.pts {
		out[i] = pt.Int()
	}
	return out
}

// WithPoint returns a copy of p with the i-th point replaced.
func (p Polygon) WithPoint(i int, pt Point) Polygon {
	cp := p.Points()
	cp[i] = pt
	return Polygon{pts: cp}
}

// Scale returns a polygon with every point scaled independently per axis.
func (p Polygon) Scale(sx, sy float64) Polygon {
	out := make([]Point, len(p.pts))
	for i, pt := range p.pts {
		out[i] = pt.Scale(sx, sy)
	}
	return Polygon{pts: out}
}

// Translate returns a polygon shifted by (dx, dy).
func (p Polygon) Translate(dx, dy float64) Polygon {
	out := make([]Point, len(p.pts))
	for i, pt := range p.pts {
		out[i] = pt.Add(Point{X: dx, Y: dy})
	}
	return Polygon{pts: out}
}

// BoundingBox returns the integer box spanned by the points. Width and height are
// max-min of the truncated extremes, so a degenerate polygon yields a zero-sized box.
func (p Polygon) BoundingBox() BoundingBox {
	if len(p.pts) == 0 {
		return BoundingBox{}
	}
	minX, minY := p.pts[0].X, p.pts[0].Y
	maxX, maxY := minX, minY
	for _, pt := range p.pts[1:] {
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}
	x0, y0 := int(minX), int(minY)
	return BoundingBox{X: x0, Y: y0, Width: int(maxX) - x0, Height: int(maxY) - y0}
}

// Quad returns the first four points, unordered. Polygons with fewer than four
// points cannot drive a perspective transform.
func (p Polygon) Quad() (Quad, error) {
	if len(p.pts) < 4 {
		return Quad{}, fmt.Errorf("polygon has %d points, need 4: %w", len(p.pts), ErrInvalidGeometry)
	}
	return Quad{p.pts[0], p.pts[1], p.pts[2], p.pts[3]}, nil
}

// Ordered returns the first four points in top-left, top-right, bottom-right, bottom-left order.
func (p Polygon) Ordered() (Quad, error) {
	q, err := p.Quad()
	if err != nil {
		return Quad{}, err
	}
	return OrderPoints(q), nil
}

func (p Polygon) String() string {
	parts := make([]string, len(p.pts))
	for i, pt := range p.pts {
		parts[i] = pt.String()
	}
	return "Polygon[" + strings.Join(parts, " ") + "]"
}

// MarshalJSON encodes the polygon as a list of [x, y] pairs.
func (p Polygon) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Pairs())
}

// UnmarshalJSON decodes a list of [x, y] pairs.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var pairs [][]float64
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	*p = PolygonFromPairs(pairs)
	return nil
}
