package mask

import (
	"errors"
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"lapscreen/internal/geometry"
)

func rectPolygon() geometry.Polygon {
	return geometry.NewPolygon(geometry.Pt(10, 10), geometry.Pt(50, 10), geometry.Pt(50, 40), geometry.Pt(10, 40))
}

func TestFromPolygonFillsInterior(t *testing.T) {
	m, err := FromPolygon(rectPolygon(), 100, 80)
	if err != nil {
		t.Fatalf("FromPolygon failed: %v", err)
	}
	defer m.Close()

	if m.Rows() != 80 || m.Cols() != 100 || m.Channels() != 1 {
		t.Fatalf("unexpected mask shape %dx%dx%d", m.Cols(), m.Rows(), m.Channels())
	}
	if v := m.GetUCharAt(25, 30); v != 255 {
		t.Fatalf("expected interior pixel set, got %d", v)
	}
	if v := m.GetUCharAt(5, 5); v != 0 {
		t.Fatalf("expected exterior pixel clear, got %d", v)
	}
	n := gocv.CountNonZero(m)
	if n < 40*30 || n > 42*32 {
		t.Fatalf("unexpected filled area %d", n)
	}
}

func TestFromPolygonUnorderedQuad(t *testing.T) {
	bowtie := geometry.NewPolygon(geometry.Pt(10, 10), geometry.Pt(50, 40), geometry.Pt(50, 10), geometry.Pt(10, 40))
	m, err := FromPolygon(bowtie, 100, 80)
	if err != nil {
		t.Fatalf("FromPolygon failed: %v", err)
	}
	defer m.Close()
	if v := m.GetUCharAt(12, 30); v != 255 {
		t.Fatalf("expected quad filled in corner order, got %d at top edge", v)
	}
}

func TestFromPolygonFillsConvexQuadArea(t *testing.T) {
	quad := geometry.NewPolygon(geometry.Pt(500, 400), geometry.Pt(150, 100), geometry.Pt(100, 400), geometry.Pt(450, 100))
	m, err := FromPolygon(quad, 640, 480)
	if err != nil {
		t.Fatalf("FromPolygon failed: %v", err)
	}
	defer m.Close()

	const area = (300.0 + 400.0) / 2 * 300
	got := float64(gocv.CountNonZero(m))
	if math.Abs(got-area)/area > 0.02 {
		t.Fatalf("expected about %.0f filled pixels, got %.0f", area, got)
	}
	for _, p := range []image.Point{{300, 250}, {110, 398}, {490, 398}, {160, 102}} {
		if v := m.GetUCharAt(p.Y, p.X); v != 255 {
			t.Fatalf("expected %v inside the quad, got %d", p, v)
		}
	}
	if v := m.GetUCharAt(110, 120); v != 0 {
		t.Fatalf("expected pixel outside the slanted edge to stay empty, got %d", v)
	}
}

func TestFromPolygonRejectsDegenerateInput(t *testing.T) {
	_, err := FromPolygon(geometry.NewPolygon(geometry.Pt(0, 0), geometry.Pt(5, 5)), 10, 10)
	if !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	_, err = FromPolygon(rectPolygon(), 0, 10)
	if !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry for zero size, got %v", err)
	}
}

func TestBoundsAndPolygonRoundTrip(t *testing.T) {
	m, err := FromPolygon(rectPolygon(), 100, 80)
	if err != nil {
		t.Fatalf("FromPolygon failed: %v", err)
	}
	defer m.Close()

	box, ok := Bounds(m)
	if !ok {
		t.Fatalf("expected bounds for non-empty mask")
	}
	if box != (geometry.BoundingBox{X: 10, Y: 10, Width: 41, Height: 31}) {
		t.Fatalf("unexpected bounds %v", box)
	}

	poly, err := ToPolygon(m, 0)
	if err != nil {
		t.Fatalf("ToPolygon failed: %v", err)
	}
	if poly.Len() != 4 {
		t.Fatalf("expected 4 points, got %d (%v)", poly.Len(), poly)
	}

	q, err := Quad(m)
	if err != nil {
		t.Fatalf("Quad failed: %v", err)
	}
	want := geometry.Quad{geometry.Pt(10, 10), geometry.Pt(50, 10), geometry.Pt(50, 40), geometry.Pt(10, 40)}
	if q != want {
		t.Fatalf("expected %v, got %v", want, q)
	}
}

func TestQuadFallsBackToRotatedRect(t *testing.T) {
	tri := geometry.NewPolygon(geometry.Pt(10, 70), geometry.Pt(50, 5), geometry.Pt(90, 70))
	m, err := FromPolygon(tri, 100, 80)
	if err != nil {
		t.Fatalf("FromPolygon failed: %v", err)
	}
	defer m.Close()

	q, err := Quad(m)
	if err != nil {
		t.Fatalf("Quad failed: %v", err)
	}
	w, h := geometry.PerspectiveSize(q)
	if w == 0 || h == 0 {
		t.Fatalf("expected non-degenerate quad, got %v", q)
	}
}

func TestEmptyMask(t *testing.T) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 40, 60, gocv.MatTypeCV8UC1)
	defer m.Close()

	if !Empty(m) {
		t.Fatalf("expected empty mask")
	}
	if _, ok := Bounds(m); ok {
		t.Fatalf("expected no bounds for empty mask")
	}
	if _, err := ToPolygon(m, DefaultEpsilon); !errors.Is(err, geometry.ErrNoContourFound) {
		t.Fatalf("expected ErrNoContourFound, got %v", err)
	}
	if _, err := Quad(m); !errors.Is(err, geometry.ErrNoContourFound) {
		t.Fatalf("expected ErrNoContourFound from Quad, got %v", err)
	}
}

func TestBinarizeAndResize(t *testing.T) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(127, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC1)
	defer m.Close()
	m.SetUCharAt(1, 1, 128)

	bin := Binarize(m)
	defer bin.Close()
	if bin.GetUCharAt(0, 0) != 0 || bin.GetUCharAt(1, 1) != 255 {
		t.Fatalf("expected threshold above 127, got %d and %d", bin.GetUCharAt(0, 0), bin.GetUCharAt(1, 1))
	}

	big := Resize(bin, 8, 8)
	defer big.Close()
	if big.Rows() != 8 || big.Cols() != 8 {
		t.Fatalf("unexpected resized shape %dx%d", big.Cols(), big.Rows())
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if v := big.GetUCharAt(y, x); v != 0 && v != 255 {
				t.Fatalf("expected binary values after nearest resize, got %d", v)
			}
		}
	}
}
