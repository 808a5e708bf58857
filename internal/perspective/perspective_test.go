package perspective

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"lapscreen/internal/geometry"
	"lapscreen/internal/imgtest"
)

func rectPolygon() geometry.Polygon {
	return geometry.NewPolygon(
		geometry.Pt(100, 100), geometry.Pt(500, 100),
		geometry.Pt(500, 400), geometry.Pt(100, 400),
	)
}

func TestExtractThenInsertRoundTrip(t *testing.T) {
	img := imgtest.Gradient(640, 480)
	defer img.Close()

	screen, err := Extract(img, rectPolygon())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	defer screen.Close()
	if screen.Cols() != 400 || screen.Rows() != 300 {
		t.Fatalf("expected 400x300 extraction, got %dx%d", screen.Cols(), screen.Rows())
	}

	back, err := Insert(screen, rectPolygon(), img.Cols(), img.Rows())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	defer back.Close()
	if back.Cols() != 640 || back.Rows() != 480 {
		t.Fatalf("expected full canvas, got %dx%d", back.Cols(), back.Rows())
	}

	if d := imgtest.MeanAbsDiff(img, back, image.Rect(110, 110, 490, 390)); d > 3 {
		t.Fatalf("expected round trip within interpolation tolerance, mean diff %.2f", d)
	}
	if c := imgtest.At(back, 20, 20); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Fatalf("expected black background outside the quad, got %v", c)
	}
}

func TestExtractIgnoresPointOrderAndExtras(t *testing.T) {
	img := imgtest.Solid(320, 240, color.RGBA{R: 10, G: 200, B: 30, A: 255})
	defer img.Close()

	poly := geometry.NewPolygon(
		geometry.Pt(300, 220), geometry.Pt(20, 20), geometry.Pt(20, 220), geometry.Pt(300, 20),
		geometry.Pt(5, 5),
	)
	out, err := Extract(img, poly)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	defer out.Close()
	if out.Cols() != 280 || out.Rows() != 200 {
		t.Fatalf("expected 280x200, got %dx%d", out.Cols(), out.Rows())
	}
	if c := imgtest.At(out, 140, 100); c.G != 200 || c.R != 10 {
		t.Fatalf("expected source color, got %v", c)
	}
}

func TestExtractNeedsFourPoints(t *testing.T) {
	img := imgtest.Solid(64, 64, color.RGBA{A: 255})
	defer img.Close()

	out, err := Extract(img, geometry.NewPolygon(geometry.Pt(0, 0), geometry.Pt(10, 0), geometry.Pt(10, 10)))
	if !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if !out.Empty() {
		t.Fatalf("expected no result")
	}
}

func TestExtractRejectsZeroSizedQuad(t *testing.T) {
	img := imgtest.Solid(64, 64, color.RGBA{A: 255})
	defer img.Close()

	flat := geometry.NewPolygon(geometry.Pt(0, 5), geometry.Pt(10, 5), geometry.Pt(10, 5), geometry.Pt(0, 5))
	if _, err := Extract(img, flat); !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestCorrectDistortionReachesTargetAspect(t *testing.T) {
	img := imgtest.Gradient(640, 480)
	defer img.Close()

	trapezoid := geometry.NewPolygon(
		geometry.Pt(150, 100), geometry.Pt(450, 100),
		geometry.Pt(500, 400), geometry.Pt(100, 400),
	)
	cases := []struct {
		name   string
		aspect float64
	}{
		{"widescreen", 16.0 / 9.0},
		{"classic", 4.0 / 3.0},
		{"portrait", 9.0 / 16.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := CorrectDistortion(img, trapezoid, tc.aspect)
			if err != nil {
				t.Fatalf("correct distortion: %v", err)
			}
			defer out.Close()
			ratio := float64(out.Cols()) / float64(out.Rows())
			if math.Abs(ratio-tc.aspect) > 0.1 {
				t.Fatalf("expected ratio near %.3f, got %.3f (%dx%d)", tc.aspect, ratio, out.Cols(), out.Rows())
			}
		})
	}
}

func TestCorrectDistortionWithoutAspectKeepsNaturalSize(t *testing.T) {
	img := imgtest.Gradient(640, 480)
	defer img.Close()

	out, err := CorrectDistortion(img, rectPolygon(), 0)
	if err != nil {
		t.Fatalf("correct distortion: %v", err)
	}
	defer out.Close()
	if out.Cols() != 400 || out.Rows() != 300 {
		t.Fatalf("expected 400x300, got %dx%d", out.Cols(), out.Rows())
	}
}

func TestApplyHomographyPointCount(t *testing.T) {
	img := imgtest.Solid(64, 64, color.RGBA{A: 255})
	defer img.Close()

	two := []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	four := []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	cases := []struct {
		name     string
		src, dst []geometry.Point
	}{
		{"two source points", two, four},
		{"two destination points", four, two},
		{"five points", append(append([]geometry.Point{}, four...), geometry.Point{X: 5, Y: 5}), four},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := ApplyHomography(img, tc.src, tc.dst, 64, 64)
			if !errors.Is(err, geometry.ErrInvalidPointCount) {
				t.Fatalf("expected ErrInvalidPointCount, got %v", err)
			}
			if !out.Empty() {
				t.Fatalf("expected no result")
			}
		})
	}
}

func TestApplyHomographyWarpsToRequestedSize(t *testing.T) {
	img := imgtest.Solid(200, 100, color.RGBA{R: 250, A: 255})
	defer img.Close()

	src := []geometry.Point{{X: 0, Y: 0}, {X: 199, Y: 0}, {X: 199, Y: 99}, {X: 0, Y: 99}}
	dst := []geometry.Point{{X: 20, Y: 10}, {X: 280, Y: 30}, {X: 260, Y: 190}, {X: 40, Y: 170}}
	out, err := ApplyHomography(img, src, dst, 300, 200)
	if err != nil {
		t.Fatalf("apply homography: %v", err)
	}
	defer out.Close()
	if out.Cols() != 300 || out.Rows() != 200 {
		t.Fatalf("expected 300x200, got %dx%d", out.Cols(), out.Rows())
	}
	if c := imgtest.At(out, 150, 100); c.R != 250 {
		t.Fatalf("expected warped content at the centre, got %v", c)
	}
}

func TestApplyHomographyRejectsCollapsedDestination(t *testing.T) {
	img := imgtest.Solid(64, 64, color.RGBA{A: 255})
	defer img.Close()

	square := []geometry.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	point := []geometry.Point{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}}
	if _, err := ApplyHomography(img, square, point, 64, 64); !errors.Is(err, geometry.ErrDegenerateHomography) {
		t.Fatalf("expected ErrDegenerateHomography, got %v", err)
	}
}

func TestMatrixRejectsSingular(t *testing.T) {
	h := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 3, 3, gocv.MatTypeCV64F)
	defer h.Close()
	h.SetDoubleAt(0, 0, 1)
	h.SetDoubleAt(1, 0, 2)
	h.SetDoubleAt(2, 2, 1)
	if _, err := Matrix(h); !errors.Is(err, geometry.ErrDegenerateHomography) {
		t.Fatalf("expected ErrDegenerateHomography, got %v", err)
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := Matrix(empty); !errors.Is(err, geometry.ErrDegenerateHomography) {
		t.Fatalf("expected ErrDegenerateHomography for empty matrix, got %v", err)
	}
}

func TestProjectMapsQuadCorners(t *testing.T) {
	src := geometry.Quad{{X: 100, Y: 100}, {X: 500, Y: 100}, {X: 500, Y: 400}, {X: 100, Y: 400}}
	dst := corners(400, 300)
	m, err := transform(src, dst)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	defer m.Close()
	h, err := Matrix(m)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	for i := range src {
		got := Project(h, src[i])
		if got.Dist(dst[i]) > 1e-3 {
			t.Fatalf("corner %d: expected %v, got %v", i, dst[i], got)
		}
	}
}
