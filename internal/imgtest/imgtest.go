// Package imgtest builds synthetic image buffers for package tests.
package imgtest

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Solid returns a w x h BGR image filled with c.
func Solid(w, h int, c color.RGBA) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), h, w, gocv.MatTypeCV8UC3)
}

// Gradient returns a smooth w x h BGR image: blue grows with x, green with y, red is constant.
func Gradient(w, h int) gocv.Mat {
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			data[i] = byte(x * 255 / max(w-1, 1))
			data[i+1] = byte(y * 255 / max(h-1, 1))
			data[i+2] = 128
		}
	}
	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		panic(err)
	}
	out := m.Clone()
	m.Close()
	return out
}

// FillRect paints the half-open rectangle r with c in place.
func FillRect(m *gocv.Mat, r image.Rectangle, c color.RGBA) {
	roi := m.Region(r)
	defer roi.Close()
	patch := Solid(r.Dx(), r.Dy(), c)
	defer patch.Close()
	patch.CopyTo(&roi)
}

// At returns the pixel at (x, y) as RGBA.
func At(m gocv.Mat, x, y int) color.RGBA {
	v := m.GetVecbAt(y, x)
	if len(v) < 3 {
		g := m.GetUCharAt(y, x)
		return color.RGBA{R: g, G: g, B: g, A: 255}
	}
	return color.RGBA{R: v[2], G: v[1], B: v[0], A: 255}
}

// MeanAbsDiff averages the per-channel absolute difference of a and b inside r.
func MeanAbsDiff(a, b gocv.Mat, r image.Rectangle) float64 {
	var sum float64
	var n int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			pa, pb := At(a, x, y), At(b, x, y)
			sum += math.Abs(float64(pa.R)-float64(pb.R)) +
				math.Abs(float64(pa.G)-float64(pb.G)) +
				math.Abs(float64(pa.B)-float64(pb.B))
			n += 3
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Equal reports whether a and b hold identical pixels.
func Equal(a, b gocv.Mat) bool {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Type() != b.Type() {
		return false
	}
	ab, bb := a.ToBytes(), b.ToBytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
