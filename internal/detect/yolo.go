package detect

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"lapscreen/internal/geometry"
	"lapscreen/internal/mask"
)

// yoloParams describes a YOLOv8-seg export.
//
//	output0: [1, 4+classes+maskDim, anchors]  (cx, cy, w, h, class scores, mask coefficients)
//	output1: [1, maskDim, size/4, size/4]     (mask prototypes)
type yoloParams struct {
	size       int
	classes    int
	maskDim    int
	confidence float64
	iou        float64
}

func (p yoloParams) anchors() int {
	s := p.size
	return (s/8)*(s/8) + (s/16)*(s/16) + (s/32)*(s/32)
}

func (p yoloParams) protoSize() int { return p.size / 4 }

// letterbox records how a source image was fitted into the square model input.
type letterbox struct {
	srcW, srcH     int
	scale          float64
	padX, padY     int
	innerW, innerH int
}

// newLetterbox mirrors framing.ResizeToFit: fit inside, truncate, centre.
func newLetterbox(w, h, size int) letterbox {
	s := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	iw, ih := max(1, min(size, int(float64(w)*s))), max(1, min(size, int(float64(h)*s)))
	return letterbox{srcW: w, srcH: h, scale: s, padX: (size - iw) / 2, padY: (size - ih) / 2, innerW: iw, innerH: ih}
}

// toSource maps a box in model-input pixels back onto the source image.
func (l letterbox) toSource(x1, y1, x2, y2 float64) geometry.BoundingBox {
	sx1 := (x1 - float64(l.padX)) / l.scale
	sy1 := (y1 - float64(l.padY)) / l.scale
	sx2 := (x2 - float64(l.padX)) / l.scale
	sy2 := (y2 - float64(l.padY)) / l.scale
	b := geometry.BoundingBox{X: int(sx1), Y: int(sy1), Width: int(sx2 - sx1), Height: int(sy2 - sy1)}
	return b.Clamp(l.srcW, l.srcH)
}

type candidate struct {
	x1, y1, x2, y2 float64 // model-input pixels
	score          float64
	coeffs         []float32
}

func (c candidate) box() geometry.BoundingBox {
	return geometry.BoundingBox{X: int(c.x1), Y: int(c.y1), Width: int(c.x2 - c.x1), Height: int(c.y2 - c.y1)}
}

// decodeCandidates reads every anchor whose best class score reaches the
// confidence threshold.
func decodeCandidates(out0 []float32, p yoloParams) []candidate {
	n := p.anchors()
	rows := 4 + p.classes + p.maskDim
	if len(out0) < rows*n {
		return nil
	}
	at := func(row, a int) float32 { return out0[row*n+a] }

	var cands []candidate
	for a := 0; a < n; a++ {
		best := float32(0)
		for c := 0; c < p.classes; c++ {
			best = max(best, at(4+c, a))
		}
		if float64(best) < p.confidence {
			continue
		}
		cx, cy, w, h := float64(at(0, a)), float64(at(1, a)), float64(at(2, a)), float64(at(3, a))
		coeffs := make([]float32, p.maskDim)
		for k := range coeffs {
			coeffs[k] = at(4+p.classes+k, a)
		}
		cands = append(cands, candidate{
			x1:     cx - w/2,
			y1:     cy - h/2,
			x2:     cx + w/2,
			y2:     cy + h/2,
			score:  float64(best),
			coeffs: coeffs,
		})
	}
	return cands
}

// nms keeps the highest-scoring candidates whose overlap with every kept one
// stays below the IoU threshold.
func nms(cands []candidate, iou float64) []candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	var kept []candidate
	for _, c := range cands {
		ok := true
		for _, k := range kept {
			if c.box().IoU(k.box()) >= iou {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// decodeMask combines the prototypes with the candidate's coefficients,
// keeps the part inside its box and maps it back to the source size.
func decodeMask(c candidate, protos []float32, p yoloParams, lb letterbox) gocv.Mat {
	ps := p.protoSize()
	ratio := float64(ps) / float64(p.size)
	bx1, by1 := int(c.x1*ratio), int(c.y1*ratio)
	bx2, by2 := int(math.Ceil(c.x2*ratio)), int(math.Ceil(c.y2*ratio))

	data := make([]byte, ps*ps)
	for y := max(0, by1); y < min(ps, by2); y++ {
		for x := max(0, bx1); x < min(ps, bx2); x++ {
			var v float64
			for k, coeff := range c.coeffs {
				v += float64(coeff) * float64(protos[k*ps*ps+y*ps+x])
			}
			data[y*ps+x] = byte(math.Round(255 / (1 + math.Exp(-v))))
		}
	}
	grid, err := gocv.NewMatFromBytes(ps, ps, gocv.MatTypeCV8U, data)
	if err != nil {
		return gocv.NewMat()
	}
	defer grid.Close()

	inner := image.Rect(
		int(float64(lb.padX)*ratio), int(float64(lb.padY)*ratio),
		int(math.Ceil(float64(lb.padX+lb.innerW)*ratio)), int(math.Ceil(float64(lb.padY+lb.innerH)*ratio)),
	).Intersect(image.Rect(0, 0, ps, ps))
	if inner.Empty() {
		return gocv.NewMat()
	}
	region := grid.Region(inner)
	defer region.Close()

	scaled := mask.Resize(region, lb.srcW, lb.srcH)
	defer scaled.Close()
	return mask.Binarize(scaled)
}

// decode turns raw model outputs into the best detection, or nil.
func decode(out0, out1 []float32, p yoloParams, lb letterbox) (*Detection, error) {
	kept := nms(decodeCandidates(out0, p), p.iou)
	if len(kept) == 0 {
		return nil, nil
	}
	best := kept[0]
	ps := p.protoSize()
	if len(out1) < p.maskDim*ps*ps {
		return nil, nil
	}
	m := decodeMask(best, out1, p, lb)
	if m.Empty() {
		m.Close()
		return nil, nil
	}
	d, err := fromMask(m, best.score, "onnx")
	if err != nil || d == nil {
		return d, err
	}
	if model := lb.toSource(best.x1, best.y1, best.x2, best.y2); !model.Empty() {
		d.Box = model
	}
	return d, nil
}
