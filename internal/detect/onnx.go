package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"lapscreen/internal/config"
	"lapscreen/internal/framing"
)

var letterboxColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime loads the onnxruntime shared library once per process.
func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXDetector runs a YOLOv8-seg screen model through onnxruntime. Tensors
// are allocated once; Detect serializes access to them.
type ONNXDetector struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
	protos  *ort.Tensor[float32]
	params  yoloParams
	logger  *slog.Logger
}

// NewONNXDetector loads the model at cfg.ModelPath.
func NewONNXDetector(cfg config.Detector, logger *slog.Logger) (*ONNXDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("screen model: %w", err)
	}
	p := yoloParams{
		size:       cfg.InputSize,
		classes:    max(1, cfg.NumClasses),
		maskDim:    cfg.MaskDim,
		confidence: cfg.Confidence,
		iou:        cfg.IoU,
	}
	if p.size <= 0 || p.size%32 != 0 {
		return nil, fmt.Errorf("input size %d is not a positive multiple of 32", p.size)
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	size, ps := int64(p.size), int64(p.protoSize())
	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*p.size*p.size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	rows := int64(4 + p.classes + p.maskDim)
	boxes, err := ort.NewTensor(ort.NewShape(1, rows, int64(p.anchors())), make([]float32, int(rows)*p.anchors()))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output0 tensor: %w", err)
	}
	protos, err := ort.NewTensor(ort.NewShape(1, int64(p.maskDim), ps, ps), make([]float32, p.maskDim*int(ps*ps)))
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		return nil, fmt.Errorf("failed to create output1 tensor: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		protos.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0", "output1"},
		[]ort.Value{input},
		[]ort.Value{boxes, protos},
		opts,
	)
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		protos.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Info("onnx screen model loaded", "model", cfg.ModelPath, "input_size", p.size, "anchors", p.anchors())
	return &ONNXDetector{
		session: session,
		input:   input,
		boxes:   boxes,
		protos:  protos,
		params:  p,
		logger:  logger,
	}, nil
}

// Detect letterboxes the frame, runs the model and decodes the best screen.
func (d *ONNXDetector) Detect(ctx context.Context, f Frame) (*Detection, error) {
	if f.Image.Empty() {
		return nil, errors.New("empty frame")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lb := newLetterbox(f.Image.Cols(), f.Image.Rows(), d.params.size)
	boxed := framing.ResizeToFit(f.Image, d.params.size, d.params.size, letterboxColor)
	defer boxed.Close()

	blob := gocv.BlobFromImage(boxed, 1.0/255.0, image.Pt(d.params.size, d.params.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("input blob: %w", err)
	}

	d.mu.Lock()
	copy(d.input.GetData(), data)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	out0 := append([]float32(nil), d.boxes.GetData()...)
	out1 := append([]float32(nil), d.protos.GetData()...)
	d.mu.Unlock()

	det, err := decode(out0, out1, d.params, lb)
	if err != nil {
		return nil, err
	}
	if det != nil {
		d.logger.Debug("screen detected", "path", f.Path, "confidence", det.Confidence, "box", det.Box.String())
	}
	return det, nil
}

// Close destroys the session and its tensors.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.session != nil {
		errs = append(errs, d.session.Destroy())
		d.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{d.input, d.boxes, d.protos} {
		if t != nil {
			errs = append(errs, t.Destroy())
		}
	}
	d.input, d.boxes, d.protos = nil, nil, nil
	return errors.Join(errs...)
}
