// Package tasks runs the screen pipeline over image files: load, detect,
// replace the screen, reframe and save.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"lapscreen/internal/compositor"
	"lapscreen/internal/config"
	"lapscreen/internal/detect"
	"lapscreen/internal/framing"
	"lapscreen/internal/fsutil"
	"lapscreen/internal/imageio"
	"lapscreen/internal/perspective"
)

// ErrScreenNotFound is reported when a fill was requested but no screen was detected.
var ErrScreenNotFound = errors.New("screen not found")

var black = color.RGBA{A: 255}

// ProgressFunc is called after each image of a batch finishes.
type ProgressFunc func(done, total int, name string)

// Processor applies ProcessingOptions to image files using one detector.
type Processor struct {
	detector         detect.ScreenDetector
	log              *slog.Logger
	parallel         int
	annotationSuffix string
}

// NewProcessor builds a processor around d. Batch concurrency comes from
// cfg.Processing.ParallelJobs.
func NewProcessor(d detect.ScreenDetector, cfg *config.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Processor{
		detector:         d,
		log:              logger,
		parallel:         max(1, cfg.Processing.ParallelJobs),
		annotationSuffix: cfg.Detector.AnnotationSuffix,
	}
}

// ProcessFile runs the full pipeline for one image and writes
// <stem><suffix>.<format> into outputDir. Failures are reported in the
// result, never returned. cache may be nil.
func (p *Processor) ProcessFile(ctx context.Context, input, outputDir string, opts ProcessingOptions, cache *FillCache) (res ProcessingResult) {
	start := time.Now()
	res = ProcessingResult{InputPath: input}
	defer func() { res.ProcessingTime = time.Since(start) }()

	if cache == nil {
		cache = NewFillCache()
		defer cache.Close()
	}

	img, det, err := p.loadAndDetect(ctx, input, opts)
	if err != nil {
		return p.fail(res, err)
	}
	defer img.Close()
	defer det.Close()

	if det != nil {
		res.ScreenDetected = true
		res.Confidence = det.Confidence
		p.log.Debug("screen detected", "file", filepath.Base(input), "confidence", det.Confidence, "source", det.Source)
	}

	edited, err := p.edit(img, det, opts, cache)
	if err != nil {
		return p.fail(res, err)
	}
	framed := p.frame(edited, opts)
	edited.Close()
	defer framed.Close()

	out, err := p.save(outputDir, fsutil.OutputFilename(input, opts.format(), opts.Suffix), framed, opts)
	if err != nil {
		return p.fail(res, err)
	}
	res.OutputPath = out
	res.Success = true
	res.Width, res.Height = framed.Cols(), framed.Rows()
	if st, err := os.Stat(out); err == nil {
		res.OutputBytes = st.Size()
	}
	p.log.Info("image processed", "input", filepath.Base(input), "output", filepath.Base(out),
		"width", res.Width, "height", res.Height, "screen", res.ScreenDetected)
	return res
}

// save writes img under a name reserved in outputDir, so images sharing a
// stem each keep their own output.
func (p *Processor) save(outputDir, name string, img gocv.Mat, opts ProcessingOptions) (string, error) {
	out, err := fsutil.ReserveFilename(outputDir, name)
	if err != nil {
		return "", err
	}
	if err := imageio.Save(out, img, opts.saveOptions()); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

func (p *Processor) fail(res ProcessingResult, err error) ProcessingResult {
	res.Error = err.Error()
	p.log.Warn("screen not processed", "image", res.InputPath, "error", err)
	return res
}

// loadAndDetect loads input and runs the detector. A detection below the
// requested confidence counts as no screen.
func (p *Processor) loadAndDetect(ctx context.Context, input string, opts ProcessingOptions) (gocv.Mat, *detect.Detection, error) {
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, nil, err
	}
	img, err := imageio.Load(input)
	if err != nil {
		return gocv.Mat{}, nil, err
	}
	if p.detector == nil {
		return img, nil, nil
	}
	det, err := p.detector.Detect(ctx, detect.Frame{Path: input, Image: img})
	if err != nil {
		img.Close()
		return gocv.Mat{}, nil, fmt.Errorf("detect screen: %w", err)
	}
	if det != nil && det.Confidence < opts.Confidence {
		p.log.Debug("detection below confidence", "file", filepath.Base(input), "confidence", det.Confidence, "min", opts.Confidence)
		det.Close()
		det = nil
	}
	return img, det, nil
}

// edit replaces the screen according to opts.FillMode.
func (p *Processor) edit(img gocv.Mat, det *detect.Detection, opts ProcessingOptions, cache *FillCache) (gocv.Mat, error) {
	if opts.FillMode == FillNone || opts.FillMode == "" {
		return img.Clone(), nil
	}
	if det == nil {
		return gocv.Mat{}, ErrScreenNotFound
	}
	switch opts.FillMode {
	case FillBlack:
		return compositor.Fill(img, det.Mask, black)
	case FillColor:
		return compositor.Fill(img, det.Mask, opts.FillColor)
	case FillImage:
		content, err := cache.Get(opts.FillImagePath)
		if err != nil {
			return gocv.Mat{}, err
		}
		if opts.UsePerspective && det.Polygon.Len() >= 4 {
			return compositor.ReplaceWithPerspective(img, det.Polygon, content)
		}
		return compositor.ReplaceAxisAligned(img, det.Mask, content, opts.Blend)
	}
	return gocv.Mat{}, fmt.Errorf("unknown fill mode %q", opts.FillMode)
}

// frame applies auto crop, aspect crop and resizing in that order.
func (p *Processor) frame(img gocv.Mat, opts ProcessingOptions) gocv.Mat {
	out := img.Clone()
	step := func(next gocv.Mat) {
		out.Close()
		out = next
	}
	if opts.AutoCrop {
		step(framing.AutoCrop(out, opts.Background, framing.DefaultTolerance, opts.CropMargin))
	}
	if opts.CropAspectRatio > 0 {
		step(framing.CropToAspectRatio(out, opts.CropAspectRatio, true))
	}
	if opts.Resize {
		step(framing.Frame(out, opts.Width, opts.Height, opts.Fit, opts.MaintainAspect, framing.White))
	}
	return out
}

// ProcessBatch processes files concurrently and returns results in input
// order. One failing image never stops the others; only ctx cancellation
// does, and the remaining images are then reported as failed.
func (p *Processor) ProcessBatch(ctx context.Context, files []string, outputDir string, opts ProcessingOptions, progress ProgressFunc) []ProcessingResult {
	p.log.Info("batch started", "files", len(files), "output", outputDir, "workers", p.parallel)
	start := time.Now()

	cache := NewFillCache()
	defer cache.Close()
	if opts.FillMode == FillImage {
		if _, err := cache.Get(opts.FillImagePath); err != nil {
			p.log.Error("fill image unavailable", "path", opts.FillImagePath, "error", err)
		}
	}

	results := make([]ProcessingResult, len(files))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, file := range files {
		g.Go(func() error {
			results[i] = p.ProcessFile(gctx, file, outputDir, opts, cache)
			if progress != nil {
				mu.Lock()
				done++
				n := done
				mu.Unlock()
				progress(n, len(files), filepath.Base(file))
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report(results)
	p.log.Info("batch completed",
		"successful", rep.Successful,
		"total", rep.TotalFiles,
		"screens_detected", rep.ScreensDetected,
		"duration", time.Since(start).String(),
	)
	if rep.Failed > 0 {
		p.log.Warn("batch had failures", "failed", rep.Failed, "files", rep.FailedFiles)
	}
	return results
}

// ExtractScreen writes the rectified screen of input as
// <stem>_screen.<format>. A positive aspect corrects the screen to that
// width/height ratio.
func (p *Processor) ExtractScreen(ctx context.Context, input, outputDir string, aspect float64, opts ProcessingOptions) (res ProcessingResult) {
	start := time.Now()
	res = ProcessingResult{InputPath: input}
	defer func() { res.ProcessingTime = time.Since(start) }()

	img, det, err := p.loadAndDetect(ctx, input, opts)
	if err != nil {
		return p.fail(res, err)
	}
	defer img.Close()
	if det == nil {
		return p.fail(res, ErrScreenNotFound)
	}
	defer det.Close()
	res.ScreenDetected = true
	res.Confidence = det.Confidence

	screen, err := perspective.CorrectDistortion(img, det.Polygon, aspect)
	if err != nil {
		return p.fail(res, fmt.Errorf("extract screen: %w", err))
	}
	defer screen.Close()

	out, err := p.save(outputDir, fsutil.OutputFilename(input, opts.format(), "_screen"), screen, opts)
	if err != nil {
		return p.fail(res, err)
	}
	res.OutputPath = out
	res.Success = true
	res.Width, res.Height = screen.Cols(), screen.Rows()
	if st, err := os.Stat(out); err == nil {
		res.OutputBytes = st.Size()
	}
	return res
}

// DetectFile writes a preview with the detected screen highlighted as
// <stem>_detected.<format> and, unless one exists, an annotation file beside
// input that can be edited by hand and is picked up by later runs.
func (p *Processor) DetectFile(ctx context.Context, input, outputDir string, opts ProcessingOptions) (res ProcessingResult, annotation string) {
	start := time.Now()
	res = ProcessingResult{InputPath: input}
	defer func() { res.ProcessingTime = time.Since(start) }()

	img, det, err := p.loadAndDetect(ctx, input, opts)
	if err != nil {
		return p.fail(res, err), ""
	}
	defer img.Close()
	if det == nil {
		return p.fail(res, ErrScreenNotFound), ""
	}
	defer det.Close()
	res.ScreenDetected = true
	res.Confidence = det.Confidence

	preview, err := compositor.Overlay(img, det.Mask, det.Polygon)
	if err != nil {
		return p.fail(res, err), ""
	}
	defer preview.Close()

	out, err := p.save(outputDir, fsutil.OutputFilename(input, opts.format(), "_detected"), preview, opts)
	if err != nil {
		return p.fail(res, err), ""
	}
	res.OutputPath = out
	res.Success = true
	res.Width, res.Height = preview.Cols(), preview.Rows()

	annPath := detect.AnnotationPath(input, p.annotationSuffix)
	if _, err := os.Stat(annPath); errors.Is(err, os.ErrNotExist) {
		if err := detect.SaveAnnotation(annPath, detect.NewAnnotation(filepath.Base(input), det)); err != nil {
			p.log.Warn("annotation not written", "path", annPath, "error", err)
			return res, ""
		}
	}
	return res, annPath
}
