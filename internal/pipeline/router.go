package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"lapscreen/internal/framing"
	"lapscreen/internal/fsutil"
	"lapscreen/internal/logging"
	"lapscreen/internal/storage"
	"lapscreen/internal/tasks"
)

// ScreenTasks is the task layer the router drives; *tasks.Processor
// implements it.
type ScreenTasks interface {
	ProcessFile(ctx context.Context, input, outputDir string, opts tasks.ProcessingOptions, cache *tasks.FillCache) tasks.ProcessingResult
	ProcessBatch(ctx context.Context, files []string, outputDir string, opts tasks.ProcessingOptions, progress tasks.ProgressFunc) []tasks.ProcessingResult
	ExtractScreen(ctx context.Context, input, outputDir string, aspect float64, opts tasks.ProcessingOptions) tasks.ProcessingResult
	DetectFile(ctx context.Context, input, outputDir string, opts tasks.ProcessingOptions) (tasks.ProcessingResult, string)
}

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	screen   ScreenTasks
	defaults tasks.ProcessingOptions
}

func newRouter(logger *slog.Logger, store *storage.Store, screen ScreenTasks, defaults tasks.ProcessingOptions) Processor {
	return &router{
		log:      logger,
		store:    store,
		screen:   screen,
		defaults: defaults,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	opts, err := applyOptions(r.defaults, job.Options)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	switch job.Type {
	case JobProcess:
		return r.handleProcess(ctx, job, opts)
	case JobBatch:
		return r.handleBatch(ctx, job, opts)
	case JobExtract:
		return r.handleExtract(ctx, job, opts)
	case JobDetect:
		return r.handleDetect(ctx, job, opts)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleProcess(ctx context.Context, job Job, opts tasks.ProcessingOptions) Result {
	files := getStringsOption(job.Options, "files")
	if len(files) == 0 && job.InputPath != "" {
		files = []string{job.InputPath}
	}
	if len(files) == 0 {
		return Result{Job: job, Error: errors.New("no input files")}
	}
	return r.runFiles(ctx, job, files, opts)
}

func (r *router) handleBatch(ctx context.Context, job Job, opts tasks.ProcessingOptions) Result {
	files, err := fsutil.ListImages(job.InputPath, getBoolOption(job.Options, "recursive"))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if len(files) == 0 {
		return Result{Job: job, Error: fmt.Errorf("no supported images in %s", job.InputPath)}
	}
	return r.runFiles(ctx, job, files, opts)
}

// runFiles processes files as one batch and fails the job only when no image
// succeeded.
func (r *router) runFiles(ctx context.Context, job Job, files []string, opts tasks.ProcessingOptions) Result {
	progress := func(done, total int, name string) {
		logging.LogProcessingStep(r.log, job.ID, "image", "done", map[string]any{
			"file":     name,
			"progress": fmt.Sprintf("%d/%d", done, total),
		})
	}
	results := r.screen.ProcessBatch(ctx, files, outputDir(job), opts, progress)
	r.recordImages(job.ID, results)

	rep := tasks.Report(results)
	res := Result{Job: job, Meta: rep.Meta(), Images: results}
	if rep.Successful == 0 {
		res.Error = fmt.Errorf("no image processed (%d failed)", rep.Failed)
	}
	return res
}

func (r *router) handleExtract(ctx context.Context, job Job, opts tasks.ProcessingOptions) Result {
	aspect := getFloat64Option(job.Options, "aspect")
	img := r.screen.ExtractScreen(ctx, job.InputPath, outputDir(job), aspect, opts)
	return r.single(job, img, nil)
}

func (r *router) handleDetect(ctx context.Context, job Job, opts tasks.ProcessingOptions) Result {
	img, annotation := r.screen.DetectFile(ctx, job.InputPath, outputDir(job), opts)
	return r.single(job, img, map[string]any{"annotation": annotation})
}

func (r *router) single(job Job, img tasks.ProcessingResult, extra map[string]any) Result {
	r.recordImages(job.ID, []tasks.ProcessingResult{img})
	meta := map[string]any{
		"output":          img.OutputPath,
		"screen_detected": img.ScreenDetected,
		"confidence":      img.Confidence,
		"width":           img.Width,
		"height":          img.Height,
	}
	for k, v := range extra {
		meta[k] = v
	}
	res := Result{Job: job, Meta: meta, Images: []tasks.ProcessingResult{img}}
	if !img.Success {
		res.Error = errors.New(img.Error)
	}
	return res
}

func (r *router) recordImages(jobID string, results []tasks.ProcessingResult) {
	if r.store == nil {
		return
	}
	for _, img := range results {
		if _, err := r.store.RecordImageResult(storage.ImageResult{
			JobID:          jobID,
			InputPath:      img.InputPath,
			OutputPath:     img.OutputPath,
			Success:        img.Success,
			Error:          img.Error,
			ScreenDetected: img.ScreenDetected,
			Confidence:     img.Confidence,
			Width:          img.Width,
			Height:         img.Height,
			DurationMS:     img.ProcessingTime.Milliseconds(),
		}); err != nil {
			r.log.Warn("image result not stored", "job_id", jobID, "input", img.InputPath, "error", err)
		}
	}
}

func outputDir(job Job) string {
	if job.Output != "" {
		return job.Output
	}
	return "."
}

// applyOptions overlays job options on the defaults. Numbers may arrive as
// int (CLI) or float64 (JSON).
func applyOptions(base tasks.ProcessingOptions, options map[string]any) (tasks.ProcessingOptions, error) {
	opts := base
	if v, ok := options["fill_mode"].(string); ok && v != "" {
		mode, err := tasks.ParseFillMode(v)
		if err != nil {
			return opts, err
		}
		opts.FillMode = mode
	}
	if v, ok := options["fill_color"].(string); ok && v != "" {
		c, err := tasks.ParseHexColor(v)
		if err != nil {
			return opts, err
		}
		opts.FillColor = c
	}
	if v, ok := options["background"].(string); ok && v != "" {
		c, err := tasks.ParseHexColor(v)
		if err != nil {
			return opts, err
		}
		opts.Background = c
	}
	if v, ok := options["fill_image"].(string); ok && v != "" {
		opts.FillImagePath = v
	}
	if v, ok := options["format"].(string); ok && v != "" {
		if !fsutil.IsOutputFormat(v) {
			return opts, fmt.Errorf("unsupported output format %q", v)
		}
		opts.Format = fsutil.NormalizeFormat(v)
	}
	if v, ok := options["suffix"].(string); ok {
		opts.Suffix = v
	}
	if v, ok := options["fit"].(string); ok && v != "" {
		opts.Fit = framing.ParseFitMode(strings.ToLower(v))
	}
	setBool(options, "use_perspective", &opts.UsePerspective)
	setBool(options, "blend", &opts.Blend)
	setBool(options, "auto_crop", &opts.AutoCrop)
	setBool(options, "resize", &opts.Resize)
	setBool(options, "maintain_aspect", &opts.MaintainAspect)
	if _, ok := numberOption(options, "crop_margin"); ok {
		opts.CropMargin = getIntOption(options, "crop_margin")
	}
	if _, ok := numberOption(options, "width"); ok {
		opts.Width = getIntOption(options, "width")
	}
	if _, ok := numberOption(options, "height"); ok {
		opts.Height = getIntOption(options, "height")
	}
	if _, ok := numberOption(options, "quality"); ok {
		opts.JPEGQuality = getIntOption(options, "quality")
	}
	if v, ok := numberOption(options, "crop_aspect_ratio"); ok {
		opts.CropAspectRatio = v
	}
	if v, ok := numberOption(options, "confidence"); ok {
		opts.Confidence = v
	}
	// an explicit size implies resizing unless "resize" says otherwise
	if _, explicit := options["resize"]; !explicit {
		_, w := options["width"]
		_, h := options["height"]
		opts.Resize = opts.Resize || w || h
	}
	if opts.FillMode == tasks.FillImage && opts.FillImagePath != "" {
		if _, err := os.Stat(opts.FillImagePath); err != nil {
			return opts, fmt.Errorf("fill image: %w", err)
		}
	}
	return opts, nil
}

// Helper functions to safely extract typed options from job.Options map
func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func setBool(options map[string]any, key string, dst *bool) {
	if val, ok := options[key].(bool); ok {
		*dst = val
	}
}

func numberOption(options map[string]any, key string) (float64, bool) {
	switch v := options[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func getFloat64Option(options map[string]any, key string) float64 {
	v, _ := numberOption(options, key)
	return v
}

func getIntOption(options map[string]any, key string) int {
	v, _ := numberOption(options, key)
	return int(v)
}

func getStringsOption(options map[string]any, key string) []string {
	switch v := options[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
