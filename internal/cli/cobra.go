package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"lapscreen/internal/pipeline"
	"lapscreen/internal/tasks"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lapscreen",
		Short: "lapscreen cleans up the screens in laptop photos",
		Long: `lapscreen finds the laptop screen in product photos, blacks it out or replaces
it with other content (perspective-correct), then crops and resizes the result.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newProcessCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newExtractCmd(root))
	rootCmd.AddCommand(newDetectCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// processingFlags are the per-job overrides of the editing and output config.
// Only flags set on the command line end up in the job options.
type processingFlags struct {
	output         string
	fillMode       string
	fillColor      string
	fillImage      string
	perspective    bool
	blend          bool
	autoCrop       bool
	cropMargin     int
	background     string
	cropAspect     float64
	resize         bool
	width          int
	height         int
	maintainAspect bool
	fit            string
	format         string
	quality        int
	suffix         string
	confidence     float64
}

func addOutputFlags(cmd *cobra.Command, root *Root, f *processingFlags) {
	cfg := root.cfg
	cmd.Flags().StringVarP(&f.output, "output", "o", cfg.Paths.DefaultOutput, "output directory")
	cmd.Flags().StringVar(&f.format, "format", cfg.Output.Format, "output format (png, jpg)")
	cmd.Flags().IntVar(&f.quality, "quality", cfg.Output.JPEGQuality, "JPEG quality (1-100)")
	cmd.Flags().Float64Var(&f.confidence, "confidence", cfg.Detector.Confidence, "minimum detection confidence")
}

func addProcessingFlags(cmd *cobra.Command, root *Root, f *processingFlags) {
	cfg := root.cfg
	addOutputFlags(cmd, root, f)
	cmd.Flags().StringVar(&f.fillMode, "fill", cfg.Editing.FillMode, "screen fill mode (black, color, image, none)")
	cmd.Flags().StringVar(&f.fillColor, "color", cfg.Editing.FillColor, "fill color for --fill color (#rrggbb)")
	cmd.Flags().StringVar(&f.fillImage, "fill-image", cfg.Editing.FillImage, "replacement image for --fill image")
	cmd.Flags().BoolVar(&f.perspective, "perspective", cfg.Editing.UsePerspective, "warp the replacement image onto the screen corners")
	cmd.Flags().BoolVar(&f.blend, "blend", cfg.Editing.Blend, "feather the replacement edges")
	cmd.Flags().BoolVar(&f.autoCrop, "auto-crop", cfg.Editing.AutoCrop, "crop uniform background borders")
	cmd.Flags().IntVar(&f.cropMargin, "crop-margin", cfg.Editing.CropMargin, "margin kept around content when auto cropping")
	cmd.Flags().StringVar(&f.background, "background", cfg.Editing.BackgroundColor, "background color for auto crop")
	cmd.Flags().Float64Var(&f.cropAspect, "crop-aspect", cfg.Editing.CropAspectRatio, "center crop to this width/height ratio (0 keeps)")
	cmd.Flags().BoolVar(&f.resize, "resize", cfg.Output.Resize, "resize the result")
	cmd.Flags().IntVar(&f.width, "width", cfg.Output.Width, "target width")
	cmd.Flags().IntVar(&f.height, "height", cfg.Output.Height, "target height")
	cmd.Flags().BoolVar(&f.maintainAspect, "maintain-aspect", cfg.Output.MaintainAspect, "keep the aspect ratio when resizing")
	cmd.Flags().StringVar(&f.fit, "fit", cfg.Output.Fit, "resize mode (none, fit, fill, smart)")
	cmd.Flags().StringVar(&f.suffix, "suffix", cfg.Output.Suffix, "suffix appended to output names")
}

// options returns the job options for the flags changed on cmd.
func (f *processingFlags) options(cmd *cobra.Command) map[string]any {
	values := map[string]any{
		"fill":            f.fillMode,
		"color":           f.fillColor,
		"fill-image":      f.fillImage,
		"perspective":     f.perspective,
		"blend":           f.blend,
		"auto-crop":       f.autoCrop,
		"crop-margin":     f.cropMargin,
		"background":      f.background,
		"crop-aspect":     f.cropAspect,
		"resize":          f.resize,
		"width":           f.width,
		"height":          f.height,
		"maintain-aspect": f.maintainAspect,
		"fit":             f.fit,
		"format":          f.format,
		"quality":         f.quality,
		"suffix":          f.suffix,
		"confidence":      f.confidence,
	}
	keys := map[string]string{
		"fill":            "fill_mode",
		"color":           "fill_color",
		"fill-image":      "fill_image",
		"perspective":     "use_perspective",
		"blend":           "blend",
		"auto-crop":       "auto_crop",
		"crop-margin":     "crop_margin",
		"background":      "background",
		"crop-aspect":     "crop_aspect_ratio",
		"resize":          "resize",
		"width":           "width",
		"height":          "height",
		"maintain-aspect": "maintain_aspect",
		"fit":             "fit",
		"format":          "format",
		"quality":         "quality",
		"suffix":          "suffix",
		"confidence":      "confidence",
	}
	opts := map[string]any{"source": "cli"}
	for flag, key := range keys {
		if fl := cmd.Flags().Lookup(flag); fl != nil && fl.Changed {
			opts[key] = values[flag]
		}
	}
	return opts
}

func newProcessCmd(root *Root) *cobra.Command {
	var f processingFlags
	cmd := &cobra.Command{
		Use:   "process <image>...",
		Short: "Process one or more photos",
		Long: `Detect the screen in each photo, fill or replace it, then crop and resize.

Examples:
  lapscreen process shot.jpg
  lapscreen process --fill image --fill-image ui.png --width 1600 --fit fit a.jpg b.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := f.options(cmd)
			opts["files"] = args
			job := pipeline.Job{
				Type:      pipeline.JobProcess,
				InputPath: args[0],
				Output:    f.output,
				Options:   opts,
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if len(res.Images) > 0 {
				root.printf("%s\n", tasks.Report(res.Images))
			}
			return err
		},
	}
	addProcessingFlags(cmd, root, &f)
	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		f         processingFlags
		recursive bool
	)
	cmd := &cobra.Command{
		Use:   "batch <input_directory>",
		Short: "Process every photo in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := f.options(cmd)
			if recursive {
				opts["recursive"] = true
			}
			job := pipeline.Job{
				Type:      pipeline.JobBatch,
				InputPath: args[0],
				Output:    f.output,
				Options:   opts,
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if len(res.Images) > 0 {
				root.printf("%s\n", tasks.Report(res.Images))
			}
			return err
		},
	}
	addProcessingFlags(cmd, root, &f)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "include subdirectories")
	return cmd
}

func newExtractCmd(root *Root) *cobra.Command {
	var (
		f      processingFlags
		aspect float64
	)
	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Save the detected screen as a rectified image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := f.options(cmd)
			if aspect > 0 {
				opts["aspect"] = aspect
			}
			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				Type:      pipeline.JobExtract,
				InputPath: args[0],
				Output:    f.output,
				Options:   opts,
			})
			if err != nil {
				return err
			}
			root.printf("Screen saved to %v (%vx%v)\n", res.Meta["output"], res.Meta["width"], res.Meta["height"])
			return nil
		},
	}
	addOutputFlags(cmd, root, &f)
	cmd.Flags().Float64Var(&aspect, "aspect", 0, "width/height ratio of the screen (0 uses the detected shape)")
	return cmd
}

func newDetectCmd(root *Root) *cobra.Command {
	var f processingFlags
	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Preview the detected screen and write an editable annotation",
		Long: `Write <name>_detected with the screen outlined, and an annotation file next to
the photo. Edit the annotation to correct the corners; later runs use it instead
of the detector.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := root.enqueueAndWait(cmd.Context(), pipeline.Job{
				Type:      pipeline.JobDetect,
				InputPath: args[0],
				Output:    f.output,
				Options:   f.options(cmd),
			})
			if err != nil {
				return err
			}
			root.printf("Preview: %v (confidence %.2f)\n", res.Meta["output"], res.Meta["confidence"])
			if ann, _ := res.Meta["annotation"].(string); ann != "" {
				root.printf("Annotation: %s\n", ann)
			}
			return nil
		},
	}
	addOutputFlags(cmd, root, &f)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		f      processingFlags
		settle time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <directory>...",
		Short: "Process photos as they appear in directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.watch(cmd.Context(), args, f.output, settle, f.options(cmd))
		},
	}
	addProcessingFlags(cmd, root, &f)
	cmd.Flags().DurationVar(&settle, "settle", tasks.DefaultSettle, "quiet period before a new file is processed")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		grpcAddr   string
		watchPaths []string
		f          processingFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the job API server",
		Long: `Start an HTTP server for submitting and monitoring jobs, with a websocket result
feed and a gRPC health service. Optionally watches directories for new photos.

Examples:
  lapscreen serve --addr :8080
  lapscreen serve --addr :8080 --watch /photos/incoming --output /photos/clean`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			root.log.Info("starting server",
				"addr", addr,
				"grpc_addr", grpcAddr,
				"watch_paths", watchPaths,
			)

			if len(watchPaths) > 0 {
				opts := f.options(cmd)
				go func() {
					if err := root.watch(ctx, watchPaths, f.output, tasks.DefaultSettle, opts); err != nil {
						root.log.Error("watcher stopped", "error", err)
					}
				}()
			}

			root.log.Info("server ready",
				"addr", addr,
				"endpoints", []string{"/healthz", "/jobs", "/jobs/{id}", "/jobs/{id}/images", "/stream", "/ws", "/api/stats"},
			)
			return root.serveFn(ctx, addr, grpcAddr, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "server address (host:port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC health address (empty disables)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for new photos")
	addProcessingFlags(cmd, root, &f)

	return cmd
}
