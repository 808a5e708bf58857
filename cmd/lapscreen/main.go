package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lapscreen/internal/cli"
	"lapscreen/internal/config"
	"lapscreen/internal/detect"
	"lapscreen/internal/logging"
	"lapscreen/internal/pipeline"
	"lapscreen/internal/storage"
	"lapscreen/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return err
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Storage.Driver, cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn("job storage disabled", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	detector := openDetector(ctx, cfg, logger)
	defer detect.Close(detector)

	defaults, err := tasks.OptionsFromConfig(cfg)
	if err != nil {
		logger.Error("invalid editing options", "error", err)
		return err
	}

	proc := tasks.NewProcessor(detector, cfg, logger)
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, cfg.QueueSize(), logger, store, proc, defaults)
	defer pipe.Stop()

	root := cli.NewRoot(pipe, cfg, logger, store)
	return root.Run(ctx, os.Args[1:])
}

// openDetector builds the configured backend. When it cannot be loaded, only
// hand-written annotations locate screens.
func openDetector(ctx context.Context, cfg *config.Config, logger *slog.Logger) detect.ScreenDetector {
	backend := cfg.Detector.Backend
	detail := cfg.Detector.ModelPath
	switch backend {
	case "remote":
		detail = cfg.Detector.RemoteURL
	case "mask":
		detail = "*" + cfg.Detector.MaskSuffix + ".png"
	}

	d, err := detect.New(cfg.Detector, logger)
	if err != nil {
		logging.LogDetectorStatus(logger, backend, false, detail, err)
		return detect.WithAnnotations(nil, cfg.Detector.AnnotationSuffix)
	}

	inner := d
	if u, ok := d.(interface{ Unwrap() detect.ScreenDetector }); ok {
		inner = u.Unwrap()
	}
	if h, ok := inner.(interface{ CheckHealth(context.Context) error }); ok {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.CheckHealth(hctx); err != nil {
			logging.LogDetectorStatus(logger, backend, false, detail, err)
			return d
		}
	}
	logging.LogDetectorStatus(logger, backend, true, detail, nil)
	return d
}
