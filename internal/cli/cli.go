package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lapscreen/internal/config"
	"lapscreen/internal/pipeline"
	"lapscreen/internal/server"
	"lapscreen/internal/storage"
	"lapscreen/internal/tasks"
)

// Version is overridden at build time with -ldflags "-X lapscreen/internal/cli.Version=...".
var Version = "0.1.0-dev"

type pipelineClient interface {
	Submit(job pipeline.Job) (string, error)
	Subscribe() (<-chan pipeline.Result, func())
	QueueDepth() int
}

type serverFunc func(ctx context.Context, addr, grpcAddr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, addr, grpcAddr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	return server.NewServer(addr, grpcAddr, store, pipe, log).Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	out      io.Writer
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		out:      os.Stdout,
	}
}

// Run parses args and dispatches to subcommands.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := NewRootCmd(r)
	cmd.SetArgs(args)
	cmd.SetOut(r.out)
	cmd.SetErr(r.out)
	return cmd.ExecuteContext(ctx)
}

func (r *Root) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	id, err := r.enqueue(ctx, job)
	if err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == id {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	id, err := r.pipeline.Submit(job)
	if err != nil {
		return "", err
	}

	r.log.Info("job queued", "type", job.Type, "id", id, "input", job.InputPath)
	return id, nil
}

// watch queues a process job for every settled image under dirs until ctx
// is done. Files the pipeline writes itself are ignored.
func (r *Root) watch(ctx context.Context, dirs []string, output string, settle time.Duration, options map[string]any) error {
	w, err := tasks.NewWatcher(dirs, settle, r.log)
	if err != nil {
		return err
	}
	suffix := r.cfg.Output.Suffix
	if s, ok := options["suffix"].(string); ok && s != "" {
		suffix = s
	}
	w.Ignore = ignoreOutputs(output, suffix, "_screen", "_detected", r.cfg.Detector.MaskSuffix)
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()
	r.log.Info("watching for photos", "dirs", dirs, "output", output, "settle", settle.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			job := pipeline.Job{
				Type:      pipeline.JobProcess,
				InputPath: ev.Path,
				Output:    output,
				Options:   maps.Clone(options),
			}
			if _, err := r.enqueue(ctx, job); err != nil {
				r.log.Warn("photo not queued", "path", ev.Path, "error", err)
			}
		}
	}
}

// ignoreOutputs matches files inside outputDir and files whose stem carries
// one of the generated suffixes.
func ignoreOutputs(outputDir string, suffixes ...string) func(string) bool {
	absOut, err := filepath.Abs(outputDir)
	if err != nil || outputDir == "" {
		absOut = ""
	}
	return func(path string) bool {
		if absOut != "" {
			if abs, err := filepath.Abs(path); err == nil && strings.HasPrefix(abs, absOut+string(filepath.Separator)) {
				return true
			}
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for _, s := range suffixes {
			if s != "" && strings.Contains(stem, s) {
				return true
			}
		}
		return false
	}
}
