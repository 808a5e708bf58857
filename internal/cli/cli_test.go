package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lapscreen/internal/config"
	"lapscreen/internal/pipeline"
	"lapscreen/internal/storage"
	"lapscreen/internal/tasks"
)

// fakePipeline answers every job immediately with a successful result.
type fakePipeline struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	subs []chan pipeline.Result
	fail error
	n    int
}

func (f *fakePipeline) Submit(job pipeline.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", f.n)
	}
	f.jobs = append(f.jobs, job)

	res := pipeline.Result{Job: job, Error: f.fail, Meta: map[string]any{
		"output":     filepath.Join(job.Output, "out.png"),
		"width":      120,
		"height":     90,
		"confidence": 0.9,
		"annotation": job.InputPath + ".screen.yaml",
	}}
	if job.Type == pipeline.JobProcess || job.Type == pipeline.JobBatch {
		res.Images = []tasks.ProcessingResult{{InputPath: job.InputPath, Success: f.fail == nil, ScreenDetected: true}}
	}
	for _, ch := range f.subs {
		ch <- res
	}
	return job.ID, nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.Result, 8)
	f.subs = append(f.subs, ch)
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.subs {
			if c == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
	}
}

func (f *fakePipeline) QueueDepth() int { return 0 }

func (f *fakePipeline) snapshot() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Job(nil), f.jobs...)
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DefaultOutput = t.TempDir()
	fake := &fakePipeline{}
	root := NewRoot(fake, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	var out bytes.Buffer
	root.out = &out
	return root, fake, &out
}

func TestRunDispatchesJobs(t *testing.T) {
	temp := t.TempDir()
	cases := []struct {
		name       string
		args       []string
		expectType pipeline.JobType
		output     string
	}{
		{"process", []string{"process", "a.jpg", "b.jpg"}, pipeline.JobProcess, "Processed 1/1 images"},
		{"batch", []string{"batch", temp, "--recursive", "-o", filepath.Join(temp, "out")}, pipeline.JobBatch, "Screens detected: 1/1"},
		{"extract", []string{"extract", "a.jpg", "--aspect", "1.6"}, pipeline.JobExtract, "Screen saved to"},
		{"detect", []string{"detect", "a.jpg"}, pipeline.JobDetect, "Annotation: a.jpg.screen.yaml"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fake, out := newTestRoot(t)
			if err := root.Run(context.Background(), tc.args); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			jobs := fake.snapshot()
			if len(jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(jobs))
			}
			if jobs[0].Type != tc.expectType {
				t.Fatalf("expected type %s, got %s", tc.expectType, jobs[0].Type)
			}
			if !strings.Contains(out.String(), tc.output) {
				t.Fatalf("expected output to contain %q, got %q", tc.output, out.String())
			}
		})
	}
}

func TestProcessOnlyForwardsChangedFlags(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	args := []string{"process", "a.jpg", "b.jpg", "--fill", "color", "--color", "#ff0000", "--width", "800", "--perspective=false", "--fit", "fill"}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}
	job := fake.snapshot()[0]
	opts := job.Options

	files, ok := opts["files"].([]string)
	if !ok || len(files) != 2 || files[1] != "b.jpg" {
		t.Fatalf("expected both files, got %v", opts["files"])
	}
	if opts["fill_mode"] != "color" || opts["fill_color"] != "#ff0000" || opts["width"] != 800 || opts["use_perspective"] != false || opts["fit"] != "fill" {
		t.Fatalf("unexpected options %v", opts)
	}
	for _, key := range []string{"height", "blend", "format", "suffix", "confidence"} {
		if _, ok := opts[key]; ok {
			t.Fatalf("expected %s left to config defaults, got %v", key, opts[key])
		}
	}
	if job.Output != root.cfg.Paths.DefaultOutput {
		t.Fatalf("expected default output dir, got %s", job.Output)
	}
}

func TestBatchAndExtractOptions(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"batch", "/photos", "-r"}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if err := root.Run(context.Background(), []string{"extract", "a.jpg", "--aspect", "1.6", "--format", "jpg"}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	jobs := fake.snapshot()
	if jobs[0].Options["recursive"] != true || jobs[0].InputPath != "/photos" {
		t.Fatalf("unexpected batch job %+v", jobs[0])
	}
	if jobs[1].Options["aspect"] != 1.6 || jobs[1].Options["format"] != "jpg" {
		t.Fatalf("unexpected extract job %+v", jobs[1])
	}
}

func TestRunReturnsJobErrors(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	fake.fail = errors.New("screen not found")
	err := root.Run(context.Background(), []string{"detect", "a.jpg"})
	if err == nil || err.Error() != "screen not found" {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestRunValidatesArguments(t *testing.T) {
	root, _, _ := newTestRoot(t)
	for _, args := range [][]string{
		{"process"},
		{"batch"},
		{"extract", "a.jpg", "b.jpg"},
		{"detect"},
		{"watch"},
		{"unknown"},
	} {
		if err := root.Run(context.Background(), args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	if err := root.Run(context.Background(), []string{}); err != nil {
		t.Fatalf("expected nil for empty args showing usage, got %v", err)
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _, _ := newTestRoot(t)
	var called bool
	root.serveFn = func(ctx context.Context, addr, grpcAddr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
		called = true
		if addr != ":9999" || grpcAddr != "" {
			t.Fatalf("unexpected addrs %q %q", addr, grpcAddr)
		}
		return nil
	}
	if err := root.Run(context.Background(), []string{"serve", "--addr", ":9999", "--grpc-addr", ""}); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if !called {
		t.Fatalf("serve function was not invoked")
	}
}

func TestWatchQueuesNewPhotos(t *testing.T) {
	root, fake, _ := newTestRoot(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- root.Run(ctx, []string{"watch", dir, "--settle", "50ms", "--fill", "none"})
	}()

	// the watcher starts asynchronously; keep adding photos until one is queued
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; len(fake.snapshot()) == 0; i++ {
		if time.Now().After(deadline) {
			t.Fatalf("expected a queued job")
		}
		for _, name := range []string{fmt.Sprintf("shot_processed_%d.jpg", i), fmt.Sprintf("shot_%d.jpg", i)} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop")
	}

	for _, job := range fake.snapshot() {
		if strings.Contains(job.InputPath, "_processed") {
			t.Fatalf("expected outputs ignored, got %s", job.InputPath)
		}
		if job.Type != pipeline.JobProcess || job.Options["fill_mode"] != "none" {
			t.Fatalf("unexpected job %+v", job)
		}
	}
}

func TestIgnoreOutputs(t *testing.T) {
	out := t.TempDir()
	ignore := ignoreOutputs(out, "_processed", "_mask", "")
	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(out, "a.jpg"), true},
		{"/photos/a_processed.png", true},
		{"/photos/a_processed_2.png", true},
		{"/photos/a_mask.png", true},
		{"/photos/a.jpg", false},
		{filepath.Join(filepath.Dir(out), "b.jpg"), false},
	}
	for _, tc := range cases {
		if got := ignore(tc.path); got != tc.want {
			t.Fatalf("ignore(%s): expected %v, got %v", tc.path, tc.want, got)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"config", "show"}); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), `"fill_mode": "black"`) {
		t.Fatalf("expected config JSON in output, got %q", out.String())
	}

	out.Reset()
	if err := root.Run(context.Background(), []string{"config", "validate"}); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out.String(), "Configuration is valid") {
		t.Fatalf("expected validation message, got %q", out.String())
	}

	root.cfg.Editing.FillColor = "#zz"
	if err := root.Run(context.Background(), []string{"config", "validate"}); err == nil {
		t.Fatalf("expected invalid fill color to fail validation")
	}
}

func TestVersionCommand(t *testing.T) {
	root, _, out := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "lapscreen "+Version) {
		t.Fatalf("expected version in output, got %q", out.String())
	}
}
