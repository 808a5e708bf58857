package tasks

import (
	"image/color"
	"strings"
	"testing"
	"time"

	"lapscreen/internal/config"
	"lapscreen/internal/framing"
)

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{"#ff8000", color.RGBA{R: 255, G: 128, A: 255}, false},
		{"0a0B0c", color.RGBA{R: 10, G: 11, B: 12, A: 255}, false},
		{"#fff", color.RGBA{R: 255, G: 255, B: 255, A: 255}, false},
		{"", color.RGBA{A: 255}, false},
		{"#12345", color.RGBA{}, true},
		{"#gg0000", color.RGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseHexColor(%q): unexpected error %v", tt.in, err)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseHexColor(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Editing.FillMode = "COLOR"
	cfg.Editing.FillColor = "#102030"
	cfg.Output.Format = "JPEG"
	cfg.Output.Fit = "smart"

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.FillMode != FillColor || opts.FillColor != (color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}) {
		t.Fatalf("unexpected fill %v %v", opts.FillMode, opts.FillColor)
	}
	if opts.Format != "jpg" || opts.Fit != framing.FitSmart || opts.Suffix != "_processed" {
		t.Fatalf("unexpected output options %+v", opts)
	}
	if opts.Background != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("expected white background, got %v", opts.Background)
	}

	cfg.Editing.FillMode = "paint"
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Fatalf("expected error for unknown fill mode")
	}
}

func TestReport(t *testing.T) {
	results := []ProcessingResult{
		{InputPath: "/in/a.jpg", Success: true, ScreenDetected: true, ProcessingTime: 2 * time.Second, OutputBytes: 1_000_000},
		{InputPath: "/in/b.jpg", Success: true, ScreenDetected: true, ProcessingTime: time.Second, OutputBytes: 500_000},
		{InputPath: "/in/c.jpg", Error: "screen not found", ProcessingTime: 3 * time.Second},
	}
	rep := Report(results)
	if rep.TotalFiles != 3 || rep.Successful != 2 || rep.Failed != 1 || rep.ScreensDetected != 2 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	if rep.TotalTime != 6*time.Second || rep.AverageTime != 2*time.Second {
		t.Fatalf("unexpected times %v %v", rep.TotalTime, rep.AverageTime)
	}
	if rep.BytesWritten != 1_500_000 {
		t.Fatalf("expected bytes from successful outputs, got %d", rep.BytesWritten)
	}

	text := rep.String()
	for _, want := range []string{"Processed 2/3", "Screens detected: 2/3", "1.5 MB", "Failed: c.jpg"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in report:\n%s", want, text)
		}
	}
	if rep.Meta()["failed"] != 1 {
		t.Fatalf("expected meta to carry counts")
	}

	empty := Report(nil)
	if empty.AverageTime != 0 || len(empty.FailedFiles) != 0 {
		t.Fatalf("unexpected empty report %+v", empty)
	}
}
