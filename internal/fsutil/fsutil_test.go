package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt", "c.heic", "sub/d.webp"} {
		touch(t, filepath.Join(dir, name))
	}

	flat, err := ListImages(dir, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.PNG"), filepath.Join(dir, "c.heic")}
	if !reflect.DeepEqual(flat, want) {
		t.Fatalf("expected %v, got %v", want, flat)
	}

	deep, err := ListImages(dir, true)
	if err != nil {
		t.Fatalf("list recursive: %v", err)
	}
	if len(deep) != 4 || deep[3] != filepath.Join(dir, "sub", "d.webp") {
		t.Fatalf("expected nested image included, got %v", deep)
	}

	if _, err := ListImages(filepath.Join(dir, "a.jpg"), false); err == nil {
		t.Fatalf("expected error for a file root")
	}
}

func TestOutputFilename(t *testing.T) {
	tests := []struct {
		input, format, suffix, want string
	}{
		{"/in/photo.jpg", "png", "_processed", "photo_processed.png"},
		{"shot.final.HEIC", "JPEG", "", "shot.final.jpg"},
		{"laptop", ".jpg", "_x", "laptop_x.jpg"},
	}
	for _, tt := range tests {
		if got := OutputFilename(tt.input, tt.format, tt.suffix); got != tt.want {
			t.Fatalf("OutputFilename(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

func TestSafeFilename(t *testing.T) {
	if got := SafeFilename(`a<b>c:d"e/f\g|h?i*j.png`); got != "a_b_c_d_e_f_g_h_i_j.png" {
		t.Fatalf("unexpected safe name %q", got)
	}
	if got := SafeFilename("ok name.jpg"); got != "ok name.jpg" {
		t.Fatalf("expected name unchanged, got %q", got)
	}
}

func TestReserveFilename(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	got, err := ReserveFilename(dir, "out.png")
	if err != nil || got != filepath.Join(dir, "out.png") {
		t.Fatalf("expected free name kept, got %s (%v)", got, err)
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("expected reserved file created: %v", err)
	}
	touch(t, filepath.Join(dir, "out_1.png"))
	if got, _ := ReserveFilename(dir, "out.png"); got != filepath.Join(dir, "out_2.png") {
		t.Fatalf("expected out_2.png, got %s", got)
	}
}

func TestReserveFilenameConcurrent(t *testing.T) {
	dir := t.TempDir()
	const workers = 8
	paths := make([]string, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			input := fmt.Sprintf("dir%d/shot.jpg", i)
			p, err := ReserveFilename(dir, OutputFilename(input, "png", "_processed"))
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			paths[i] = p
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		if seen[p] {
			t.Fatalf("expected distinct names, %s handed out twice", p)
		}
		seen[p] = true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != workers {
		t.Fatalf("expected %d files, got %d", workers, len(entries))
	}
}

func TestFormats(t *testing.T) {
	for format, ok := range map[string]bool{"jpg": true, ".JPEG": true, "png": true, "webp": false, "": false} {
		if IsOutputFormat(format) != ok {
			t.Fatalf("IsOutputFormat(%q): expected %v", format, ok)
		}
	}
	if !IsImageFile("x.TIFF") || IsImageFile("x.gif") {
		t.Fatalf("unexpected input format support")
	}
	if FirstExisting(filepath.Join(t.TempDir(), "nope"), ".") != "." {
		t.Fatalf("expected first existing path")
	}
}
