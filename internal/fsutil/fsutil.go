package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".avif": {},
	".heif": {},
	".heic": {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
}

var outputExts = map[string]struct{}{
	"jpg": {},
	"png": {},
}

// ListImages returns supported images under root, sorted. Subdirectories are
// only walked when recursive is set.
func ListImages(root string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsImageFile checks if a file is any supported input format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}

// IsOutputFormat reports whether format ("jpg", "png") can be written.
func IsOutputFormat(format string) bool {
	_, ok := outputExts[NormalizeFormat(format)]
	return ok
}

// NormalizeFormat lowercases format, strips a leading dot and maps jpeg to jpg.
func NormalizeFormat(format string) string {
	f := strings.TrimPrefix(strings.ToLower(format), ".")
	if f == "jpeg" {
		return "jpg"
	}
	return f
}

// OutputFilename builds <stem><suffix>.<format> for input.
func OutputFilename(input, format, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return stem + suffix + "." + NormalizeFormat(format)
}

// SafeFilename replaces characters that are invalid in file names on common
// filesystems with underscores.
func SafeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
}

// ReserveFilename creates dir/name, or dir/<stem>_<n><ext> with the smallest
// n >= 1 that does not exist yet, and returns its path. The file is created
// empty with O_EXCL so concurrent callers never receive the same path; the
// caller overwrites it or removes it on failure.
func ReserveFilename(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(dir, name)
	for n := 1; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("reserve %s: %w", path, err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}
