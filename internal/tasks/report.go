package tasks

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// BatchReport summarizes a batch run.
type BatchReport struct {
	TotalFiles      int           `json:"total_files"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	ScreensDetected int           `json:"screens_detected"`
	TotalTime       time.Duration `json:"total_time"`
	AverageTime     time.Duration `json:"average_time"`
	FailedFiles     []string      `json:"failed_files"`
	BytesWritten    int64         `json:"bytes_written"`
}

// Report aggregates per-image results.
func Report(results []ProcessingResult) BatchReport {
	rep := BatchReport{TotalFiles: len(results), FailedFiles: []string{}}
	for _, r := range results {
		rep.TotalTime += r.ProcessingTime
		if r.ScreenDetected {
			rep.ScreensDetected++
		}
		if r.Success {
			rep.Successful++
			rep.BytesWritten += r.OutputBytes
			continue
		}
		rep.FailedFiles = append(rep.FailedFiles, filepath.Base(r.InputPath))
	}
	rep.Failed = rep.TotalFiles - rep.Successful
	if rep.TotalFiles > 0 {
		rep.AverageTime = rep.TotalTime / time.Duration(rep.TotalFiles)
	}
	return rep
}

// Meta flattens the report for job results and storage.
func (r BatchReport) Meta() map[string]any {
	return map[string]any{
		"total_files":      r.TotalFiles,
		"successful":       r.Successful,
		"failed":           r.Failed,
		"screens_detected": r.ScreensDetected,
		"total_time_ms":    r.TotalTime.Milliseconds(),
		"average_time_ms":  r.AverageTime.Milliseconds(),
		"failed_files":     r.FailedFiles,
		"bytes_written":    r.BytesWritten,
	}
}

func (r BatchReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d/%d images (%d failed)\n", r.Successful, r.TotalFiles, r.Failed)
	fmt.Fprintf(&b, "Screens detected: %d/%d\n", r.ScreensDetected, r.TotalFiles)
	fmt.Fprintf(&b, "Written: %s\n", humanize.Bytes(uint64(r.BytesWritten)))
	fmt.Fprintf(&b, "Time: %s total, %s per image", r.TotalTime.Round(time.Millisecond), r.AverageTime.Round(time.Millisecond))
	if len(r.FailedFiles) > 0 {
		fmt.Fprintf(&b, "\nFailed: %s", strings.Join(r.FailedFiles, ", "))
	}
	return b.String()
}
