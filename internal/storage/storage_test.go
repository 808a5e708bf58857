package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := New(driver, filepath.Join(t.TempDir(), "lapscreen.db"))
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverSQLite3} {
		t.Run(driver, func(t *testing.T) {
			s := openStore(t, driver)
			if s.Driver() != driver {
				t.Fatalf("expected driver %s, got %s", driver, s.Driver())
			}

			if err := s.RecordJobQueued(JobRecord{ID: "job-1", JobType: "batch", Status: "queued", InputPath: "/in", OutputPath: "/out", OptionsJSON: `{"fill":"black"}`}); err != nil {
				t.Fatalf("queue: %v", err)
			}
			if err := s.RecordJobStart("job-1"); err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := s.RecordJobResult("job-1", "completed", map[string]any{"successful": 2}, ""); err != nil {
				t.Fatalf("result: %v", err)
			}

			job, err := s.Job("job-1")
			if err != nil {
				t.Fatalf("job: %v", err)
			}
			if job.Status != "completed" || job.StartedAt == nil || job.CompletedAt == nil {
				t.Fatalf("unexpected job %+v", job)
			}
			if job.OptionsJSON != `{"fill":"black"}` {
				t.Fatalf("expected options kept, got %s", job.OptionsJSON)
			}

			meta, err := s.JobMeta("job-1")
			if err != nil {
				t.Fatalf("meta: %v", err)
			}
			if meta["successful"] != float64(2) {
				t.Fatalf("expected meta round trip, got %v", meta)
			}

			recent, err := s.RecentJobs(10)
			if err != nil || len(recent) != 1 {
				t.Fatalf("expected one recent job, got %v, %v", recent, err)
			}

			if _, err := s.Job("missing"); !errors.Is(err, sql.ErrNoRows) {
				t.Fatalf("expected ErrNoRows, got %v", err)
			}
		})
	}
}

func TestImageResultsAndStats(t *testing.T) {
	s := openStore(t, DriverSQLite)
	for _, rec := range []ImageResult{
		{JobID: "job-1", InputPath: "a.jpg", OutputPath: "out/a_processed.png", Success: true, ScreenDetected: true, Confidence: 0.91, Width: 2000, Height: 1500, DurationMS: 100},
		{JobID: "job-1", InputPath: "b.jpg", Error: "screen not found", DurationMS: 300},
		{JobID: "job-2", InputPath: "c.jpg", Success: true, DurationMS: 200},
	} {
		id, err := s.RecordImageResult(rec)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if len(id) != 36 {
			t.Fatalf("expected uuid id, got %q", id)
		}
	}
	_ = s.RecordJobQueued(JobRecord{ID: "job-1", JobType: "batch", Status: "queued"})

	results, err := s.ImageResults("job-1")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 2 || results[0].InputPath != "a.jpg" || results[1].Error != "screen not found" {
		t.Fatalf("unexpected results %+v", results)
	}
	if !results[0].Success || !results[0].ScreenDetected || results[0].Width != 2000 {
		t.Fatalf("expected flags and size restored, got %+v", results[0])
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Images != 3 || st.Successful != 2 || st.ScreensFound != 1 || st.AverageMS != 200 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.Jobs["queued"] != 1 {
		t.Fatalf("expected job counts by status, got %v", st.Jobs)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New("postgres", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordJobStart("x"); err != nil {
		t.Fatalf("expected nil store writes to be ignored, got %v", err)
	}
	if _, err := s.RecentJobs(1); err == nil {
		t.Fatalf("expected error reading from nil store")
	}
}
