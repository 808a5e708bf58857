package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Drivers accepted by New: "sqlite" is the pure Go modernc driver, "sqlite3"
// the cgo mattn driver.
const (
	DriverSQLite  = "sqlite"
	DriverSQLite3 = "sqlite3"
)

// Store wraps SQLite-backed persistence for jobs and per-image results.
type Store struct {
	DB     *sql.DB // Export for direct database access
	driver string
}

// New opens (or creates) the database at path and ensures schema. An empty
// driver selects DriverSQLite.
func New(driver, path string) (*Store, error) {
	switch driver {
	case "":
		driver = DriverSQLite
	case DriverSQLite, DriverSQLite3:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db, driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Driver reports the database/sql driver in use.
func (s *Store) Driver() string { return s.driver }

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS image_results (
            id TEXT PRIMARY KEY,
            job_id TEXT,
            input_path TEXT NOT NULL,
            output_path TEXT,
            success BOOLEAN NOT NULL,
            error_message TEXT,
            screen_detected BOOLEAN NOT NULL,
            confidence REAL,
            width INTEGER,
            height INTEGER,
            duration_ms INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_image_results_job_id ON image_results(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input_path"`
	OutputPath  string     `json:"output_path"`
	OptionsJSON string     `json:"options_json"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ImageResult is the stored outcome of one image within a job.
type ImageResult struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	InputPath      string    `json:"input_path"`
	OutputPath     string    `json:"output_path,omitempty"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	ScreenDetected bool      `json:"screen_detected"`
	Confidence     float64   `json:"confidence"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats summarizes stored activity.
type Stats struct {
	Jobs         map[string]int `json:"jobs"` // by status
	Images       int            `json:"images"`
	Successful   int            `json:"successful"`
	ScreensFound int            `json:"screens_detected"`
	AverageMS    float64        `json:"average_ms"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var created time.Time
	var input, output, options sql.NullString
	var started, completed sql.NullTime
	var errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &options, &created, &started, &completed, &errorMsg); err != nil {
		return JobRecord{}, err
	}
	rec.InputPath, rec.OutputPath, rec.OptionsJSON = input.String, output.String, options.String
	rec.CreatedAt = created
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return rec, nil
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches one job. A missing job returns sql.ErrNoRows.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	return scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`, id))
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordImageResult stores one image outcome and returns its generated id.
func (s *Store) RecordImageResult(rec ImageResult) (string, error) {
	if s == nil {
		return "", nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.DB.Exec(`INSERT INTO image_results (id, job_id, input_path, output_path, success, error_message, screen_detected, confidence, width, height, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobID, rec.InputPath, rec.OutputPath, rec.Success, rec.Error, rec.ScreenDetected, rec.Confidence, rec.Width, rec.Height, rec.DurationMS)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ImageResults lists the image outcomes of a job in insertion order.
func (s *Store) ImageResults(jobID string) ([]ImageResult, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_id, input_path, output_path, success, error_message, screen_detected, confidence, width, height, duration_ms, created_at
        FROM image_results WHERE job_id=? ORDER BY rowid;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageResult
	for rows.Next() {
		var r ImageResult
		var output, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.JobID, &r.InputPath, &output, &r.Success, &errMsg, &r.ScreenDetected, &r.Confidence, &r.Width, &r.Height, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.OutputPath, r.Error = output.String, errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates job statuses and image outcomes.
func (s *Store) Stats() (Stats, error) {
	if s == nil {
		return Stats{}, errors.New("store not initialized")
	}
	st := Stats{Jobs: map[string]int{}}
	rows, err := s.DB.Query(`SELECT status, COUNT(*) FROM processing_jobs GROUP BY status;`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, err
		}
		st.Jobs[status] = n
	}
	rows.Close()

	var avg sql.NullFloat64
	err = s.DB.QueryRow(`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(screen_detected), 0), AVG(duration_ms) FROM image_results;`).
		Scan(&st.Images, &st.Successful, &st.ScreensFound, &avg)
	if err != nil {
		return Stats{}, err
	}
	st.AverageMS = avg.Float64
	return st, nil
}
