package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"rectipano/internal/geom"
	"rectipano/internal/imageio"
	"rectipano/internal/rectify"
)

// Store wraps SQLite-backed persistence for jobs, sessions and frames.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path with the pure Go driver.
func New(path string) (*Store, error) {
	return Open("sqlite", path)
}

// Open uses driver "sqlite" (modernc) or "sqlite3" (mattn, cgo).
func Open(driver, path string) (*Store, error) {
	switch driver {
	case "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY from
	// concurrent frame workers.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

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
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            set_name TEXT NOT NULL,
            mode TEXT NOT NULL,
            points_json TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS transform_specs (
            session_id TEXT NOT NULL,
            tag TEXT NOT NULL,
            quad_json TEXT NOT NULL,
            matrix_json TEXT NOT NULL,
            width INTEGER NOT NULL,
            height INTEGER NOT NULL,
            PRIMARY KEY (session_id, tag)
        );`,
		`CREATE TABLE IF NOT EXISTS frame_results (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT NOT NULL,
            set_name TEXT,
            source_path TEXT NOT NULL,
            tag TEXT,
            output_path TEXT,
            status TEXT NOT NULL,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            file_path TEXT PRIMARY KEY,
            camera_make TEXT,
            camera_model TEXT,
            taken TEXT,
            gps_lat REAL,
            gps_lon REAL,
            width INTEGER,
            height INTEGER,
            size_bytes INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_set ON sessions(set_name);`,
		`CREATE INDEX IF NOT EXISTS idx_frame_results_job ON frame_results(job_id);`,
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
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input"`
	OutputPath  string     `json:"output"`
	OptionsJSON string     `json:"options,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FrameRecord is the outcome of one output of one source frame.
type FrameRecord struct {
	JobID      string
	SetName    string
	SourcePath string
	Tag        string
	OutputPath string
	Status     string // ok, skipped, failed
	Error      string
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobRecord, error) {
	var rec JobRecord
	var created time.Time
	var started, completed sql.NullTime
	var input, output, options, errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &options, &created, &started, &completed, &errorMsg); err != nil {
		return rec, err
	}
	rec.CreatedAt = created
	rec.InputPath, rec.OutputPath, rec.OptionsJSON, rec.Error = input.String, output.String, options.String, errorMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
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

// Job fetches one job. A missing id returns sql.ErrNoRows.
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

// RecordSession persists a prepared session and its specs.
func (s *Store) RecordSession(sess rectify.BatchSession) error {
	if s == nil {
		return nil
	}
	points, _ := json.Marshal(sess.Points)
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO sessions (id, set_name, mode, points_json, created_at) VALUES (?, ?, ?, ?, ?);`,
		sess.ID, sess.SetName, string(sess.Mode), string(points), sess.CreatedAt); err != nil {
		return err
	}
	for _, sp := range sess.Specs {
		quad, _ := json.Marshal(sp.SourceQuad)
		matrix, _ := json.Marshal(sp.Matrix)
		if _, err := tx.Exec(`INSERT OR REPLACE INTO transform_specs (session_id, tag, quad_json, matrix_json, width, height) VALUES (?, ?, ?, ?, ?, ?);`,
			sess.ID, sp.Tag, string(quad), string(matrix), sp.OutputSize.Width, sp.OutputSize.Height); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestSession returns the newest session stored for setName.
func (s *Store) LatestSession(setName string) (rectify.BatchSession, error) {
	if s == nil {
		return rectify.BatchSession{}, errors.New("store not initialized")
	}
	var sess rectify.BatchSession
	var mode, points string
	err := s.DB.QueryRow(`SELECT id, set_name, mode, points_json, created_at FROM sessions WHERE set_name=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, setName).
		Scan(&sess.ID, &sess.SetName, &mode, &points, &sess.CreatedAt)
	if err != nil {
		return sess, err
	}
	sess.Mode = rectify.Mode(mode)
	if err := json.Unmarshal([]byte(points), &sess.Points); err != nil {
		return sess, fmt.Errorf("unmarshal points: %w", err)
	}

	rows, err := s.DB.Query(`SELECT tag, quad_json, matrix_json, width, height FROM transform_specs WHERE session_id=? ORDER BY rowid;`, sess.ID)
	if err != nil {
		return sess, err
	}
	defer rows.Close()
	for rows.Next() {
		var sp rectify.TransformSpec
		var quad, matrix string
		if err := rows.Scan(&sp.Tag, &quad, &matrix, &sp.OutputSize.Width, &sp.OutputSize.Height); err != nil {
			return sess, err
		}
		if err := json.Unmarshal([]byte(quad), &sp.SourceQuad); err != nil {
			return sess, fmt.Errorf("unmarshal quad: %w", err)
		}
		var m geom.Homography
		if err := json.Unmarshal([]byte(matrix), &m); err != nil {
			return sess, fmt.Errorf("unmarshal matrix: %w", err)
		}
		sp.Matrix = m
		sess.Specs = append(sess.Specs, sp)
	}
	return sess, rows.Err()
}

// RecordFrame stores the outcome of one frame output.
func (s *Store) RecordFrame(rec FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO frame_results (job_id, set_name, source_path, tag, output_path, status, error_message) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.SetName, rec.SourcePath, rec.Tag, rec.OutputPath, rec.Status, rec.Error)
	return err
}

// FrameCounts tallies frame outcomes of a job by status.
func (s *Store) FrameCounts(jobID string) (map[string]int, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT status, COUNT(*) FROM frame_results WHERE job_id=? GROUP BY status;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecordImageMetadata stores EXIF/GPS details if available.
func (s *Store) RecordImageMetadata(meta imageio.Metadata) error {
	if s == nil {
		return nil
	}
	var taken string
	if !meta.Taken.IsZero() {
		taken = meta.Taken.Format(time.RFC3339)
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (file_path, camera_make, camera_model, taken, gps_lat, gps_lon, width, height, size_bytes)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		meta.Path, meta.CameraMake, meta.CameraModel, taken, meta.GPSLat, meta.GPSLon, meta.Width, meta.Height, meta.SizeBytes)
	return err
}

// ImageMetadata loads what RecordImageMetadata stored for path.
func (s *Store) ImageMetadata(path string) (imageio.Metadata, error) {
	if s == nil {
		return imageio.Metadata{}, errors.New("store not initialized")
	}
	meta := imageio.Metadata{Path: path}
	var taken sql.NullString
	err := s.DB.QueryRow(`SELECT camera_make, camera_model, taken, gps_lat, gps_lon, width, height, size_bytes FROM image_metadata WHERE file_path=?;`, path).
		Scan(&meta.CameraMake, &meta.CameraModel, &taken, &meta.GPSLat, &meta.GPSLon, &meta.Width, &meta.Height, &meta.SizeBytes)
	if err != nil {
		return meta, err
	}
	if taken.Valid && taken.String != "" {
		meta.Taken, _ = time.Parse(time.RFC3339, taken.String)
	}
	return meta, nil
}
