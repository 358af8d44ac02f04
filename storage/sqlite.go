package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fetchrelay/types"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT,
	thumbnail TEXT,
	kind TEXT NOT NULL,
	quality TEXT,
	duration REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	file_path TEXT,
	file_size INTEGER,
	uploaded_to_remote INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id TEXT PRIMARY KEY,
	auto_upload INTEGER NOT NULL DEFAULT 0,
	remote_endpoint TEXT,
	proxy TEXT,
	cookies TEXT
);
`

const jobColumns = `id, user_id, url, title, thumbnail, kind, quality, duration, status, progress,
	error_message, file_path, file_size, uploaded_to_remote, created_at, updated_at`

// SQLiteStore persists jobs and settings in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer avoids SQLITE_BUSY and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *types.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.URL, nullString(job.Title), nullString(job.Thumbnail),
		string(job.Kind), nullString(job.Quality), job.Duration, string(job.Status), job.Progress,
		nullString(job.ErrorMessage), nullString(job.FilePath), nullInt(job.FileSize),
		boolToInt(job.UploadedToRemote), toMillis(job.CreatedAt), toMillis(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *types.Job) error {
	query := `
	UPDATE jobs SET title = ?, thumbnail = ?, duration = ?, status = ?, progress = ?, error_message = ?,
		file_path = ?, file_size = ?, uploaded_to_remote = ?, updated_at = ?
	WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		nullString(job.Title), nullString(job.Thumbnail), job.Duration, string(job.Status), job.Progress,
		nullString(job.ErrorMessage), nullString(job.FilePath), nullInt(job.FileSize),
		boolToInt(job.UploadedToRemote), toMillis(job.UpdatedAt), job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return expectOneRow(res)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectOneRow(res)
}

// ListJobs returns a user's jobs, newest first
func (s *SQLiteStore) ListJobs(ctx context.Context, userID string) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListUploadedArtifacts returns a user's uploaded jobs that still have a
// local file, oldest first
func (s *SQLiteStore) ListUploadedArtifacts(ctx context.Context, userID string) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE user_id = ? AND uploaded_to_remote = 1 AND file_path IS NOT NULL AND file_path != ''
		ORDER BY created_at ASC`, userID)
}

// ListJobsByStatus returns jobs in any of the given states, oldest first
func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, statuses ...types.JobStatus) ([]*types.Job, error) {
	if len(statuses) == 0 {
		return []*types.Job{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
}

func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, auto_upload, remote_endpoint, proxy, cookies FROM user_settings WHERE user_id = ?`, userID)

	var (
		settings            types.UserSettings
		autoUpload          int
		endpoint, proxy, ck sql.NullString
	)
	err := row.Scan(&settings.UserID, &autoUpload, &endpoint, &proxy, &ck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings.AutoUpload = autoUpload != 0
	settings.RemoteEndpoint = endpoint.String
	settings.Cookies = ck.String
	if proxy.Valid && proxy.String != "" {
		var p types.ProxyConfig
		if err := json.Unmarshal([]byte(proxy.String), &p); err != nil {
			return nil, fmt.Errorf("failed to decode proxy settings: %w", err)
		}
		settings.Proxy = &p
	}
	return &settings, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *types.UserSettings) error {
	var proxy sql.NullString
	if settings.Proxy != nil {
		data, err := json.Marshal(settings.Proxy)
		if err != nil {
			return fmt.Errorf("failed to encode proxy settings: %w", err)
		}
		proxy = sql.NullString{String: string(data), Valid: true}
	}

	query := `
	INSERT INTO user_settings (user_id, auto_upload, remote_endpoint, proxy, cookies)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		auto_upload = excluded.auto_upload,
		remote_endpoint = excluded.remote_endpoint,
		proxy = excluded.proxy,
		cookies = excluded.cookies`

	_, err := s.db.ExecContext(ctx, query, settings.UserID, boolToInt(settings.AutoUpload),
		nullString(settings.RemoteEndpoint), proxy, nullString(settings.Cookies))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*types.Job, error) {
	var (
		job                                  types.Job
		kind, status                         string
		title, thumbnail, quality, errMsg, fp sql.NullString
		size                                 sql.NullInt64
		uploaded                             int
		createdAt, updatedAt                 int64
	)

	err := row.Scan(&job.ID, &job.UserID, &job.URL, &title, &thumbnail, &kind, &quality, &job.Duration,
		&status, &job.Progress, &errMsg, &fp, &size, &uploaded, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.Title = title.String
	job.Thumbnail = thumbnail.String
	job.Kind = types.OutputKind(kind)
	job.Quality = quality.String
	job.Status = types.JobStatus(status)
	job.ErrorMessage = errMsg.String
	job.FilePath = fp.String
	job.FileSize = size.Int64
	job.UploadedToRemote = uploaded != 0
	job.CreatedAt = time.UnixMilli(createdAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)
	return &job, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}
