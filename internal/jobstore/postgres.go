package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	request_id         TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	owner_session_id   TEXT NOT NULL DEFAULT '',
	owner_user_id      TEXT NOT NULL DEFAULT '',
	trace_id           TEXT NOT NULL DEFAULT '',
	query              TEXT NOT NULL DEFAULT '',
	assistant_language TEXT NOT NULL DEFAULT '',
	intent_language    TEXT NOT NULL DEFAULT '',
	detected_language  TEXT NOT NULL DEFAULT '',
	ui_language        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS search_results (
	request_id   TEXT PRIMARY KEY REFERENCES search_jobs(request_id) ON DELETE CASCADE,
	payload      JSONB NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);`

// NewPostgresStore opens the database, verifies the connection and creates the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DBStats returns connection pool statistics.
func (s *PostgresStore) DBStats() sql.DBStats {
	return s.db.Stats()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetJob(ctx context.Context, requestID string) (*types.Job, error) {
	query := `
		SELECT request_id, status, owner_session_id, owner_user_id, trace_id, query,
			assistant_language, intent_language, detected_language, ui_language,
			created_at, updated_at
		FROM search_jobs WHERE request_id = $1`

	var job types.Job
	var status string
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&job.RequestID, &status, &job.OwnerSessionID, &job.OwnerUserID, &job.TraceID, &job.Query,
		&job.AssistantLanguage, &job.IntentLanguage, &job.DetectedLanguage, &job.UILanguage,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	job.Status = types.JobStatus(status)
	return &job, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, requestID string) (*types.StatusSnapshot, error) {
	var snap types.StatusSnapshot
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, updated_at FROM search_jobs WHERE request_id = $1`, requestID,
	).Scan(&status, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	snap.Status = types.JobStatus(status)
	return &snap, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, requestID string) (*types.SearchResult, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM search_results WHERE request_id = $1`, requestID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var result types.SearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", requestID, err)
	}
	return &result, nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *types.Job) error {
	now := s.now()
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO search_jobs (request_id, status, owner_session_id, owner_user_id, trace_id, query,
			assistant_language, intent_language, detected_language, ui_language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			owner_session_id = EXCLUDED.owner_session_id,
			owner_user_id = EXCLUDED.owner_user_id,
			trace_id = EXCLUDED.trace_id,
			query = EXCLUDED.query,
			assistant_language = EXCLUDED.assistant_language,
			intent_language = EXCLUDED.intent_language,
			detected_language = EXCLUDED.detected_language,
			ui_language = EXCLUDED.ui_language,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		job.RequestID, string(job.Status), job.OwnerSessionID, job.OwnerUserID, job.TraceID, job.Query,
		job.AssistantLanguage, job.IntentLanguage, job.DetectedLanguage, job.UILanguage,
		createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, requestID string, status types.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE search_jobs SET status = $2, updated_at = $3 WHERE request_id = $1`,
		requestID, string(status), s.now(),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result *types.SearchResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	completedAt := result.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_results (request_id, payload, completed_at) VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO UPDATE SET payload = EXCLUDED.payload, completed_at = EXCLUDED.completed_at`,
		result.RequestID, payload, completedAt,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}
