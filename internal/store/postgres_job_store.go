package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
	_ "github.com/lib/pq"
)

const renderSchemaSQL = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	request JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	output_key TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const selectRenderJobSQL = `
SELECT id, status, request, webhook_url, output_key, error, created_at, updated_at
FROM render_jobs
WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, renderSchemaSQL); err != nil {
		return fmt.Errorf("ensure render_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.RenderJob) error {
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO render_jobs (id, status, request, webhook_url, output_key, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.Status,
		requestJSON,
		job.WebhookURL,
		job.OutputKey,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert render job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.RenderJob, bool, error) {
	job, err := scanRenderJob(s.db.QueryRowContext(ctx, selectRenderJobSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RenderJob{}, false, nil
	}
	if err != nil {
		return domain.RenderJob{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) (domain.RenderJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
		 SET status = $1, output_key = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		update.Status,
		update.OutputKey,
		update.Error,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("update render job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.RenderJob{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.RenderJob{}, err
	}
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRenderJob(row rowScanner) (domain.RenderJob, error) {
	var (
		job         domain.RenderJob
		requestJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&requestJSON,
		&job.WebhookURL,
		&job.OutputKey,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RenderJob{}, err
		}
		return domain.RenderJob{}, fmt.Errorf("query render job: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &job.Request); err != nil {
		return domain.RenderJob{}, fmt.Errorf("unmarshal render request: %w", err)
	}
	return job, nil
}
