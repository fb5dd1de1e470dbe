package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/strrl/viralscope/internal/logging"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS engagement_records (
		id BIGSERIAL PRIMARY KEY,
		topic TEXT,
		representative_url TEXT,
		views BIGINT NOT NULL DEFAULT 0,
		likes BIGINT NOT NULL DEFAULT 0,
		shares BIGINT NOT NULL DEFAULT 0,
		comments BIGINT NOT NULL DEFAULT 0,
		observed_at TIMESTAMPTZ NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_observed_at
		ON engagement_records (observed_at) WHERE archived = FALSE AND topic IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS trend_records (
		topic TEXT PRIMARY KEY,
		representative_url TEXT,
		video_count INTEGER NOT NULL CHECK (video_count >= 1),
		total_views BIGINT NOT NULL,
		growth_rate DOUBLE PRECISION NOT NULL,
		velocity_score DOUBLE PRECISION NOT NULL CHECK (velocity_score >= 0),
		phase TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		computed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outcome_pairs (
		id BIGSERIAL PRIMARY KEY,
		predicted_score DOUBLE PRECISION NOT NULL,
		actual_value DOUBLE PRECISION NOT NULL,
		reported_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outcome_reported_at ON outcome_pairs (reported_at)`,
	`CREATE TABLE IF NOT EXISTS platt_parameters (
		id BIGSERIAL PRIMARY KEY,
		a DOUBLE PRECISION NOT NULL,
		b DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL,
		fitted_at TIMESTAMPTZ NOT NULL
	)`,
}

const releaseTimeout = 5 * time.Second

// Postgres is the shared backend. Run locks are session advisory locks, so
// they hold across every process pointed at the same database.
type Postgres struct {
	sqlStore
}

func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres: %w", err)
	}
	return newPostgres(ctx, conn, opts)
}

func newPostgres(ctx context.Context, conn *sql.DB, opts Options) (*Postgres, error) {
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	s := &Postgres{
		sqlStore: sqlStore{
			db:        conn,
			schema:    postgresSchema,
			batchSize: opts.BatchSize,
			timeout:   opts.QueryTimeout,
		},
	}

	pingCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// TryLock takes pg_try_advisory_lock on a dedicated connection. The lock is
// session scoped, so the connection is held until release.
func (s *Postgres) TryLock(ctx context.Context, job string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, job).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock for %s: %w", job, err)
	}
	if !acquired {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, job)
	}

	var once sync.Once
	release := func() {
		once.Do(func() { s.unlock(conn, job) })
	}

	return release, nil
}

func (s *Postgres) unlock(conn *sql.Conn, job string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, job); err != nil {
		logging.Warn().Err(err).Str("job", job).Msg("failed to release advisory lock")
	}
	conn.Close()
}
