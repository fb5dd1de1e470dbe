package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/strrl/viralscope/internal/db"
)

var duckdbSchema = []string{
	`CREATE TABLE IF NOT EXISTS engagement_records (
		topic VARCHAR,
		representative_url VARCHAR,
		views BIGINT NOT NULL DEFAULT 0,
		likes BIGINT NOT NULL DEFAULT 0,
		shares BIGINT NOT NULL DEFAULT 0,
		comments BIGINT NOT NULL DEFAULT 0,
		observed_at TIMESTAMP NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_observed_at ON engagement_records (observed_at)`,
	`CREATE TABLE IF NOT EXISTS trend_records (
		topic VARCHAR PRIMARY KEY,
		representative_url VARCHAR,
		video_count INTEGER NOT NULL,
		total_views BIGINT NOT NULL,
		growth_rate DOUBLE NOT NULL,
		velocity_score DOUBLE NOT NULL,
		phase VARCHAR NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		computed_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outcome_pairs (
		predicted_score DOUBLE NOT NULL,
		actual_value DOUBLE NOT NULL,
		reported_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outcome_reported_at ON outcome_pairs (reported_at)`,
	`CREATE TABLE IF NOT EXISTS platt_parameters (
		a DOUBLE NOT NULL,
		b DOUBLE NOT NULL,
		sample_count INTEGER NOT NULL,
		fitted_at TIMESTAMP NOT NULL
	)`,
}

// DuckDB is the embedded backend. Timestamps are stored as UTC TIMESTAMP.
// The database file belongs to one process, so run locks are in-process.
type DuckDB struct {
	sqlStore
	locks *localLocker
}

// OpenDuckDB opens (or creates) the database at path and applies the schema.
// An empty path opens an in-memory database.
func OpenDuckDB(ctx context.Context, path string, opts Options) (*DuckDB, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	s := &DuckDB{
		sqlStore: sqlStore{
			db:        conn,
			schema:    duckdbSchema,
			batchSize: opts.BatchSize,
			timeout:   opts.QueryTimeout,
		},
		locks: newLocalLocker(),
	}

	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *DuckDB) TryLock(ctx context.Context, job string) (func(), error) {
	return s.locks.TryLock(ctx, job)
}

// localLocker is a per-job mutex table.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) TryLock(_ context.Context, job string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[job]
	if !ok {
		m = &sync.Mutex{}
		l.locks[job] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, job)
	}

	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}
