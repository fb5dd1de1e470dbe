// Package store persists engagement rows, trend records, outcome pairs and
// Platt parameters. DuckDB is the embedded default; Postgres serves shared
// deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strrl/viralscope/internal/config"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/signals"
)

var (
	// ErrJobRunning is returned when another run holds the job lock.
	ErrJobRunning = errors.New("job already running")

	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrCounterOverflow rejects a view or interaction count that does not
	// fit the signed BIGINT columns.
	ErrCounterOverflow = errors.New("counter exceeds BIGINT range")
)

// EngagementSource yields non-archived, topic-tagged rows observed in
// [start, end).
type EngagementSource interface {
	FetchRecentEngagement(ctx context.Context, start, end time.Time) ([]signals.EngagementRecord, error)
}

// TrendSink upserts trend records keyed by topic.
type TrendSink interface {
	UpsertTrendRecords(ctx context.Context, records []signals.TrendRecord) (UpsertResult, error)
}

type OutcomeSource interface {
	FetchOutcomePairs(ctx context.Context, start, end time.Time) ([]signals.OutcomePair, error)
}

type ParameterStore interface {
	RecordPlattParameters(ctx context.Context, p signals.PlattParameters) error
	LatestPlattParameters(ctx context.Context) (*signals.PlattParameters, error)
	PlattParameterHistory(ctx context.Context, limit int) ([]signals.PlattParameters, error)
}

// Locker hands out run-level locks keyed by job name. TryLock returns
// ErrJobRunning when the lock is already held.
type Locker interface {
	TryLock(ctx context.Context, job string) (release func(), err error)
}

// Ingestor appends raw rows from scraper dumps.
type Ingestor interface {
	AppendEngagement(ctx context.Context, records []signals.EngagementRecord) (int, error)
	AppendOutcomes(ctx context.Context, pairs []signals.OutcomePair) (int, error)
}

type TrendReader interface {
	ListTrends(ctx context.Context, phase signals.Phase, limit int) ([]signals.TrendRecord, error)
}

// Store is everything the jobs, CLI and server need from a backend.
type Store interface {
	EngagementSource
	TrendSink
	TrendReader
	OutcomeSource
	ParameterStore
	Ingestor
	Locker
	Migrate(ctx context.Context) error
	Close() error
}

// FailedBatch identifies one batch that did not commit, with enough context
// to replay it by hand.
type FailedBatch struct {
	Offset int      `json:"offset"`
	Topics []string `json:"topics"`
	Err    string   `json:"error"`
}

type UpsertResult struct {
	Upserted      int           `json:"upserted"`
	Failed        int           `json:"failed"`
	FailedBatches []FailedBatch `json:"failed_batches,omitempty"`
}

// upsertBatches writes records in sequential batches. A failing batch is
// logged and counted; later batches still run. Only context cancellation
// stops the loop early, and the remaining records are counted as failed.
func upsertBatches(ctx context.Context, records []signals.TrendRecord, batchSize int, write func(ctx context.Context, batch []signals.TrendRecord) error) (UpsertResult, error) {
	var result UpsertResult
	if batchSize < 1 {
		batchSize = len(records)
	}

	for i := 0; i < len(records); i += batchSize {
		if err := ctx.Err(); err != nil {
			result.Failed += len(records) - i
			return result, fmt.Errorf("upsert interrupted at offset %d: %w", i, err)
		}

		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		if err := write(ctx, batch); err != nil {
			topics := batchTopics(batch)
			logging.Ctx(ctx).Error().
				Err(err).
				Int("offset", i).
				Int("size", len(batch)).
				Strs("topics", topics).
				Msg("trend upsert batch failed")

			result.Failed += len(batch)
			result.FailedBatches = append(result.FailedBatches, FailedBatch{
				Offset: i,
				Topics: topics,
				Err:    err.Error(),
			})
			continue
		}

		result.Upserted += len(batch)
	}

	return result, nil
}

func batchTopics(batch []signals.TrendRecord) []string {
	topics := make([]string, len(batch))
	for i, r := range batch {
		topics[i] = r.Topic
	}
	return topics
}

// Options tune a backend independent of its driver.
type Options struct {
	// BatchSize is the number of trend records per upsert transaction.
	BatchSize int
	// QueryTimeout bounds every store call.
	QueryTimeout time.Duration
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, batchSize int) (Store, error) {
	opts := Options{BatchSize: batchSize, QueryTimeout: cfg.QueryTimeout}

	switch cfg.Driver {
	case "duckdb", "":
		return OpenDuckDB(ctx, cfg.Path, opts)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}
