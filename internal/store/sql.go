package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/strrl/viralscope/internal/signals"
)

// sqlStore holds the queries DuckDB and Postgres share. Both accept $n
// placeholders and ON CONFLICT ... DO UPDATE; only the schema and the run
// lock differ.
type sqlStore struct {
	db        *sql.DB
	schema    []string
	batchSize int
	timeout   time.Duration
}

const upsertTrendSQL = `
	INSERT INTO trend_records (
		topic, representative_url, video_count, total_views, growth_rate,
		velocity_score, phase, first_seen, last_seen, computed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (topic) DO UPDATE SET
		representative_url = EXCLUDED.representative_url,
		video_count = EXCLUDED.video_count,
		total_views = EXCLUDED.total_views,
		growth_rate = EXCLUDED.growth_rate,
		velocity_score = EXCLUDED.velocity_score,
		phase = EXCLUDED.phase,
		first_seen = EXCLUDED.first_seen,
		last_seen = EXCLUDED.last_seen,
		computed_at = EXCLUDED.computed_at
`

func (s *sqlStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *sqlStore) Migrate(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) FetchRecentEngagement(ctx context.Context, start, end time.Time) ([]signals.EngagementRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, COALESCE(representative_url, ''), views, likes, shares, comments, observed_at
		FROM engagement_records
		WHERE archived = FALSE
		  AND topic IS NOT NULL
		  AND topic <> ''
		  AND observed_at >= $1
		  AND observed_at < $2
		ORDER BY observed_at ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query engagement records: %w", err)
	}
	defer rows.Close()

	var records []signals.EngagementRecord
	for rows.Next() {
		var r signals.EngagementRecord
		if err := rows.Scan(&r.Topic, &r.RepresentativeURL, &r.Views, &r.Likes, &r.Shares, &r.Comments, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan engagement record: %w", err)
		}
		r.ObservedAt = r.ObservedAt.UTC()
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

func (s *sqlStore) UpsertTrendRecords(ctx context.Context, records []signals.TrendRecord) (UpsertResult, error) {
	return upsertBatches(ctx, records, s.batchSize, s.upsertBatch)
}

// upsertBatch commits one batch in a single transaction, so it either lands
// whole or not at all.
func (s *sqlStore) upsertBatch(ctx context.Context, batch []signals.TrendRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, upsertTrendSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		views, err := counter("total_views", r.TotalViews)
		if err != nil {
			return fmt.Errorf("failed to upsert topic %q: %w", r.Topic, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Topic,
			nullString(r.RepresentativeURL),
			int64(r.VideoCount),
			views,
			r.GrowthRate,
			r.VelocityScore,
			string(r.Phase),
			r.FirstSeen.UTC(),
			r.LastSeen.UTC(),
			r.ComputedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert topic %q: %w", r.Topic, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ListTrends returns stored trend records by velocity. An empty phase
// matches every phase; limit <= 0 means no limit.
func (s *sqlStore) ListTrends(ctx context.Context, phase signals.Phase, limit int) ([]signals.TrendRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT topic, representative_url, video_count, total_views, growth_rate,
		       velocity_score, phase, first_seen, last_seen, computed_at
		FROM trend_records
		WHERE ($1::TEXT = '' OR phase = $1::TEXT)
		ORDER BY velocity_score DESC, topic ASC
	`
	args := []any{string(phase)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend records: %w", err)
	}
	defer rows.Close()

	var records []signals.TrendRecord
	for rows.Next() {
		var (
			r   signals.TrendRecord
			url sql.NullString
			ph  string
		)
		if err := rows.Scan(&r.Topic, &url, &r.VideoCount, &r.TotalViews, &r.GrowthRate,
			&r.VelocityScore, &ph, &r.FirstSeen, &r.LastSeen, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trend record: %w", err)
		}
		r.RepresentativeURL = url.String
		r.Phase = signals.Phase(ph)
		r.FirstSeen, r.LastSeen, r.ComputedAt = r.FirstSeen.UTC(), r.LastSeen.UTC(), r.ComputedAt.UTC()
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

func (s *sqlStore) FetchOutcomePairs(ctx context.Context, start, end time.Time) ([]signals.OutcomePair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT predicted_score, actual_value, reported_at
		FROM outcome_pairs
		WHERE reported_at >= $1 AND reported_at < $2
		ORDER BY reported_at ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome pairs: %w", err)
	}
	defer rows.Close()

	var pairs []signals.OutcomePair
	for rows.Next() {
		var p signals.OutcomePair
		if err := rows.Scan(&p.PredictedScore, &p.ActualValue, &p.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome pair: %w", err)
		}
		p.ReportedAt = p.ReportedAt.UTC()
		pairs = append(pairs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pairs, nil
}

func (s *sqlStore) RecordPlattParameters(ctx context.Context, p signals.PlattParameters) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platt_parameters (a, b, sample_count, fitted_at)
		VALUES ($1, $2, $3, $4)
	`, p.A, p.B, int64(p.SampleCount), p.FittedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record platt parameters: %w", err)
	}
	return nil
}

// LatestPlattParameters returns the newest fit, or nil if none exists.
func (s *sqlStore) LatestPlattParameters(ctx context.Context) (*signals.PlattParameters, error) {
	history, err := s.PlattParameterHistory(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

func (s *sqlStore) PlattParameterHistory(ctx context.Context, limit int) ([]signals.PlattParameters, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a, b, sample_count, fitted_at
		FROM platt_parameters
		ORDER BY fitted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query platt parameters: %w", err)
	}
	defer rows.Close()

	var history []signals.PlattParameters
	for rows.Next() {
		var p signals.PlattParameters
		if err := rows.Scan(&p.A, &p.B, &p.SampleCount, &p.FittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan platt parameters: %w", err)
		}
		p.FittedAt = p.FittedAt.UTC()
		history = append(history, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return history, nil
}

func (s *sqlStore) AppendEngagement(ctx context.Context, records []signals.EngagementRecord) (int, error) {
	return s.appendRows(ctx, `
		INSERT INTO engagement_records (
			topic, representative_url, views, likes, shares, comments, observed_at, archived
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, len(records), func(i int) ([]any, error) {
		r := records[i]
		row := []any{nullString(r.Topic), nullString(r.RepresentativeURL)}
		for _, c := range []struct {
			name  string
			value uint64
		}{{"views", r.Views}, {"likes", r.Likes}, {"shares", r.Shares}, {"comments", r.Comments}} {
			v, err := counter(c.name, c.value)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		return append(row, r.ObservedAt.UTC(), r.Archived), nil
	})
}

func (s *sqlStore) AppendOutcomes(ctx context.Context, pairs []signals.OutcomePair) (int, error) {
	return s.appendRows(ctx, `
		INSERT INTO outcome_pairs (predicted_score, actual_value, reported_at)
		VALUES ($1, $2, $3)
	`, len(pairs), func(i int) ([]any, error) {
		p := pairs[i]
		return []any{p.PredictedScore, p.ActualValue, p.ReportedAt.UTC()}, nil
	})
}

// appendRows inserts n rows in one transaction. A row whose args cannot be
// built aborts the whole insert.
func (s *sqlStore) appendRows(ctx context.Context, query string, n int, args func(i int) ([]any, error)) (int, error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		row, err := args(i)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert: %w", err)
	}
	return n, nil
}

// counter converts an unsigned count for a BIGINT column.
func counter(name string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s = %d", ErrCounterOverflow, name, v)
	}
	return int64(v), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
