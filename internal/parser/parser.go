package parser

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/strrl/viralscope/internal/db"
	"github.com/strrl/viralscope/internal/signals"
)

// Parser reads newline-delimited JSON dumps through DuckDB's read_json, so
// globs and large files need no Go-side decoding.
type Parser struct {
	db *sql.DB
}

func NewParser() (*Parser, error) {
	database, err := db.Scratch()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	return &Parser{db: database}, nil
}

// ReadEngagement loads engagement rows from path. Lines without observed_at
// are dropped; negative counters are clamped to zero. since filters out
// older rows when non-zero.
func (p *Parser) ReadEngagement(ctx context.Context, path string, since time.Time) ([]signals.EngagementRecord, error) {
	query := fmt.Sprintf(`
		SELECT
			COALESCE(topic, '') AS topic,
			COALESCE(representative_url, '') AS representative_url,
			GREATEST(COALESCE(views, 0), 0) AS views,
			GREATEST(COALESCE(likes, 0), 0) AS likes,
			GREATEST(COALESCE(shares, 0), 0) AS shares,
			GREATEST(COALESCE(comments, 0), 0) AS comments,
			observed_at,
			COALESCE(archived, FALSE) AS archived
		FROM %s
		WHERE observed_at IS NOT NULL
		  AND observed_at >= $1
		ORDER BY observed_at ASC
	`, source(KindEngagement, path))

	rows, err := p.db.QueryContext(ctx, query, sinceOrEpoch(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query engagement dump: %w", err)
	}
	defer rows.Close()

	var records []signals.EngagementRecord
	for rows.Next() {
		var r signals.EngagementRecord
		if err := rows.Scan(&r.Topic, &r.RepresentativeURL, &r.Views, &r.Likes, &r.Shares, &r.Comments, &r.ObservedAt, &r.Archived); err != nil {
			return nil, fmt.Errorf("failed to scan engagement row: %w", err)
		}
		r.ObservedAt = r.ObservedAt.UTC()
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// ReadOutcomes loads outcome pairs from path. Lines missing either score or
// the report time are dropped.
func (p *Parser) ReadOutcomes(ctx context.Context, path string, since time.Time) ([]signals.OutcomePair, error) {
	query := fmt.Sprintf(`
		SELECT predicted_score, actual_value, reported_at
		FROM %s
		WHERE predicted_score IS NOT NULL
		  AND actual_value IS NOT NULL
		  AND reported_at IS NOT NULL
		  AND reported_at >= $1
		ORDER BY reported_at ASC
	`, source(KindOutcomes, path))

	rows, err := p.db.QueryContext(ctx, query, sinceOrEpoch(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome dump: %w", err)
	}
	defer rows.Close()

	var pairs []signals.OutcomePair
	for rows.Next() {
		var op signals.OutcomePair
		if err := rows.Scan(&op.PredictedScore, &op.ActualValue, &op.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		op.ReportedAt = op.ReportedAt.UTC()
		pairs = append(pairs, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pairs, nil
}

// Stats counts the rows of a dump and its time span.
func (p *Parser) Stats(ctx context.Context, kind Kind, path string) (FileStats, error) {
	if err := kind.valid(); err != nil {
		return FileStats{}, err
	}

	col := timeColumn[kind]
	query := fmt.Sprintf(`
		SELECT COUNT(*), MIN(%s), MAX(%s)
		FROM %s
	`, col, col, source(kind, path))

	var (
		stats       FileStats
		first, last sql.NullTime
	)
	if err := p.db.QueryRowContext(ctx, query).Scan(&stats.Rows, &first, &last); err != nil {
		return FileStats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	if first.Valid {
		stats.First = first.Time.UTC()
	}
	if last.Valid {
		stats.Last = last.Time.UTC()
	}

	return stats, nil
}

func sinceOrEpoch(since time.Time) time.Time {
	if since.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return since.UTC()
}
