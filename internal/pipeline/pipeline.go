package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/strrl/viralscope/internal/aggregator"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/metrics"
	"github.com/strrl/viralscope/internal/signals"
	"github.com/strrl/viralscope/internal/store"
)

// TrendJobName keys the run lock and labels metrics.
const TrendJobName = "trends"

const (
	StatusCompleted = "completed"
	// StatusPartial means at least one upsert batch failed.
	StatusPartial = "partial"
)

type Stats struct {
	RecordsRead   int                   `json:"records_read"`
	Topics        int                   `json:"topics"`
	Upserted      int                   `json:"upserted"`
	Failed        int                   `json:"failed"`
	FailedBatches []store.FailedBatch   `json:"failed_batches,omitempty"`
	Phases        map[signals.Phase]int `json:"phases"`
}

type RunResult struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Stats       Stats     `json:"stats"`

	Records []signals.TrendRecord `json:"-"`
}

// TrendJob reads the engagement window, aggregates it per topic and upserts
// the results.
type TrendJob struct {
	config aggregator.Config
	source store.EngagementSource
	sink   store.TrendSink
	locker store.Locker
}

// NewTrendJob wires a trend job. locker may be nil.
func NewTrendJob(cfg aggregator.Config, source store.EngagementSource, sink store.TrendSink, locker store.Locker) *TrendJob {
	return &TrendJob{
		config: cfg,
		source: source,
		sink:   sink,
		locker: locker,
	}
}

// Run aggregates the window ending at now. A read failure aborts the run;
// failed upsert batches are reported in the stats.
func (j *TrendJob) Run(ctx context.Context, now time.Time) (RunResult, error) {
	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.Ctx(ctx).With().Str("job", TrendJobName).Logger()
	started := time.Now()

	if j.locker != nil {
		release, err := j.locker.TryLock(ctx, TrendJobName)
		if err != nil {
			metrics.RecordJobRun(TrendJobName, "locked", time.Since(started))
			return RunResult{}, err
		}
		defer release()
	}

	agg := aggregator.NewAggregator(j.config, now)
	window := agg.Window()
	result := RunResult{
		RunID:       runID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Stats:       Stats{Phases: make(map[signals.Phase]int)},
	}

	records, err := j.source.FetchRecentEngagement(ctx, window.Start, window.End)
	if err != nil {
		metrics.RecordJobRun(TrendJobName, "failed", time.Since(started))
		log.Error().Err(err).Msg("trend run aborted")
		return RunResult{}, fmt.Errorf("failed to fetch engagement records: %w", err)
	}
	result.Stats.RecordsRead = len(records)
	metrics.TrendRecordsRead.Add(float64(len(records)))

	trends, err := agg.Aggregate(ctx, records)
	if err != nil {
		metrics.RecordJobRun(TrendJobName, "failed", time.Since(started))
		return RunResult{}, fmt.Errorf("aggregation failed: %w", err)
	}
	result.Stats.Topics = len(trends)
	result.Records = trends
	for _, t := range trends {
		result.Stats.Phases[t.Phase]++
	}

	upsert, err := j.sink.UpsertTrendRecords(ctx, trends)
	result.Stats.Upserted = upsert.Upserted
	result.Stats.Failed = upsert.Failed
	result.Stats.FailedBatches = upsert.FailedBatches
	metrics.RecordUpserts(upsert.Upserted, upsert.Failed)
	if err != nil {
		metrics.RecordJobRun(TrendJobName, "failed", time.Since(started))
		return result, fmt.Errorf("failed to upsert trend records: %w", err)
	}

	result.Status = StatusCompleted
	if upsert.Failed > 0 {
		result.Status = StatusPartial
	}

	phaseCounts := make(map[string]int, len(result.Stats.Phases))
	for p, n := range result.Stats.Phases {
		phaseCounts[string(p)] = n
	}
	metrics.SetPhaseCounts(phaseCounts)
	metrics.RecordJobRun(TrendJobName, result.Status, time.Since(started))

	log.Info().
		Int("records", result.Stats.RecordsRead).
		Int("topics", result.Stats.Topics).
		Int("upserted", result.Stats.Upserted).
		Int("failed", result.Stats.Failed).
		Msg("trend run finished")

	return result, nil
}
