package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/strrl/viralscope/internal/config"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/metrics"
	"github.com/strrl/viralscope/internal/signals"
	"github.com/strrl/viralscope/internal/store"
)

// JobName keys the run lock and labels metrics.
const JobName = "calibration"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// RunResult is the terminal state of one calibration run. Skipped runs and
// failed refits are results, not errors.
type RunResult struct {
	RunID         string                   `json:"run_id"`
	Status        Status                   `json:"status"`
	ECE           float64                  `json:"ece"`
	DriftDetected bool                     `json:"drift_detected"`
	TotalSamples  uint32                   `json:"total_samples"`
	PlattRefitted bool                     `json:"platt_refitted"`
	PlattParams   *signals.PlattParameters `json:"platt_params"`
	FitStatus     FitStatus                `json:"fit_status,omitempty"`
	SkipReason    string                   `json:"skip_reason,omitempty"`
	GeneratedAt   time.Time                `json:"generated_at"`

	Report Report `json:"-"`
}

// Publisher receives every finished result. Publishing is best-effort.
type Publisher interface {
	Publish(ctx context.Context, result RunResult) error
}

// ParameterRecorder persists a successful fit.
type ParameterRecorder interface {
	RecordPlattParameters(ctx context.Context, p signals.PlattParameters) error
}

type JobConfig struct {
	Lookback       time.Duration
	Bins           int
	MinSamples     int
	DriftThreshold float64
	Fitter         FitterConfig
}

func DefaultJobConfig() JobConfig {
	return JobConfig{
		Lookback:       90 * 24 * time.Hour,
		Bins:           10,
		MinSamples:     50,
		DriftThreshold: 0.15,
		Fitter:         DefaultFitterConfig(),
	}
}

// JobConfigFrom maps the calibration section of the service configuration.
// The fitter shares the report's sample gate.
func JobConfigFrom(c config.CalibrationConfig) JobConfig {
	return JobConfig{
		Lookback:       c.Lookback,
		Bins:           c.Bins,
		MinSamples:     c.MinSamples,
		DriftThreshold: c.DriftThreshold,
		Fitter: FitterConfig{
			MinSamples:       c.MinSamples,
			SuccessThreshold: c.SuccessThreshold,
			MaxIterations:    c.MaxIterations,
		},
	}
}

type Job struct {
	config    JobConfig
	outcomes  store.OutcomeSource
	recorder  ParameterRecorder
	cache     *ParameterCache
	locker    store.Locker
	publisher Publisher
	fitter    *Fitter
}

// NewJob wires a calibration job. locker and publisher may be nil.
func NewJob(cfg JobConfig, outcomes store.OutcomeSource, recorder ParameterRecorder, cache *ParameterCache, locker store.Locker, publisher Publisher) *Job {
	return &Job{
		config:    cfg,
		outcomes:  outcomes,
		recorder:  recorder,
		cache:     cache,
		locker:    locker,
		publisher: publisher,
		fitter:    NewFitter(cfg.Fitter),
	}
}

// Run generates the report for the lookback window ending at now, flags
// drift, and attempts a refit whenever the sample gate passes. It returns an
// error only when the run could not happen: the lock is held, the outcome
// store cannot be read, or a successful fit cannot be persisted.
func (j *Job) Run(ctx context.Context, now time.Time) (RunResult, error) {
	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.Ctx(ctx).With().Str("job", JobName).Logger()
	started := time.Now()

	if j.locker != nil {
		release, err := j.locker.TryLock(ctx, JobName)
		if err != nil {
			metrics.RecordJobRun(JobName, "locked", time.Since(started))
			return RunResult{}, err
		}
		defer release()
	}

	pairs, err := j.outcomes.FetchOutcomePairs(ctx, now.Add(-j.config.Lookback), now)
	if err != nil {
		metrics.RecordJobRun(JobName, "failed", time.Since(started))
		log.Error().Err(err).Msg("calibration run aborted")
		return RunResult{}, fmt.Errorf("failed to fetch outcome pairs: %w", err)
	}

	report := GenerateReport(pairs, j.config.Bins, now)
	result := RunResult{
		RunID:        runID,
		ECE:          report.ECE,
		TotalSamples: report.TotalSamples,
		GeneratedAt:  now,
		Report:       report,
	}

	if !report.Sufficient(j.config.MinSamples) {
		result.Status = StatusSkipped
		result.SkipReason = fmt.Sprintf("insufficient samples: %d < %d", report.TotalSamples, j.config.MinSamples)
		log.Info().
			Uint32("samples", report.TotalSamples).
			Int("min_samples", j.config.MinSamples).
			Msg("calibration skipped")
		return j.finish(ctx, result, started), nil
	}

	result.DriftDetected = report.ECE > j.config.DriftThreshold
	metrics.RecordCalibration(report.ECE, report.TotalSamples, result.DriftDetected)

	if result.DriftDetected {
		log.Warn().
			Float64("ece", report.ECE).
			Float64("threshold", j.config.DriftThreshold).
			Uint32("samples", report.TotalSamples).
			Msg("calibration drift detected")
	} else {
		log.Info().
			Float64("ece", report.ECE).
			Uint32("samples", report.TotalSamples).
			Msg("calibration within threshold")
	}

	params, status := j.fitter.Fit(pairs, now)
	result.FitStatus = status
	result.Status = StatusCompleted

	if params == nil {
		metrics.RecordRefit(string(status), 0, 0, false)
		log.Info().Str("fit_status", string(status)).Msg("platt refit skipped")
		return j.finish(ctx, result, started), nil
	}

	if err := j.recorder.RecordPlattParameters(ctx, *params); err != nil {
		metrics.RecordJobRun(JobName, "failed", time.Since(started))
		log.Error().Err(err).Msg("failed to persist platt parameters")
		return result, fmt.Errorf("failed to record platt parameters: %w", err)
	}
	j.cache.Invalidate()

	metrics.RecordRefit(string(status), params.A, params.B, true)
	result.PlattRefitted = true
	result.PlattParams = params
	log.Info().
		Float64("a", params.A).
		Float64("b", params.B).
		Uint32("samples", params.SampleCount).
		Msg("platt parameters refitted")

	return j.finish(ctx, result, started), nil
}

func (j *Job) finish(ctx context.Context, result RunResult, started time.Time) RunResult {
	metrics.RecordJobRun(JobName, string(result.Status), time.Since(started))

	if j.publisher != nil {
		err := j.publisher.Publish(ctx, result)
		metrics.RecordAlert(err)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to publish calibration result")
		}
	}

	return result
}
