package calibration

import (
	"context"
	"fmt"

	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/numeric"
	"github.com/strrl/viralscope/internal/signals"
)

// ParameterSource reads the last persisted fit.
type ParameterSource interface {
	LatestPlattParameters(ctx context.Context) (*signals.PlattParameters, error)
}

type Correction struct {
	Raw        float64                  `json:"raw"`
	Corrected  float64                  `json:"corrected"`
	Calibrated bool                     `json:"calibrated"`
	Params     *signals.PlattParameters `json:"params,omitempty"`
}

// Corrector applies the cached Platt parameters to raw scores, refilling the
// cache from the store after an invalidation.
type Corrector struct {
	cache  *ParameterCache
	source ParameterSource
}

func NewCorrector(cache *ParameterCache, source ParameterSource) *Corrector {
	return &Corrector{cache: cache, source: source}
}

// Correct maps a 0-100 raw score to a 0-100 calibrated score. Without
// parameters, or when the store cannot be read, the raw score is returned
// unchanged; only an invalid raw score is an error.
func (c *Corrector) Correct(ctx context.Context, raw float64) (Correction, error) {
	if !numeric.Finite(raw) || raw < 0 || raw > ScoreRange {
		return Correction{}, fmt.Errorf("score %v outside [0, %v]", raw, ScoreRange)
	}

	params := c.parameters(ctx)
	if params == nil {
		return Correction{Raw: raw, Corrected: raw}, nil
	}

	corrected := numeric.Round(Apply(*params, raw)*ScoreRange, 2)
	return Correction{
		Raw:        raw,
		Corrected:  corrected,
		Calibrated: true,
		Params:     params,
	}, nil
}

func (c *Corrector) parameters(ctx context.Context) *signals.PlattParameters {
	gen := c.cache.Generation()
	if p := c.cache.Get(); p != nil {
		return p
	}
	if c.source == nil {
		return nil
	}

	p, err := c.source.LatestPlattParameters(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to load platt parameters, using raw scores")
		return nil
	}
	if p == nil {
		return nil
	}

	// A refit may have invalidated the cache while we were reading; the
	// value is still fine for this call but must not outlive that refit.
	c.cache.StoreIfUnchanged(gen, *p)
	return p
}
