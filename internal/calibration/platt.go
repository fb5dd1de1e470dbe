package calibration

import (
	"math"
	"time"

	"github.com/strrl/viralscope/internal/numeric"
	"github.com/strrl/viralscope/internal/signals"
)

// FitStatus explains why a fit did or did not produce parameters.
type FitStatus string

const (
	FitOK                  FitStatus = "fitted"
	FitInsufficientSamples FitStatus = "insufficient_samples"
	FitSingleClass         FitStatus = "single_class"
	FitNotConverged        FitStatus = "not_converged"
	FitLineSearchFailed    FitStatus = "line_search_failed"
)

const (
	fitEpsilon   = 1e-5
	fitMinStep   = 1e-10
	fitSigma     = 1e-12
	armijoFactor = 1e-4
)

type FitterConfig struct {
	MinSamples       int
	SuccessThreshold float64
	MaxIterations    int
}

func DefaultFitterConfig() FitterConfig {
	return FitterConfig{
		MinSamples:       50,
		SuccessThreshold: 50,
		MaxIterations:    100,
	}
}

// Fitter fits Platt parameters by minimizing log-loss with Newton's method
// and a backtracking line search. Targets are Platt's smoothed labels, which
// keeps separable data from driving the parameters to infinity.
type Fitter struct {
	config FitterConfig
}

func NewFitter(cfg FitterConfig) *Fitter {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = DefaultFitterConfig().MaxIterations
	}
	return &Fitter{config: cfg}
}

// Fit returns nil unless enough two-class data converges. The returned status
// always says which way it went.
func (f *Fitter) Fit(pairs []signals.OutcomePair, now time.Time) (*signals.PlattParameters, FitStatus) {
	usable := usablePairs(pairs)
	if len(usable) < f.config.MinSamples {
		return nil, FitInsufficientSamples
	}

	n := len(usable)
	scores := make([]float64, n)
	labels := make([]bool, n)
	var positives, negatives int
	for i, p := range usable {
		// Fit on [0,1] for conditioning; a is rescaled on the way out.
		scores[i] = p.PredictedScore / ScoreRange
		labels[i] = p.ActualValue >= f.config.SuccessThreshold
		if labels[i] {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return nil, FitSingleClass
	}

	a, b, status := f.newton(scores, labels, positives, negatives)
	if status != FitOK {
		return nil, status
	}

	a /= ScoreRange
	if !numeric.Finite(a) || !numeric.Finite(b) {
		return nil, FitNotConverged
	}

	return &signals.PlattParameters{
		A:           a,
		B:           b,
		SampleCount: uint32(n),
		FittedAt:    now,
	}, FitOK
}

func (f *Fitter) newton(scores []float64, labels []bool, positives, negatives int) (float64, float64, FitStatus) {
	hiTarget := (float64(positives) + 1) / (float64(positives) + 2)
	loTarget := 1 / (float64(negatives) + 2)

	targets := make([]float64, len(scores))
	for i, y := range labels {
		if y {
			targets[i] = hiTarget
		} else {
			targets[i] = loTarget
		}
	}

	a := 0.0
	b := math.Log((float64(negatives) + 1) / (float64(positives) + 1))
	fval := objective(scores, targets, a, b)

	for iter := 0; iter < f.config.MaxIterations; iter++ {
		h11, h22, h21 := fitSigma, fitSigma, 0.0
		g1, g2 := 0.0, 0.0

		for i, s := range scores {
			p := numeric.Logistic(s*a + b)
			q := 1 - p
			d2 := p * q
			h11 += s * s * d2
			h22 += d2
			h21 += s * d2
			d1 := targets[i] - p
			g1 += s * d1
			g2 += d1
		}

		if math.Abs(g1) < fitEpsilon && math.Abs(g2) < fitEpsilon {
			return a, b, FitOK
		}

		det := h11*h22 - h21*h21
		if det == 0 || !numeric.Finite(det) {
			return 0, 0, FitNotConverged
		}
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= fitMinStep {
			newA := a + step*dA
			newB := b + step*dB
			newF := objective(scores, targets, newA, newB)
			if newF < fval+armijoFactor*step*gd {
				a, b, fval = newA, newB, newF
				break
			}
			step /= 2
		}
		if step < fitMinStep {
			return 0, 0, FitLineSearchFailed
		}
	}

	return 0, 0, FitNotConverged
}

// objective is the cross-entropy of the smoothed targets, written to avoid
// overflow in exp for large |a*s+b|.
func objective(scores, targets []float64, a, b float64) float64 {
	var sum float64
	for i, s := range scores {
		z := s*a + b
		t := targets[i]
		if z >= 0 {
			sum += t*z + math.Log1p(math.Exp(-z))
		} else {
			sum += (t-1)*z + math.Log1p(math.Exp(z))
		}
	}
	return sum
}

// Apply maps a raw 0-100 score to a calibrated probability in [0,1].
func Apply(p signals.PlattParameters, score float64) float64 {
	return numeric.Logistic(p.A*score + p.B)
}
