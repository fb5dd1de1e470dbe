// Package calibration measures how well prediction scores match reported
// outcomes and fits the Platt correction applied to raw scores.
//
// Scores and outcomes share a 0-100 scale. Bin means are reported in score
// units, while ECE is a fraction of the score range (0 to 1) so it compares
// directly against the drift threshold.
package calibration

import (
	"math"
	"time"

	"github.com/strrl/viralscope/internal/numeric"
	"github.com/strrl/viralscope/internal/signals"
)

// ScoreRange is the width of the prediction score scale.
const ScoreRange = 100.0

// Bin is one equal-width slice of the score range. Upper is exclusive except
// for the last bin, which also holds scores of exactly 100.
type Bin struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	PredictedMean float64 `json:"predicted_mean"`
	ActualRate    float64 `json:"actual_rate"`
	Count         uint32  `json:"count"`
}

// Gap is |PredictedMean - ActualRate| in score units; zero for an empty bin.
func (b Bin) Gap() float64 {
	if b.Count == 0 {
		return 0
	}
	return math.Abs(b.PredictedMean - b.ActualRate)
}

type Report struct {
	ECE          float64   `json:"ece"`
	Bins         []Bin     `json:"bins"`
	TotalSamples uint32    `json:"total_samples"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Sufficient reports whether the report holds enough samples to act on.
func (r Report) Sufficient(minSamples int) bool {
	return int(r.TotalSamples) >= minSamples
}

// NonEmptyBins counts bins with at least one sample.
func (r Report) NonEmptyBins() int {
	n := 0
	for _, b := range r.Bins {
		if b.Count > 0 {
			n++
		}
	}
	return n
}

// BinIndex maps a score to its bin, clamping out-of-range scores into the
// first or last bin.
func BinIndex(score float64, bins int) int {
	width := ScoreRange / float64(bins)
	idx := int(math.Floor(score / width))
	if idx < 0 {
		return 0
	}
	if idx > bins-1 {
		return bins - 1
	}
	return idx
}

// GenerateReport bins pairs by predicted score and computes the
// count-weighted ECE. Pairs with non-finite values are dropped. An empty
// population yields a zero report with an empty, non-nil bin list.
func GenerateReport(pairs []signals.OutcomePair, bins int, now time.Time) Report {
	report := Report{GeneratedAt: now, Bins: []Bin{}}
	if bins < 1 {
		bins = 1
	}

	usable := usablePairs(pairs)
	if len(usable) == 0 {
		return report
	}

	type acc struct {
		predicted float64
		actual    float64
		count     uint32
	}
	sums := make([]acc, bins)
	for _, p := range usable {
		i := BinIndex(p.PredictedScore, bins)
		sums[i].predicted += p.PredictedScore
		sums[i].actual += p.ActualValue
		sums[i].count++
	}

	width := ScoreRange / float64(bins)
	report.Bins = make([]Bin, bins)
	var weightedGap float64

	for i, s := range sums {
		b := Bin{
			Lower: float64(i) * width,
			Upper: float64(i+1) * width,
			Count: s.count,
		}
		if s.count > 0 {
			b.PredictedMean = s.predicted / float64(s.count)
			b.ActualRate = s.actual / float64(s.count)
			weightedGap += float64(s.count) * b.Gap()
		}
		report.Bins[i] = b
	}

	report.TotalSamples = uint32(len(usable))
	report.ECE = numeric.Clamp(weightedGap/float64(len(usable))/ScoreRange, 0, 1)

	return report
}

func usablePairs(pairs []signals.OutcomePair) []signals.OutcomePair {
	out := make([]signals.OutcomePair, 0, len(pairs))
	for _, p := range pairs {
		if !numeric.Finite(p.PredictedScore) || !numeric.Finite(p.ActualValue) {
			continue
		}
		out = append(out, p)
	}
	return out
}
