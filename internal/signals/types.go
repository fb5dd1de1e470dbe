package signals

import (
	"time"
)

// EngagementRecord is one scraped observation of a video. Topic is the sound
// or hashtag the video is grouped under; empty means untagged.
type EngagementRecord struct {
	Topic             string    `json:"topic"`
	RepresentativeURL string    `json:"representative_url,omitempty"`
	Views             uint64    `json:"views"`
	Likes             uint64    `json:"likes"`
	Shares            uint64    `json:"shares"`
	Comments          uint64    `json:"comments"`
	ObservedAt        time.Time `json:"observed_at"`
	Archived          bool      `json:"archived"`
}

type Phase string

const (
	PhaseEmerging  Phase = "emerging"
	PhaseRising    Phase = "rising"
	PhasePeak      Phase = "peak"
	PhaseDeclining Phase = "declining"
)

// Phases lists the phases in lifecycle order.
var Phases = []Phase{PhaseEmerging, PhaseRising, PhasePeak, PhaseDeclining}

var ValidPhases = map[Phase]string{
	PhaseEmerging:  "Fast relative growth on a small base",
	PhaseRising:    "Sustained growth with meaningful velocity",
	PhasePeak:      "Large or fast topic that has stopped accelerating",
	PhaseDeclining: "Everything else, including shrinking topics",
}

func (p Phase) IsValid() bool {
	_, ok := ValidPhases[p]
	return ok
}

// TrendRecord is the per-topic output of an aggregation run. GrowthRate and
// VelocityScore are stored rounded.
type TrendRecord struct {
	Topic             string    `json:"topic"`
	RepresentativeURL string    `json:"representative_url,omitempty"`
	VideoCount        uint32    `json:"video_count"`
	TotalViews        uint64    `json:"total_views"`
	GrowthRate        float64   `json:"growth_rate"`
	VelocityScore     float64   `json:"velocity_score"`
	Phase             Phase     `json:"phase"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	ComputedAt        time.Time `json:"computed_at"`
}

// OutcomePair matches a prediction with the performance reported later. Both
// scores are on the same 0-100 scale.
type OutcomePair struct {
	PredictedScore float64   `json:"predicted_score"`
	ActualValue    float64   `json:"actual_value"`
	ReportedAt     time.Time `json:"reported_at"`
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in [Start, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// PlattParameters map a raw score s to P(success) = 1/(1+exp(A*s+B)).
// They are only produced from at least the configured minimum sample count.
type PlattParameters struct {
	A           float64   `json:"a"`
	B           float64   `json:"b"`
	SampleCount uint32    `json:"sample_count"`
	FittedAt    time.Time `json:"fitted_at"`
}
