package aggregator

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strrl/viralscope/internal/config"
	"github.com/strrl/viralscope/internal/numeric"
	"github.com/strrl/viralscope/internal/signals"
)

type Config struct {
	Lookback            time.Duration
	RecentWindow        time.Duration
	HighVolumeThreshold uint64
	ModerateVelocity    float64
	HighVelocity        float64
	PeakVolumeGrowthMin float64
	PeakGrowthMin       float64
	PeakGrowthMax       float64
	RisingGrowth        float64
	EmergingGrowth      float64
	Workers             int
}

func DefaultConfig() Config {
	return Config{
		Lookback:            48 * time.Hour,
		RecentWindow:        24 * time.Hour,
		HighVolumeThreshold: 500_000,
		ModerateVelocity:    50,
		HighVelocity:        100,
		PeakVolumeGrowthMin: -0.2,
		PeakGrowthMin:       -0.1,
		PeakGrowthMax:       0.3,
		RisingGrowth:        0.3,
		EmergingGrowth:      0.5,
		Workers:             4,
	}
}

// FromConfig maps the trends section of the service configuration.
func FromConfig(c config.TrendsConfig) Config {
	return Config{
		Lookback:            c.Lookback,
		RecentWindow:        c.RecentWindow,
		HighVolumeThreshold: c.HighVolumeThreshold,
		ModerateVelocity:    c.ModerateVelocity,
		HighVelocity:        c.HighVelocity,
		PeakVolumeGrowthMin: c.PeakVolumeGrowthMin,
		PeakGrowthMin:       c.PeakGrowthMin,
		PeakGrowthMax:       c.PeakGrowthMax,
		RisingGrowth:        c.RisingGrowth,
		EmergingGrowth:      c.EmergingGrowth,
		Workers:             c.Workers,
	}
}

type Aggregator struct {
	config Config
	now    time.Time
}

func NewAggregator(cfg Config, now time.Time) *Aggregator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Aggregator{
		config: cfg,
		now:    now,
	}
}

// Window is the fetch range [now-Lookback, now).
func (a *Aggregator) Window() signals.TimeRange {
	return signals.TimeRange{
		Start: a.now.Add(-a.config.Lookback),
		End:   a.now,
	}
}

// RecentBoundary splits the window into the older and recent halves.
func (a *Aggregator) RecentBoundary() time.Time {
	return a.now.Add(-a.config.RecentWindow)
}

// topicStats accumulates one topic's records before scoring.
type topicStats struct {
	topic       string
	url         string
	videoCount  uint32
	totalViews  uint64
	recentViews uint64
	olderViews  uint64
	firstSeen   time.Time
	lastSeen    time.Time
}

// Aggregate turns engagement rows into one TrendRecord per topic, ordered by
// velocity descending. Archived rows, untagged rows and rows outside the
// window are ignored.
func (a *Aggregator) Aggregate(ctx context.Context, records []signals.EngagementRecord) ([]signals.TrendRecord, error) {
	grouped := a.groupRecords(records)
	if len(grouped) == 0 {
		return nil, nil
	}

	topics := make([]string, 0, len(grouped))
	for topic := range grouped {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	out := make([]signals.TrendRecord, len(topics))
	boundary := a.RecentBoundary()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Workers)
	for i, topic := range topics {
		recs := grouped[topic]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			stats := accumulate(topic, recs, boundary)
			out[i] = a.buildRecord(stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortByVelocity(out)
	return out, nil
}

func (a *Aggregator) groupRecords(records []signals.EngagementRecord) map[string][]signals.EngagementRecord {
	window := a.Window()
	groups := make(map[string][]signals.EngagementRecord)

	for _, rec := range records {
		if rec.Archived || rec.Topic == "" || !window.Contains(rec.ObservedAt) {
			continue
		}
		groups[rec.Topic] = append(groups[rec.Topic], rec)
	}

	return groups
}

func accumulate(topic string, recs []signals.EngagementRecord, boundary time.Time) topicStats {
	s := topicStats{topic: topic}

	for _, rec := range recs {
		s.videoCount++
		s.totalViews += rec.Views

		if rec.ObservedAt.Before(boundary) {
			s.olderViews += rec.Views
		} else {
			s.recentViews += rec.Views
		}

		if s.firstSeen.IsZero() || rec.ObservedAt.Before(s.firstSeen) {
			s.firstSeen = rec.ObservedAt
		}
		if rec.ObservedAt.After(s.lastSeen) {
			s.lastSeen = rec.ObservedAt
		}
		if s.url == "" && rec.RepresentativeURL != "" {
			s.url = rec.RepresentativeURL
		}
	}

	return s
}

func (a *Aggregator) buildRecord(s topicStats) signals.TrendRecord {
	growth := GrowthRate(s.recentViews, s.olderViews)
	velocity := VelocityScore(s.totalViews, s.videoCount, growth)

	return signals.TrendRecord{
		Topic:             s.topic,
		RepresentativeURL: s.url,
		VideoCount:        s.videoCount,
		TotalViews:        s.totalViews,
		GrowthRate:        numeric.Round(growth, 3),
		VelocityScore:     numeric.Round(velocity, 2),
		Phase:             a.Classify(growth, velocity, s.totalViews),
		FirstSeen:         s.firstSeen,
		LastSeen:          s.lastSeen,
		ComputedAt:        a.now,
	}
}

// GrowthRate compares the recent half against the older half. A topic with no
// older views counts as 1.0 if it has any recent views, never as infinite.
func GrowthRate(recent, older uint64) float64 {
	switch {
	case older > 0:
		return (float64(recent) - float64(older)) / float64(older)
	case recent > 0:
		return 1.0
	default:
		return 0.0
	}
}

// VelocityScore is log10(max(views,1)) * count * (1 + max(growth,0)).
// Negative growth never pulls the score below the volume baseline.
func VelocityScore(totalViews uint64, videoCount uint32, growth float64) float64 {
	views := math.Max(float64(totalViews), 1)
	amplifier := 1 + math.Max(growth, 0)
	return math.Log10(views) * float64(videoCount) * amplifier
}

// Classify applies the phase rules in priority order. Callers pass unrounded
// growth and velocity.
func (a *Aggregator) Classify(growth, velocity float64, totalViews uint64) signals.Phase {
	c := a.config

	switch {
	case totalViews >= c.HighVolumeThreshold && growth >= c.PeakVolumeGrowthMin:
		return signals.PhasePeak
	case growth > c.EmergingGrowth && velocity < c.ModerateVelocity:
		return signals.PhaseEmerging
	case growth > c.RisingGrowth && velocity >= c.ModerateVelocity:
		return signals.PhaseRising
	case growth >= c.PeakGrowthMin && growth <= c.PeakGrowthMax && velocity >= c.HighVelocity:
		return signals.PhasePeak
	default:
		return signals.PhaseDeclining
	}
}

func sortByVelocity(records []signals.TrendRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].VelocityScore != records[j].VelocityScore {
			return records[i].VelocityScore > records[j].VelocityScore
		}
		return records[i].Topic < records[j].Topic
	})
}
