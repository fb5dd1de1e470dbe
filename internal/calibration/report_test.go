package calibration

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/strrl/viralscope/internal/signals"
)

var calNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pairs(n int, predicted, actual float64) []signals.OutcomePair {
	out := make([]signals.OutcomePair, n)
	for i := range out {
		out[i] = signals.OutcomePair{PredictedScore: predicted, ActualValue: actual, ReportedAt: calNow}
	}
	return out
}

func TestBinIndex(t *testing.T) {
	tests := []struct {
		score float64
		want  int
	}{
		{0, 0},
		{9.999, 0},
		{10, 1},
		{55, 5},
		{99.9, 9},
		{100, 9},
		{150, 9},
		{-3, 0},
	}
	for _, tt := range tests {
		if got := BinIndex(tt.score, 10); got != tt.want {
			t.Errorf("BinIndex(%v, 10) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestGenerateReport_PerfectlyCalibrated(t *testing.T) {
	var ps []signals.OutcomePair
	for s := 0.0; s <= 100; s += 2.5 {
		ps = append(ps, signals.OutcomePair{PredictedScore: s, ActualValue: s})
	}

	r := GenerateReport(ps, 10, calNow)
	if r.ECE != 0 {
		t.Errorf("ECE = %v, want 0", r.ECE)
	}
	if r.NonEmptyBins() != 10 {
		t.Errorf("non-empty bins = %d, want 10", r.NonEmptyBins())
	}
	if int(r.TotalSamples) != len(ps) {
		t.Errorf("TotalSamples = %d, want %d", r.TotalSamples, len(ps))
	}
}

func TestGenerateReport_ScenarioC(t *testing.T) {
	r := GenerateReport(pairs(60, 50, 80), 10, calNow)

	if r.TotalSamples != 60 {
		t.Errorf("TotalSamples = %d, want 60", r.TotalSamples)
	}
	if r.NonEmptyBins() != 1 {
		t.Errorf("non-empty bins = %d, want 1", r.NonEmptyBins())
	}
	if math.Abs(r.ECE-0.30) > 1e-12 {
		t.Errorf("ECE = %v, want 0.30", r.ECE)
	}
	b := r.Bins[5]
	if b.Count != 60 || b.PredictedMean != 50 || b.ActualRate != 80 {
		t.Errorf("bin 5 = %+v", b)
	}
	if b.Gap() != 30 {
		t.Errorf("bin gap = %v, want 30 score points", b.Gap())
	}
	if !r.Sufficient(50) {
		t.Error("expected 60 samples to be sufficient")
	}
}

func TestGenerateReport_BinsPartitionRange(t *testing.T) {
	r := GenerateReport(pairs(1, 42, 42), 10, calNow)

	if len(r.Bins) != 10 {
		t.Fatalf("len(Bins) = %d, want 10", len(r.Bins))
	}
	if r.Bins[0].Lower != 0 || r.Bins[9].Upper != 100 {
		t.Errorf("range = [%v, %v], want [0, 100]", r.Bins[0].Lower, r.Bins[9].Upper)
	}
	for i := 1; i < len(r.Bins); i++ {
		if r.Bins[i].Lower != r.Bins[i-1].Upper {
			t.Errorf("gap between bin %d and %d", i-1, i)
		}
	}
}

func TestGenerateReport_WeightsByCount(t *testing.T) {
	ps := append(pairs(30, 15, 15), pairs(10, 85, 45)...)
	r := GenerateReport(ps, 10, calNow)

	want := (10.0 * 40 / 40) / 100
	if math.Abs(r.ECE-want) > 1e-12 {
		t.Errorf("ECE = %v, want %v", r.ECE, want)
	}
}

func TestGenerateReport_Empty(t *testing.T) {
	r := GenerateReport(nil, 10, calNow)
	if r.TotalSamples != 0 || len(r.Bins) != 0 || r.ECE != 0 {
		t.Errorf("empty report = %+v", r)
	}
	if r.Bins == nil {
		t.Error("Bins is nil, want an empty list so it encodes as []")
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"bins":[]`) {
		t.Errorf("encoded report = %s, want \"bins\":[]", data)
	}
	if !r.GeneratedAt.Equal(calNow) {
		t.Errorf("GeneratedAt = %v, want %v", r.GeneratedAt, calNow)
	}
	if r.Sufficient(50) {
		t.Error("empty report must not be sufficient")
	}
}

func TestGenerateReport_DropsNonFinite(t *testing.T) {
	ps := []signals.OutcomePair{
		{PredictedScore: math.NaN(), ActualValue: 10},
		{PredictedScore: 20, ActualValue: math.Inf(1)},
		{PredictedScore: 20, ActualValue: 20},
	}
	r := GenerateReport(ps, 10, calNow)
	if r.TotalSamples != 1 || r.ECE != 0 {
		t.Errorf("report = %+v, want one usable sample", r)
	}
}

func TestReport_SufficientGate(t *testing.T) {
	if GenerateReport(pairs(49, 50, 50), 10, calNow).Sufficient(50) {
		t.Error("49 samples should be insufficient")
	}
	if !GenerateReport(pairs(50, 50, 50), 10, calNow).Sufficient(50) {
		t.Error("50 samples should be sufficient")
	}
}
