package output

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/pipeline"
	"github.com/strrl/viralscope/internal/signals"
)

type Generator struct {
	outputDir string
}

// barWidth is the width of the reliability bars, in characters.
const barWidth = 20

func NewGenerator(outputDir string) *Generator {
	return &Generator{
		outputDir: outputDir,
	}
}

// Write stores content as <outputDir>/<name>.md and returns the path.
func (g *Generator) Write(name, content string) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := filepath.Join(g.outputDir, sanitizeFilename(name)+".md")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}

	return filename, nil
}

// CalibrationReport renders a reliability table. result is optional and adds
// the drift and refit outcome of the run that produced the report.
func CalibrationReport(report calibration.Report, driftThreshold float64, result *calibration.RunResult) string {
	var sb strings.Builder

	sb.WriteString("# Calibration Report\n\n")
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n", report.GeneratedAt.Format("2006-01-02 15:04 MST")))
	sb.WriteString(fmt.Sprintf("**Samples:** %d\n", report.TotalSamples))
	sb.WriteString(fmt.Sprintf("**ECE:** %.4f (drift threshold %.2f)\n", report.ECE, driftThreshold))

	if result != nil {
		sb.WriteString(fmt.Sprintf("**Status:** %s\n", result.Status))
		if result.SkipReason != "" {
			sb.WriteString(fmt.Sprintf("**Skip reason:** %s\n", result.SkipReason))
		}
		if result.DriftDetected {
			sb.WriteString("**Drift:** detected\n")
		}
		if result.PlattParams != nil {
			sb.WriteString(fmt.Sprintf("**Platt:** a=%.6f b=%.6f (n=%d)\n",
				result.PlattParams.A, result.PlattParams.B, result.PlattParams.SampleCount))
		} else if result.FitStatus != "" {
			sb.WriteString(fmt.Sprintf("**Platt:** not refitted (%s)\n", result.FitStatus))
		}
	}
	sb.WriteString("\n")

	if len(report.Bins) == 0 {
		sb.WriteString("No outcome pairs in the window.\n")
		return sb.String()
	}

	sb.WriteString("## Reliability\n\n")
	sb.WriteString("| Bin | Count | Predicted | Actual | Gap | |\n")
	sb.WriteString("|---|---:|---:|---:|---:|---|\n")
	for _, b := range report.Bins {
		if b.Count == 0 {
			sb.WriteString(fmt.Sprintf("| %s | 0 | - | - | - | |\n", binLabel(b)))
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %.1f | %.1f | %.1f | `%s` |\n",
			binLabel(b), b.Count, b.PredictedMean, b.ActualRate, b.Gap(), bar(b.ActualRate)))
	}

	return sb.String()
}

// TrendSummary renders the records of a trend run grouped by phase.
func TrendSummary(result pipeline.RunResult, records []signals.TrendRecord) string {
	var sb strings.Builder

	sb.WriteString("# Trend Run\n\n")
	sb.WriteString(fmt.Sprintf("**Window:** %s to %s\n",
		result.WindowStart.Format("2006-01-02 15:04"), result.WindowEnd.Format("2006-01-02 15:04")))
	sb.WriteString(fmt.Sprintf("**Records read:** %d\n", result.Stats.RecordsRead))
	sb.WriteString(fmt.Sprintf("**Topics:** %d (upserted %d, failed %d)\n\n",
		result.Stats.Topics, result.Stats.Upserted, result.Stats.Failed))

	for _, phase := range signals.Phases {
		var inPhase []signals.TrendRecord
		for _, r := range records {
			if r.Phase == phase {
				inPhase = append(inPhase, r)
			}
		}
		if len(inPhase) == 0 {
			continue
		}

		sb.WriteString(fmt.Sprintf("## %s (%d)\n\n", capitalize(string(phase)), len(inPhase)))
		sb.WriteString("| Topic | Videos | Views | Growth | Velocity |\n")
		sb.WriteString("|---|---:|---:|---:|---:|\n")
		for _, r := range inPhase {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.3f | %.2f |\n",
				truncate(r.Topic, 60), r.VideoCount, r.TotalViews, r.GrowthRate, r.VelocityScore))
		}
		sb.WriteString("\n")
	}

	if len(result.Stats.FailedBatches) > 0 {
		sb.WriteString("## Failed Batches\n\n")
		for _, fb := range result.Stats.FailedBatches {
			sb.WriteString(fmt.Sprintf("- offset %d (%d topics): %s\n", fb.Offset, len(fb.Topics), truncate(fb.Err, 200)))
		}
	}

	return sb.String()
}

func binLabel(b calibration.Bin) string {
	return fmt.Sprintf("%.0f-%.0f", b.Lower, b.Upper)
}

func bar(value float64) string {
	n := int(value / calibration.ScoreRange * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return strings.Repeat("#", n) + strings.Repeat(".", barWidth-n)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeFilename(s string) string {
	result := unsafeChars.ReplaceAllString(s, "-")
	result = strings.Trim(result, "-")
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "unnamed"
	}
	return strings.ToLower(result)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
