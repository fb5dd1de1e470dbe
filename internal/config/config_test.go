package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantSub: "Driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantSub: "DSN",
		},
		{
			name:    "recent window not inside lookback",
			mutate:  func(c *Config) { c.Trends.RecentWindow = 48 * time.Hour },
			wantSub: "recent_window",
		},
		{
			name:    "drift threshold on the wrong scale",
			mutate:  func(c *Config) { c.Calibration.DriftThreshold = 15 },
			wantSub: "DriftThreshold",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Trends.BatchSize = 0 },
			wantSub: "BatchSize",
		},
		{
			name: "kafka enabled without brokers",
			mutate: func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.Brokers = nil
			},
			wantSub: "Brokers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := map[string]string{
		"VIRALSCOPE_TRENDS_BATCH_SIZE":         "trends.batch_size",
		"VIRALSCOPE_CALIBRATION_MIN_SAMPLES":   "calibration.min_samples",
		"VIRALSCOPE_SCHEDULER_TREND_INTERVAL":  "scheduler.trend_interval",
		"VIRALSCOPE_DATABASE_DSN":              "database.dsn",
		"VIRALSCOPE_CONFIG":                    "",
		"VIRALSCOPE_UNKNOWN_THING":             "",
	}
	for in, want := range tests {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoad_FileAndEnvLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viralscope.yaml")
	yaml := `
trends:
  batch_size: 25
  lookback: 72h
calibration:
  min_samples: 80
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("VIRALSCOPE_CALIBRATION_MIN_SAMPLES", "120")
	t.Setenv("VIRALSCOPE_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Trends.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25 from file", cfg.Trends.BatchSize)
	}
	if cfg.Trends.Lookback != 72*time.Hour {
		t.Errorf("Lookback = %s, want 72h from file", cfg.Trends.Lookback)
	}
	if cfg.Calibration.MinSamples != 120 {
		t.Errorf("MinSamples = %d, want 120 from env", cfg.Calibration.MinSamples)
	}
	if cfg.Trends.RecentWindow != 24*time.Hour {
		t.Errorf("RecentWindow = %s, want default 24h", cfg.Trends.RecentWindow)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("Brokers = %v, want [a:9092 b:9092]", cfg.Kafka.Brokers)
	}
}
