// Package config loads viralscope configuration from built-in defaults, an
// optional YAML file and VIRALSCOPE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"time"
)

type Config struct {
	Database    DatabaseConfig    `koanf:"database"`
	Trends      TrendsConfig      `koanf:"trends"`
	Calibration CalibrationConfig `koanf:"calibration"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Server      ServerConfig      `koanf:"server"`
	Kafka       KafkaConfig       `koanf:"kafka"`
	Breaker     BreakerConfig     `koanf:"breaker"`
	Logging     LoggingConfig     `koanf:"logging"`
}

type DatabaseConfig struct {
	// Driver is duckdb (embedded, default) or postgres.
	Driver string `koanf:"driver" validate:"oneof=duckdb postgres"`
	// Path is the DuckDB file; empty means in-memory.
	Path string `koanf:"path"`
	// DSN is the Postgres connection string.
	DSN          string        `koanf:"dsn" validate:"required_if=Driver postgres"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"gt=0"`
}

type TrendsConfig struct {
	Lookback            time.Duration `koanf:"lookback" validate:"gt=0"`
	RecentWindow        time.Duration `koanf:"recent_window" validate:"gt=0"`
	HighVolumeThreshold uint64        `koanf:"high_volume_threshold" validate:"gt=0"`
	ModerateVelocity    float64       `koanf:"moderate_velocity" validate:"gt=0"`
	HighVelocity        float64       `koanf:"high_velocity" validate:"gtefield=ModerateVelocity"`
	PeakVolumeGrowthMin float64       `koanf:"peak_volume_growth_min"`
	PeakGrowthMin       float64       `koanf:"peak_growth_min"`
	PeakGrowthMax       float64       `koanf:"peak_growth_max"`
	RisingGrowth        float64       `koanf:"rising_growth"`
	EmergingGrowth      float64       `koanf:"emerging_growth"`
	BatchSize           int           `koanf:"batch_size" validate:"min=1,max=1000"`
	Workers             int           `koanf:"workers" validate:"min=1,max=64"`
}

type CalibrationConfig struct {
	Lookback         time.Duration `koanf:"lookback" validate:"gt=0"`
	Bins             int           `koanf:"bins" validate:"min=1,max=100"`
	MinSamples       int           `koanf:"min_samples" validate:"min=1"`
	DriftThreshold   float64       `koanf:"drift_threshold" validate:"gt=0,lte=1"`
	SuccessThreshold float64       `koanf:"success_threshold" validate:"gte=0,lte=100"`
	MaxIterations    int           `koanf:"max_iterations" validate:"min=1"`
}

type SchedulerConfig struct {
	TrendInterval       time.Duration `koanf:"trend_interval" validate:"gt=0"`
	CalibrationInterval time.Duration `koanf:"calibration_interval" validate:"gt=0"`
	RunOnStartup        bool          `koanf:"run_on_startup"`
	RunTimeout          time.Duration `koanf:"run_timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_if=Enabled true"`
	// Token guards the job trigger endpoints. Empty disables the check.
	Token string `koanf:"token"`
}

type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `koanf:"topic" validate:"required_if=Enabled true"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests" validate:"min=1"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the operational defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "duckdb",
			Path:         "viralscope.duckdb",
			QueryTimeout: 30 * time.Second,
		},
		Trends: TrendsConfig{
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
			BatchSize:           50,
			Workers:             4,
		},
		Calibration: CalibrationConfig{
			Lookback:         90 * 24 * time.Hour,
			Bins:             10,
			MinSamples:       50,
			DriftThreshold:   0.15,
			SuccessThreshold: 50,
			MaxIterations:    100,
		},
		Scheduler: SchedulerConfig{
			TrendInterval:       time.Hour,
			CalibrationInterval: 24 * time.Hour,
			RunOnStartup:        false,
			RunTimeout:          10 * time.Minute,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Topic:   "viralscope.calibration",
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         0,
			Timeout:          30 * time.Second,
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
