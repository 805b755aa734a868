// Package config loads tally configuration from tally.toml, environment
// variables (TALLY_ prefix), and built-in defaults, in that precedence
// order.
package config

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine" toml:"engine"`
	Logging   LoggingConfig   `mapstructure:"logging" toml:"logging"`
}

// DatabaseConfig locates the sqlite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// SchedulerConfig tunes the recompute ticker.
type SchedulerConfig struct {
	TickIntervalSeconds  int `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"`
	MaxConcurrentRuns    int `mapstructure:"max_concurrent_runs" toml:"max_concurrent_runs"`
	BatchDeadlineSeconds int `mapstructure:"batch_deadline_seconds" toml:"batch_deadline_seconds"`
}

// EngineConfig tunes the per-batch recompute path.
type EngineConfig struct {
	RecomputeParallelism int     `mapstructure:"recompute_parallelism" toml:"recompute_parallelism"`
	WriteRatePerSecond   float64 `mapstructure:"write_rate_per_second" toml:"write_rate_per_second"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" toml:"json"`
}
