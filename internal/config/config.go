package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" validate:"required"`
	Cache     CacheConfig     `mapstructure:"cache" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm" validate:"required"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// MetricsAddr is the listen address for the Prometheus scrape
	// endpoint. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// PipelineConfig tunes the dispatcher and worker behavior.
type PipelineConfig struct {
	// MaxConcurrent is the hard cap on simultaneously running workers.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"required,gt=0,lte=256"`

	// PollIntervalSeconds is the dispatcher's base tick.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" validate:"required,gt=0"`

	// IdlePollIntervalSeconds caps how far the tick stretches while idle.
	IdlePollIntervalSeconds int `mapstructure:"idle_poll_interval_seconds" validate:"required,gt=0"`

	// ShutdownTimeoutSeconds bounds the graceful-stop drain.
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"required,gt=0"`

	// StuckTaskAgeMinutes is the processing-staleness threshold for the
	// recovery sweep.
	StuckTaskAgeMinutes int `mapstructure:"stuck_task_age_minutes" validate:"required,gt=0"`

	// StuckTaskCheckIntervalMinutes is how often the sweep runs.
	StuckTaskCheckIntervalMinutes int `mapstructure:"stuck_task_check_interval_minutes" validate:"required,gt=0"`

	// MaxRetries bounds transient-failure retries per task.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=20"`

	// AnalyzeTimeoutSeconds bounds a single provider call.
	AnalyzeTimeoutSeconds int `mapstructure:"analyze_timeout_seconds" validate:"required,gt=0"`
}

// CacheConfig tunes the analysis-result dedupe cache.
type CacheConfig struct {
	Capacity          int `mapstructure:"capacity" validate:"required,gt=0"`
	TTLSeconds        int `mapstructure:"ttl_seconds" validate:"required,gt=0"`
	SweepIntervalSecs int `mapstructure:"sweep_interval_seconds" validate:"required,gt=0"`
}

// RateLimitConfig tunes the provider backoff controller.
type RateLimitConfig struct {
	BaseDelaySeconds int `mapstructure:"base_delay_seconds" validate:"required,gt=0"`
	MaxDelaySeconds  int `mapstructure:"max_delay_seconds" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name" validate:"required"`
}
