package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file next to the binary or under /etc.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docassist")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file is fine; environment variables carry the config.
	}

	// Environment variables: DOCASSIST_DATABASE_URL, DOCASSIST_LLM_GEMINI_API_KEY, ...
	v.SetEnvPrefix("DOCASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about; the two
	// secrets have no defaults, so bind them explicitly.
	_ = v.BindEnv("database.url")
	_ = v.BindEnv("llm.gemini_api_key")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers defaults for everything that has a sane one.
// Database URL and the Gemini API key deliberately have none.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	v.SetDefault("pipeline.max_concurrent", 10)
	v.SetDefault("pipeline.poll_interval_seconds", 5)
	v.SetDefault("pipeline.idle_poll_interval_seconds", 30)
	v.SetDefault("pipeline.shutdown_timeout_seconds", 30)
	v.SetDefault("pipeline.stuck_task_age_minutes", 30)
	v.SetDefault("pipeline.stuck_task_check_interval_minutes", 5)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.analyze_timeout_seconds", 120)

	v.SetDefault("cache.capacity", 5000)
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.sweep_interval_seconds", 60)

	v.SetDefault("rate_limit.base_delay_seconds", 2)
	v.SetDefault("rate_limit.max_delay_seconds", 300)

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
}
