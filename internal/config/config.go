package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBDir    string     `env:"DB_DIR" envDefault:"data"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`

	// RedisURL switches session change notifications to Redis pub/sub so
	// several API instances can share live sessions.
	RedisURL string `env:"REDIS_URL"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	ImageModel    string `env:"IMAGE_MODEL" envDefault:"dall-e-3"`
	ImageSize     string `env:"IMAGE_SIZE" envDefault:"1024x1024"`

	JobPollInterval    time.Duration `env:"JOB_POLL_INTERVAL" envDefault:"2s"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"2h"`
	SweepSchedule      string        `env:"SWEEP_SCHEDULE" envDefault:"@every 15m"`

	SeedDemo      bool   `env:"SEED_DEMO" envDefault:"true"`
	AdminUsername string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.JobPollInterval <= 0 {
		return nil, fmt.Errorf("JOB_POLL_INTERVAL must be positive, got %s", cfg.JobPollInterval)
	}
	if cfg.SessionIdleTimeout <= 0 {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", cfg.SessionIdleTimeout)
	}
	return &cfg, nil
}
