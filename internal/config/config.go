package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Store selects the persistence backend: "redis" or "memory".
	Store     string `env:"STORE" envDefault:"redis"`
	RedisURL  string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASS"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"stakeplay"`

	AuditDir   string `env:"AUDIT_DIR" envDefault:"data/audit"`
	PolicyPath string `env:"POLICY_PATH" envDefault:"configs/policy.yaml"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	ResumeInterval time.Duration `env:"RESUME_INTERVAL" envDefault:"1m"`
	// ResumeAfter is how long a commission walk may sit unfinished before
	// the resume pass picks it up.
	ResumeAfter time.Duration `env:"RESUME_AFTER" envDefault:"2m"`
	LockTTL     time.Duration `env:"LOCK_TTL" envDefault:"10s"`
	Workers     int           `env:"WORKERS" envDefault:"8"`

	RateLimitBets int `env:"RATE_LIMIT_BETS" envDefault:"30"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (*Config, error) {
	// a missing .env is fine; the environment alone is a valid source
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store != "redis" && c.Store != "memory" {
		return fmt.Errorf("STORE must be redis or memory, got %q", c.Store)
	}
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
