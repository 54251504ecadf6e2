package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment, after an optional .env file.
type Config struct {
	InstanceURL string        `env:"SALESFORCE_INSTANCE_URL"`
	AccessToken string        `env:"SALESFORCE_ACCESS_TOKEN"`
	APIVersion  string        `env:"SALESFORCE_API_VERSION" envDefault:"v60.0"`
	Timeout     time.Duration `env:"SALESFORCE_TIMEOUT" envDefault:"10s"`

	FixtureDB  string `env:"COPADO_FIXTURE_DB"`
	FixtureDSN string `env:"COPADO_FIXTURE_DSN"`

	AuditLog string `env:"COPADO_AUDIT_LOG"`
	LogLevel string `env:"COPADO_LOG_LEVEL" envDefault:"info"`
}

// loadConfig loads envFile (or .env when empty, ignoring a missing file) and
// parses the environment.
func loadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// Load .env file if it exists (ignore errors if file doesn't exist)
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects contradictory settings.
func (c Config) Validate() error {
	if c.FixtureDB != "" && c.FixtureDSN != "" {
		return &ConfigError{Message: "COPADO_FIXTURE_DB and COPADO_FIXTURE_DSN are mutually exclusive"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Message: "SALESFORCE_TIMEOUT must be positive"}
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return &ConfigError{Message: err.Error()}
	}
	return nil
}

// Credentials returns the live-mode settings.
func (c Config) Credentials() Credentials {
	return Credentials{
		InstanceURL: c.InstanceURL,
		AccessToken: c.AccessToken,
		APIVersion:  c.APIVersion,
		Timeout:     c.Timeout,
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
