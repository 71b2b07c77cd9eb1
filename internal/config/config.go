package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the matching engine service.
type Config struct {
	Port              int           `env:"MATCHING_ENGINE_PORT" envDefault:"6001"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	DepthLevels       int           `env:"DEPTH_LEVELS" envDefault:"10"`
	DepthPushInterval time.Duration `env:"DEPTH_PUSH_INTERVAL" envDefault:"100ms"`
	StreamBuffer      int           `env:"STREAM_BUFFER" envDefault:"256"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Risk  RiskConfig  `envPrefix:"RISK_"`
	Kafka KafkaConfig `envPrefix:"KAFKA_"`
}

// RiskConfig configures the external risk engine. An empty URL disables
// pre-trade checks and position updates.
type RiskConfig struct {
	URL     string        `env:"ENGINE_URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"2s"`
}

// Enabled reports whether a risk engine is configured.
func (c RiskConfig) Enabled() bool {
	return c.URL != ""
}

// KafkaConfig configures the event sink. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"matching-engine.events"`
	Buffer  int      `env:"BUFFER" envDefault:"1024"`
}

// Enabled reports whether any broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Load reads an optional .env file and the environment, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid MATCHING_ENGINE_PORT: %d, must be between 1 and 65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.DepthLevels <= 0 {
		return fmt.Errorf("invalid DEPTH_LEVELS: %d, must be positive", c.DepthLevels)
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("invalid STREAM_BUFFER: %d, must be positive", c.StreamBuffer)
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"DEPTH_PUSH_INTERVAL", c.DepthPushInterval},
		{"READ_TIMEOUT", c.ReadTimeout},
		{"WRITE_TIMEOUT", c.WriteTimeout},
		{"IDLE_TIMEOUT", c.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"RISK_TIMEOUT", c.Risk.Timeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("invalid %s: %v, must be positive", d.key, d.val)
		}
	}

	if c.Risk.Enabled() {
		u, err := url.ParseRequestURI(c.Risk.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid RISK_ENGINE_URL: %q, must be an absolute http(s) URL", c.Risk.URL)
		}
	}

	if c.Kafka.Enabled() {
		if c.Kafka.Topic == "" {
			return errors.New("invalid KAFKA_TOPIC: must be set when KAFKA_BROKERS is set")
		}
		if c.Kafka.Buffer <= 0 {
			return fmt.Errorf("invalid KAFKA_BUFFER: %d, must be positive", c.Kafka.Buffer)
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
