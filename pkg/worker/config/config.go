// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-level configuration for a voice worker.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Provider credentials. A missing key disables that provider; the
	// service factory skips keyless entries in its fallback chains.
	OpenAIKey   string `env:"OPENAI_API_KEY"`
	GeminiKey   string `env:"GEMINI_API_KEY"`
	DeepgramKey string `env:"DEEPGRAM_API_KEY"`
	CartesiaKey string `env:"CARTESIA_API_KEY"`

	// Telephony trunks. The fallback trunk takes over when a handover
	// leg fails on the primary.
	PrimaryTrunkID  string `env:"SIP_TRUNK_ID"`
	FallbackTrunkID string `env:"SIP_FALLBACK_TRUNK_ID"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"voice.db"`
	NotifyURL    string `env:"NOTIFY_WS_URL"`

	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	DialingTimeout time.Duration `env:"DIALING_TIMEOUT" envDefault:"45s"`
	DrainTimeout   time.Duration `env:"DRAIN_TIMEOUT" envDefault:"30s"`

	FactoryAttempts int     `env:"SERVICE_FACTORY_ATTEMPTS" envDefault:"2"`
	BackoffBase     float64 `env:"SERVICE_BACKOFF_BASE" envDefault:"0.5"`
	ChainsFile      string  `env:"FALLBACK_CHAINS_FILE"`

	DefaultAgentID string `env:"DEFAULT_AGENT_ID"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ProviderKeys returns the configured credentials keyed by provider name,
// in the shape the service factory consumes. Empty keys are omitted.
func (c *Config) ProviderKeys() map[string]string {
	keys := map[string]string{}
	for provider, key := range map[string]string{
		"openai":   c.OpenAIKey,
		"gemini":   c.GeminiKey,
		"deepgram": c.DeepgramKey,
		"cartesia": c.CartesiaKey,
	} {
		if key != "" {
			keys[provider] = key
		}
	}
	return keys
}

// SlogLevel maps the configured level string onto a slog.Level. Unknown
// values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
