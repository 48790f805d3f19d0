package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout=%v, want 60s", cfg.IdleTimeout)
	}
	if cfg.DialingTimeout != 45*time.Second {
		t.Errorf("DialingTimeout=%v, want 45s", cfg.DialingTimeout)
	}
	if cfg.FactoryAttempts != 2 {
		t.Errorf("FactoryAttempts=%d, want 2", cfg.FactoryAttempts)
	}
	if cfg.BackoffBase != 0.5 {
		t.Errorf("BackoffBase=%v, want 0.5", cfg.BackoffBase)
	}
	if cfg.DatabasePath != "voice.db" {
		t.Errorf("DatabasePath=%q, want voice.db", cfg.DatabasePath)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DEEPGRAM_API_KEY", "dg-test")
	t.Setenv("IDLE_TIMEOUT", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout=%v, want 90s", cfg.IdleTimeout)
	}

	keys := cfg.ProviderKeys()
	if keys["openai"] != "sk-test" || keys["deepgram"] != "dg-test" {
		t.Errorf("ProviderKeys=%v", keys)
	}
	if _, ok := keys["cartesia"]; ok {
		t.Error("empty cartesia key should be omitted")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel=%v, want debug", cfg.SlogLevel())
	}
}

func TestSlogLevelFallsBackToInfo(t *testing.T) {
	cfg := &Config{LogLevel: "verbose"}
	if got := cfg.SlogLevel(); got != slog.LevelInfo {
		t.Errorf("SlogLevel=%v, want info", got)
	}
}
