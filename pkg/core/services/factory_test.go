package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/llm"
)

type fakeLLM struct{ name string }

func (f *fakeLLM) Name() string { return f.name }
func (f *fakeLLM) Chat(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.Completion, error) {
	return &llm.Completion{Text: "ok"}, nil
}

// failNTimes registers an LLM constructor that fails the first n calls.
func failNTimes(t *testing.T, name string, n int, err error) *int {
	t.Helper()
	calls := 0
	var mu sync.Mutex
	llm.Register(name, func(apiKey string) (llm.Provider, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return nil, err
		}
		return &fakeLLM{name: name}, nil
	})
	return &calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFactory(cfg FactoryConfig) (*Factory, *[]time.Duration) {
	f := NewFactory(NewCache(), cfg, testLogger())
	var sleeps []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return f, &sleeps
}

func TestFactoryCacheHit(t *testing.T) {
	calls := failNTimes(t, "hit-prov", 0, nil)
	f, _ := newTestFactory(FactoryConfig{
		Keys:   map[string]string{"hit-prov": "k"},
		Chains: Chains{LLM: []ChainEntry{}},
	})

	first, err := f.LLM(context.Background(), "hit-prov", "m1")
	if err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	second, err := f.LLM(context.Background(), "hit-prov", "m1")
	if err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	if first != second {
		t.Error("cache miss on identical signature")
	}
	if *calls != 1 {
		t.Errorf("constructor calls = %d, want 1", *calls)
	}
}

func TestFactoryRetryThenSuccess(t *testing.T) {
	calls := failNTimes(t, "retry-prov", 1, errors.New("transient failure"))
	f, sleeps := newTestFactory(FactoryConfig{
		Attempts:    2,
		BackoffBase: 0.5,
		Keys:        map[string]string{"retry-prov": "k"},
		Chains:      Chains{LLM: []ChainEntry{}},
	})

	svc, err := f.LLM(context.Background(), "retry-prov", "m1")
	if err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	if svc.Model != "m1" {
		t.Errorf("model = %q, want m1", svc.Model)
	}
	if *calls != 2 {
		t.Errorf("constructor calls = %d, want 2", *calls)
	}
	// attempt 0 failed: wait base^0 = 1s.
	if len(*sleeps) != 1 || (*sleeps)[0] != time.Second {
		t.Errorf("sleeps = %v, want [1s]", *sleeps)
	}
}

func TestFactoryRateLimitBackoffDoubled(t *testing.T) {
	failNTimes(t, "limited-prov", 1, errors.New("429 too many requests"))
	f, sleeps := newTestFactory(FactoryConfig{
		Attempts:    2,
		BackoffBase: 0.5,
		Keys:        map[string]string{"limited-prov": "k"},
		Chains:      Chains{LLM: []ChainEntry{}},
	})

	if _, err := f.LLM(context.Background(), "limited-prov", "m1"); err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	// Rate-limited failures wait base^attempt doubled: 1s * 2.
	if len(*sleeps) != 1 || (*sleeps)[0] != 2*time.Second {
		t.Errorf("sleeps = %v, want [2s]", *sleeps)
	}
}

func TestFactoryFallbackChain(t *testing.T) {
	primaryCalls := failNTimes(t, "dead-prov", 100, errors.New("down"))
	backupCalls := failNTimes(t, "backup-prov", 0, nil)

	f, _ := newTestFactory(FactoryConfig{
		Attempts: 2,
		Keys:     map[string]string{"dead-prov": "k", "backup-prov": "k"},
		Chains: Chains{LLM: []ChainEntry{
			{Provider: "dead-prov", Model: "m1"}, // equals primary, must be skipped
			{Provider: "backup-prov", Model: "m2"},
		}},
	})

	svc, err := f.LLM(context.Background(), "dead-prov", "m1")
	if err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	if svc.Provider.Name() != "backup-prov" {
		t.Errorf("provider = %q, want backup-prov", svc.Provider.Name())
	}
	if svc.Model != "m2" {
		t.Errorf("model = %q, want chain entry model m2", svc.Model)
	}
	// Primary got its retries but the identical chain entry got none.
	if *primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2", *primaryCalls)
	}
	if *backupCalls != 1 {
		t.Errorf("backup calls = %d, want 1", *backupCalls)
	}
}

func TestFactoryExhaustionReturnsTypedError(t *testing.T) {
	failNTimes(t, "gone-prov", 100, errors.New("down"))

	// No openai key, so even the last resort cannot construct.
	f, _ := newTestFactory(FactoryConfig{
		Attempts: 1,
		Keys:     map[string]string{"gone-prov": "k"},
		Chains:   Chains{LLM: []ChainEntry{}},
	})

	_, err := f.LLM(context.Background(), "gone-prov", "m1")
	if err == nil {
		t.Fatal("expected error after total exhaustion")
	}
	if !IsUnavailable(err) {
		t.Fatalf("error %v is not an UnavailableError", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatal("errors.As failed")
	}
	if ue.Kind != KindLLM {
		t.Errorf("kind = %q, want llm", ue.Kind)
	}
	if len(ue.Attempted) == 0 {
		t.Error("attempted providers not recorded")
	}
}

func TestFactoryLastResortLLM(t *testing.T) {
	failNTimes(t, "flappy-prov", 100, errors.New("down"))

	f, _ := newTestFactory(FactoryConfig{
		Attempts: 1,
		Keys:     map[string]string{"flappy-prov": "k", "openai": "sk-test"},
		Chains:   Chains{LLM: []ChainEntry{}},
	})

	svc, err := f.LLM(context.Background(), "flappy-prov", "m1")
	if err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	if svc.Provider.Name() != "openai" || svc.Model != "gpt-4o-mini" {
		t.Errorf("last resort = %s/%s, want openai/gpt-4o-mini", svc.Provider.Name(), svc.Model)
	}
}

func TestFactorySTTLastResortNeverFails(t *testing.T) {
	// Unknown provider and no keys at all: STT still returns a handle.
	f, _ := newTestFactory(FactoryConfig{Attempts: 1, Chains: Chains{STT: []ChainEntry{}}})

	svc, err := f.STT(context.Background(), "no-such-prov", "", "")
	if err != nil {
		t.Fatalf("STT() error: %v", err)
	}
	if svc.Provider.Name() != "deepgram" || svc.Model != "nova-2" {
		t.Errorf("last resort = %s/%s, want deepgram/nova-2", svc.Provider.Name(), svc.Model)
	}
	if svc.Language != "en" {
		t.Errorf("language = %q, want en", svc.Language)
	}
}

func TestFactoryMissingKeySkipsPrimary(t *testing.T) {
	primaryCalls := failNTimes(t, "keyless-prov", 0, nil)
	backupCalls := failNTimes(t, "keyed-prov", 0, nil)

	f, sleeps := newTestFactory(FactoryConfig{
		Attempts: 3,
		Keys:     map[string]string{"keyed-prov": "k"},
		Chains:   Chains{LLM: []ChainEntry{{Provider: "keyed-prov", Model: "m2"}}},
	})

	svc, err := f.LLM(context.Background(), "keyless-prov", "m1")
	if err != nil {
		t.Fatalf("LLM() error: %v", err)
	}
	if svc.Provider.Name() != "keyed-prov" {
		t.Errorf("provider = %q, want keyed-prov", svc.Provider.Name())
	}
	if *primaryCalls != 0 {
		t.Errorf("primary constructed %d times without a key", *primaryCalls)
	}
	if *backupCalls != 1 {
		t.Errorf("backup calls = %d, want 1", *backupCalls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", *sleeps)
	}
}

func TestLoadChains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	data := []byte("llm:\n  - provider: gemini\n    model: gemini-2.0-flash\n  - provider: openai\n    model: gpt-4o-mini\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	chains, err := LoadChains(path)
	if err != nil {
		t.Fatalf("LoadChains() error: %v", err)
	}
	if len(chains.LLM) != 2 || chains.LLM[0].Provider != "gemini" {
		t.Errorf("llm chain = %+v", chains.LLM)
	}
	// Unset kinds fall back to defaults.
	if len(chains.STT) == 0 || len(chains.TTS) == 0 {
		t.Error("defaults not applied to unset kinds")
	}
}
