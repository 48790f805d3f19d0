package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/llm"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/stt"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/tts"
)

// FactoryConfig tunes retry behavior and provider credentials.
type FactoryConfig struct {
	// Attempts is the number of tries against the primary provider
	// before the fallback chain is consulted.
	Attempts int
	// BackoffBase is the base of the exponential backoff in seconds:
	// the wait after attempt n is BackoffBase^n, doubled for
	// rate-limited failures.
	BackoffBase float64
	// Keys maps provider name to API key.
	Keys map[string]string
	// Chains is the ordered fallback chain per kind.
	Chains Chains
}

func (c FactoryConfig) withDefaults() FactoryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 0.5
	}
	if c.Chains.STT == nil && c.Chains.LLM == nil && c.Chains.TTS == nil {
		c.Chains = DefaultChains()
	}
	return c
}

// Factory constructs capability services with caching, retries with
// classified backoff, an ordered fallback chain, and a hard-coded last
// resort. Only when even the last resort fails does it return a typed
// UnavailableError.
type Factory struct {
	cache  *Cache
	cfg    FactoryConfig
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// NewFactory creates a service factory backed by the given cache.
func NewFactory(cache *Cache, cfg FactoryConfig, logger *slog.Logger) *Factory {
	if cache == nil {
		cache = Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cache:  cache,
		cfg:    cfg.withDefaults(),
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (f *Factory) key(provider string) string {
	return f.cfg.Keys[provider]
}

func (f *Factory) backoff(attempt int, rateLimited bool) time.Duration {
	secs := math.Pow(f.cfg.BackoffBase, float64(attempt))
	if rateLimited {
		secs *= 2
	}
	return time.Duration(secs * float64(time.Second))
}

// obtain runs the construction ladder for one kind: primary with retries,
// then one attempt per fallback entry. build must validate nothing itself;
// key presence is checked here before each attempt.
func (f *Factory) obtain(ctx context.Context, kind Kind, primary ChainEntry, build func(ChainEntry) (any, error)) (any, []string, error) {
	var attempted []string
	var lastErr error

	if f.key(primary.Provider) == "" {
		lastErr = fmt.Errorf("no api key for %q", primary.Provider)
		f.logger.Warn("skipping primary provider", "kind", kind, "provider", primary.Provider, "error", lastErr)
	} else {
		attempted = append(attempted, primary.Provider)
		for attempt := 0; attempt < f.cfg.Attempts; attempt++ {
			v, err := build(primary)
			if err == nil {
				return v, attempted, nil
			}
			lastErr = err
			rateLimited := IsRateLimited(err)
			f.logger.Warn("service construction failed",
				"kind", kind, "provider", primary.Provider,
				"attempt", attempt+1, "rate_limited", rateLimited, "error", err)
			if attempt < f.cfg.Attempts-1 {
				f.sleep(ctx, f.backoff(attempt, rateLimited))
				if ctx.Err() != nil {
					return nil, attempted, ctx.Err()
				}
			}
		}
	}

	for _, entry := range f.cfg.Chains.forKind(kind) {
		if entry == primary {
			continue
		}
		if f.key(entry.Provider) == "" {
			continue
		}
		attempted = append(attempted, entry.Provider)
		v, err := build(entry)
		if err == nil {
			f.logger.Info("fallback provider succeeded", "kind", kind, "provider", entry.Provider)
			return v, attempted, nil
		}
		lastErr = err
		f.logger.Warn("fallback provider failed", "kind", kind, "provider", entry.Provider, "error", err)
	}

	return nil, attempted, lastErr
}

// STT returns a speech-to-text service for the requested configuration.
func (f *Factory) STT(ctx context.Context, provider, model, language string) (*STTService, error) {
	if language == "" {
		language = "en"
	}
	sig := STTSignature(provider, model, language)
	if svc, ok := f.cache.GetSTT(sig); ok {
		return svc, nil
	}

	primary := ChainEntry{Provider: provider, Model: model, Language: language}
	build := func(e ChainEntry) (any, error) {
		p, err := stt.New(e.Provider, f.key(e.Provider))
		if err != nil {
			return nil, err
		}
		svc := &STTService{Provider: p, Model: e.Model, Language: e.Language}
		if svc.Model == "" {
			svc.Model = model
		}
		if svc.Language == "" {
			svc.Language = language
		}
		return svc, nil
	}

	v, _, err := f.obtain(ctx, KindSTT, primary, build)
	if err != nil {
		// Last resort: deepgram with defaults.
		f.logger.Warn("using last-resort stt", "error", err)
		svc := &STTService{Provider: stt.NewDeepgram(f.key("deepgram")), Model: "nova-2", Language: language}
		f.cache.PutSTT(sig, svc)
		return svc, nil
	}
	svc := v.(*STTService)
	f.cache.PutSTT(sig, svc)
	return svc, nil
}

// LLM returns a language-model service for the requested configuration.
func (f *Factory) LLM(ctx context.Context, provider, model string) (*LLMService, error) {
	sig := LLMSignature(provider, model)
	if svc, ok := f.cache.GetLLM(sig); ok {
		return svc, nil
	}

	primary := ChainEntry{Provider: provider, Model: model}
	build := func(e ChainEntry) (any, error) {
		p, err := llm.New(e.Provider, f.key(e.Provider))
		if err != nil {
			return nil, err
		}
		svc := &LLMService{Provider: p, Model: e.Model}
		if svc.Model == "" {
			svc.Model = model
		}
		return svc, nil
	}

	v, attempted, err := f.obtain(ctx, KindLLM, primary, build)
	if err != nil {
		// Last resort: openai gpt-4o-mini.
		f.logger.Warn("using last-resort llm", "error", err)
		attempted = append(attempted, "openai")
		p, lrErr := llm.New("openai", f.key("openai"))
		if lrErr != nil {
			return nil, &UnavailableError{Kind: KindLLM, Attempted: attempted, Err: lrErr}
		}
		svc := &LLMService{Provider: p, Model: "gpt-4o-mini"}
		f.cache.PutLLM(sig, svc)
		return svc, nil
	}
	svc := v.(*LLMService)
	f.cache.PutLLM(sig, svc)
	return svc, nil
}

// TTS returns a text-to-speech service for the requested configuration.
func (f *Factory) TTS(ctx context.Context, provider, voice string) (*TTSService, error) {
	sig := TTSSignature(provider, voice)
	if svc, ok := f.cache.GetTTS(sig); ok {
		return svc, nil
	}

	primary := ChainEntry{Provider: provider, Voice: voice}
	build := func(e ChainEntry) (any, error) {
		p, err := tts.New(e.Provider, f.key(e.Provider))
		if err != nil {
			return nil, err
		}
		svc := &TTSService{Provider: p, Voice: e.Voice}
		if svc.Voice == "" {
			svc.Voice = voice
		}
		return svc, nil
	}

	v, attempted, err := f.obtain(ctx, KindTTS, primary, build)
	if err != nil {
		// Last resort: cartesia when a key is present, openai otherwise.
		f.logger.Warn("using last-resort tts", "error", err)
		if f.key("cartesia") != "" {
			svc := &TTSService{Provider: tts.NewCartesia(f.key("cartesia")), Voice: tts.DefaultCartesiaVoice}
			f.cache.PutTTS(sig, svc)
			return svc, nil
		}
		attempted = append(attempted, "openai")
		p, lrErr := tts.NewOpenAI(f.key("openai"))
		if lrErr != nil {
			return nil, &UnavailableError{Kind: KindTTS, Attempted: attempted, Err: lrErr}
		}
		svc := &TTSService{Provider: p, Voice: "alloy"}
		f.cache.PutTTS(sig, svc)
		return svc, nil
	}
	svc := v.(*TTSService)
	f.cache.PutTTS(sig, svc)
	return svc, nil
}
