// Package services provides the shared capability cache and the retrying,
// fallback-aware factory that call sessions use to obtain STT, LLM, and
// TTS services.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/live"
	"github.com/parvbhullar/unpod-sub001/pkg/core/llm"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/stt"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/tts"
)

// STTService is a constructed speech-to-text handle with its bound
// configuration. Fallbacks may change the effective model.
type STTService struct {
	Provider stt.Provider
	Model    string
	Language string
}

// LLMService is a constructed language-model handle.
type LLMService struct {
	Provider llm.Provider
	Model    string
}

// TTSService is a constructed text-to-speech handle.
type TTSService struct {
	Provider tts.Provider
	Voice    string
}

// STTSignature builds the cache key for an STT configuration.
func STTSignature(provider, model, language string) string {
	return fmt.Sprintf("stt:%s:%s:%s", provider, model, language)
}

// LLMSignature builds the cache key for an LLM configuration.
func LLMSignature(provider, model string) string {
	return fmt.Sprintf("llm:%s:%s", provider, model)
}

// TTSSignature builds the cache key for a TTS configuration.
func TTSSignature(provider, voice string) string {
	return fmt.Sprintf("tts:%s:%s", provider, voice)
}

type cacheEntry struct {
	kind     Kind
	value    any
	lastUsed time.Time
}

// Cache holds constructed service handles keyed by configuration
// signature, plus pinned resources loaded once at process start. A single
// mutex guards everything; entries carry last-used timestamps so stale
// handles can be trimmed between calls. Pinned resources are never
// evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	embedder *Embedder
	checker  live.SemanticChecker

	now func() time.Time
}

// NewCache creates an empty service cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// Default returns the process-wide service cache.
func Default() *Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewCache()
	})
	return defaultCache
}

func (c *Cache) get(sig string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sig]
	if !ok {
		return nil, false
	}
	e.lastUsed = c.now()
	return e.value, true
}

func (c *Cache) put(kind Kind, sig string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sig] = &cacheEntry{kind: kind, value: value, lastUsed: c.now()}
}

// GetSTT returns a cached STT handle, touching its last-used time.
func (c *Cache) GetSTT(sig string) (*STTService, bool) {
	v, ok := c.get(sig)
	if !ok {
		return nil, false
	}
	svc, ok := v.(*STTService)
	return svc, ok
}

// PutSTT stores an STT handle under its signature.
func (c *Cache) PutSTT(sig string, svc *STTService) { c.put(KindSTT, sig, svc) }

// GetLLM returns a cached LLM handle, touching its last-used time.
func (c *Cache) GetLLM(sig string) (*LLMService, bool) {
	v, ok := c.get(sig)
	if !ok {
		return nil, false
	}
	svc, ok := v.(*LLMService)
	return svc, ok
}

// PutLLM stores an LLM handle under its signature.
func (c *Cache) PutLLM(sig string, svc *LLMService) { c.put(KindLLM, sig, svc) }

// GetTTS returns a cached TTS handle, touching its last-used time.
func (c *Cache) GetTTS(sig string) (*TTSService, bool) {
	v, ok := c.get(sig)
	if !ok {
		return nil, false
	}
	svc, ok := v.(*TTSService)
	return svc, ok
}

// PutTTS stores a TTS handle under its signature.
func (c *Cache) PutTTS(sig string, svc *TTSService) { c.put(KindTTS, sig, svc) }

// Len returns the number of cached handles for a kind.
func (c *Cache) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// ClearStale trims each kind down to the maxPerKind most recently used
// handles and returns the number evicted. Pinned resources are untouched.
// Called after every session teardown.
func (c *Cache) ClearStale(maxPerKind int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	type keyed struct {
		sig      string
		lastUsed time.Time
	}
	byKind := map[Kind][]keyed{}
	for sig, e := range c.entries {
		byKind[e.kind] = append(byKind[e.kind], keyed{sig, e.lastUsed})
	}

	evicted := 0
	for _, list := range byKind {
		if len(list) <= maxPerKind {
			continue
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].lastUsed.After(list[j].lastUsed)
		})
		for _, k := range list[maxPerKind:] {
			delete(c.entries, k.sig)
			evicted++
		}
	}
	return evicted
}

// PrewarmConfig configures the pinned resources loaded at process start.
type PrewarmConfig struct {
	OpenAIKey      string
	EmbeddingModel string
	CheckerModel   string
}

// Prewarm loads the pinned resources: the embedding function and the
// turn-completion checker shared by every session. Safe to call more than
// once; later calls replace the pinned handles.
func (c *Cache) Prewarm(ctx context.Context, cfg PrewarmConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := NewEmbedder(cfg.OpenAIKey, cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("prewarm embedder: %w", err)
	}

	checkerModel := cfg.CheckerModel
	if checkerModel == "" {
		checkerModel = "gpt-4o-mini"
	}
	provider, err := llm.New("openai", cfg.OpenAIKey)
	if err != nil {
		return fmt.Errorf("prewarm checker: %w", err)
	}
	checker := live.NewDefaultSemanticChecker(func(ctx context.Context, transcript string) (bool, error) {
		resp, err := provider.Chat(ctx, []llm.Message{
			{Role: "user", Content: fmt.Sprintf(live.TurnCompletePrompt, transcript)},
		}, llm.ChatOptions{Model: checkerModel, MaxTokens: 4})
		if err != nil {
			return false, err
		}
		return live.ParseTurnCompleteResponse(resp.Text), nil
	})

	c.mu.Lock()
	c.embedder = embedder
	c.checker = checker
	c.mu.Unlock()

	logger.Info("service cache prewarmed",
		"embedding_model", embedder.Model(),
		"checker_model", checkerModel)
	return nil
}

// Embedder returns the pinned embedding function, or nil before Prewarm.
func (c *Cache) Embedder() *Embedder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedder
}

// Checker returns the pinned turn-completion checker, or nil before
// Prewarm.
func (c *Cache) Checker() live.SemanticChecker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checker
}
