// Package llm provides the language-model capability used by call agents.
// Each provider implements Provider; construction goes through the
// registry so the service factory can look providers up by name.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the interface for chat completion services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Chat runs a completion over the conversation so far.
	Chat(ctx context.Context, msgs []Message, opts ChatOptions) (*Completion, error)
}

// Message is one chat turn.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ChatOptions configures a completion request.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is the result of a chat request.
type Completion struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Constructor builds a provider from an API key.
type Constructor func(apiKey string) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds a provider constructor to the lookup table. Called from
// provider init functions.
func Register(name string, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// New constructs the named provider.
func New(name, apiKey string) (Provider, error) {
	registryMu.RLock()
	fn, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	return fn(apiKey)
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
