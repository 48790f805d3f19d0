// Package tts provides the text-to-speech capability for call sessions.
// Providers register themselves in a lookup table keyed by name so the
// service factory can construct them on demand.
package tts

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio in one shot.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)

	// SynthesizeStream converts text to audio delivered in chunks as it
	// is generated.
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // voice identifier
	Speed      float64 // speed multiplier
	Language   string  // language code
	Format     string  // "wav", "mp3", or "pcm"
	SampleRate int     // sample rate in Hz
}

// Synthesis is the result of one-shot synthesis.
type Synthesis struct {
	Audio  []byte
	Format string
}

// SynthesisStream delivers audio chunks as they are generated.
type SynthesisStream struct {
	chunks chan []byte
	err    error
	done   chan struct{}
	once   sync.Once
}

// NewSynthesisStream creates the shared stream scaffolding for providers.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 100),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks.
func (s *SynthesisStream) Chunks() <-chan []byte { return s.chunks }

// Err blocks until the stream ends and returns any error.
func (s *SynthesisStream) Err() error {
	<-s.done
	return s.err
}

// Close ends the stream. Safe to call more than once.
func (s *SynthesisStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// SetError records the stream error. Called by providers before Close.
func (s *SynthesisStream) SetError(err error) { s.err = err }

// Send delivers a chunk to the consumer. Returns false if the stream is
// closed.
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunk channel to signal completion.
func (s *SynthesisStream) FinishSending() { close(s.chunks) }

// Constructor builds a provider from an API key.
type Constructor func(apiKey string) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds a provider constructor to the lookup table.
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
		return nil, fmt.Errorf("unknown tts provider %q", name)
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
