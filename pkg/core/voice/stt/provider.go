// Package stt provides the speech-to-text capability for call sessions.
// Providers register themselves in a lookup table keyed by name so the
// service factory can construct them on demand.
package stt

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts a complete audio recording to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)

	// NewStream opens a live transcription session. Audio is sent
	// incrementally and deltas are received as they are recognized.
	NewStream(ctx context.Context, opts TranscribeOptions) (*Stream, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // provider-specific model
	Language   string // ISO language code (default "en")
	Format     string // audio format hint (wav, mp3, pcm_s16le, ...)
	SampleRate int    // audio sample rate in Hz
}

// Transcript is the result of one-shot transcription.
type Transcript struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
}

// TranscriptDelta is a live transcription update.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}

// Stream is a live transcription session. Implementations feed deltas
// through the channel returned by Deltas and close it when the session
// ends.
type Stream struct {
	deltas chan TranscriptDelta
	done   chan struct{}
	once   sync.Once

	// Hooks wired by the provider.
	SendFunc     func(data []byte) error
	FinalizeFunc func() error
	CloseFunc    func() error
}

// NewStream creates the shared stream scaffolding for providers.
func NewStream() *Stream {
	return &Stream{
		deltas: make(chan TranscriptDelta, 100),
		done:   make(chan struct{}),
	}
}

// SendAudio feeds audio into the session.
func (s *Stream) SendAudio(data []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("stt stream closed")
	default:
	}
	if s.SendFunc != nil {
		return s.SendFunc(data)
	}
	return nil
}

// Finalize flushes buffered audio without closing the session.
func (s *Stream) Finalize() error {
	if s.FinalizeFunc != nil {
		return s.FinalizeFunc()
	}
	return nil
}

// Deltas returns the channel of transcript updates.
func (s *Stream) Deltas() <-chan TranscriptDelta { return s.deltas }

// Done returns a channel closed when the session ends.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close ends the session. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		if s.CloseFunc != nil {
			err = s.CloseFunc()
		}
		close(s.done)
	})
	return err
}

// Push delivers a delta to the consumer. Returns false if the stream is
// closed.
func (s *Stream) Push(delta TranscriptDelta) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.deltas <- delta:
		return true
	case <-s.done:
		return false
	}
}

// FinishDeltas closes the delta channel once the provider read loop ends.
func (s *Stream) FinishDeltas() { close(s.deltas) }

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
		return nil, fmt.Errorf("unknown stt provider %q", name)
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
