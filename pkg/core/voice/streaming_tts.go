// Package voice provides sentence-level chunking and streaming speech
// synthesis on top of the tts providers.
package voice

import (
	"context"
	"fmt"

	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/tts"
)

// AudioSink receives synthesized audio chunks in playback order.
type AudioSink func(ctx context.Context, audio []byte) error

// SpeechStreamer chunks incoming text into sentences and synthesizes each
// one as soon as it completes, forwarding audio to the sink. Synthesizing
// per sentence keeps time-to-first-audio low for long utterances.
type SpeechStreamer struct {
	provider tts.Provider
	opts     tts.SynthesizeOptions
	sink     AudioSink
	buf      *SentenceBuffer
}

// NewSpeechStreamer creates a streamer that voices text through provider
// and delivers audio to sink.
func NewSpeechStreamer(provider tts.Provider, opts tts.SynthesizeOptions, sink AudioSink) *SpeechStreamer {
	return &SpeechStreamer{
		provider: provider,
		opts:     opts,
		sink:     sink,
		buf:      NewSentenceBuffer(),
	}
}

// AddText appends a text delta and voices every sentence that completed.
func (s *SpeechStreamer) AddText(ctx context.Context, delta string) error {
	for _, sentence := range s.buf.Add(delta) {
		if err := s.speak(ctx, sentence); err != nil {
			return err
		}
	}
	return nil
}

// Flush voices whatever text remains buffered, complete sentence or not.
func (s *SpeechStreamer) Flush(ctx context.Context) error {
	rest := s.buf.Flush()
	if rest == "" {
		return nil
	}
	return s.speak(ctx, rest)
}

// Say voices a complete utterance: the text plus any buffered remainder.
func (s *SpeechStreamer) Say(ctx context.Context, text string) error {
	if err := s.AddText(ctx, text); err != nil {
		return err
	}
	return s.Flush(ctx)
}

func (s *SpeechStreamer) speak(ctx context.Context, sentence string) error {
	if s.provider == nil {
		return fmt.Errorf("no tts provider")
	}
	stream, err := s.provider.SynthesizeStream(ctx, sentence, s.opts)
	if err != nil {
		// Streaming endpoints are flakier than the one-shot path; fall
		// back before giving up on the sentence.
		syn, synErr := s.provider.Synthesize(ctx, sentence, s.opts)
		if synErr != nil {
			return fmt.Errorf("synthesize %q: %w", sentence, err)
		}
		return s.sink(ctx, syn.Audio)
	}
	defer stream.Close()

	for chunk := range stream.Chunks() {
		if err := s.sink(ctx, chunk); err != nil {
			return err
		}
	}
	return stream.Err()
}
