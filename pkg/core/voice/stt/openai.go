package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	Register("openai", func(apiKey string) (Provider, error) {
		return NewOpenAI(apiKey)
	})
}

// OpenAIProvider implements the STT Provider interface using the OpenAI
// audio transcription API. It is HTTP-only; NewStream buffers audio and
// transcribes on finalize.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI creates an OpenAI STT provider.
func NewOpenAI(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: missing api key")
	}
	return &OpenAIProvider{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Transcribe converts a complete audio recording to text.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	model := opts.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(model),
		File:  audio,
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	return &Transcript{Text: resp.Text, Language: opts.Language}, nil
}

// NewStream returns a buffering session: audio accumulates until
// Finalize, which runs one transcription and emits a single final delta.
func (p *OpenAIProvider) NewStream(ctx context.Context, opts TranscribeOptions) (*Stream, error) {
	stream := NewStream()

	var mu sync.Mutex
	var buf bytes.Buffer

	stream.SendFunc = func(data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := buf.Write(data)
		return err
	}
	stream.FinalizeFunc = func() error {
		mu.Lock()
		audio := make([]byte, buf.Len())
		copy(audio, buf.Bytes())
		buf.Reset()
		mu.Unlock()

		if len(audio) == 0 {
			return nil
		}
		t, err := p.Transcribe(ctx, bytes.NewReader(audio), opts)
		if err != nil {
			return err
		}
		if t.Text != "" {
			stream.Push(TranscriptDelta{Text: t.Text, IsFinal: true})
		}
		return nil
	}
	stream.CloseFunc = func() error {
		stream.FinishDeltas()
		return nil
	}

	return stream, nil
}
