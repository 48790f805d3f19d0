package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	Register("openai", func(apiKey string) (Provider, error) {
		return NewOpenAI(apiKey)
	})
}

// OpenAIProvider implements the TTS Provider interface using the OpenAI
// speech API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI creates an OpenAI TTS provider.
func NewOpenAI(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: missing api key")
	}
	return &OpenAIProvider{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Synthesize converts text to audio in one shot.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, opts))
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return &Synthesis{Audio: audio, Format: normalizeFormat(opts.Format)}, nil
}

// SynthesizeStream converts text to audio delivered in chunks as the
// response body arrives.
func (p *OpenAIProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, opts))
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !stream.Send(chunk) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				stream.SetError(err)
				return
			}
		}
	}()

	return stream, nil
}

func (p *OpenAIProvider) buildParams(text string, opts SynthesizeOptions) openai.AudioSpeechNewParams {
	voice := opts.Voice
	if voice == "" {
		voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}

	params := openai.AudioSpeechNewParams{
		Model: openai.SpeechModelTTS1,
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoice(voice),
	}
	switch opts.Format {
	case "mp3":
		params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatMP3
	case "pcm", "raw":
		params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatPCM
	default:
		params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormatWAV
	}
	if opts.Speed != 0 {
		params.Speed = openai.Float(opts.Speed)
	}
	return params
}
