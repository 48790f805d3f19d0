package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-3"
)

// DefaultCartesiaVoice is used when no voice is configured.
const DefaultCartesiaVoice = "a0e99841-438c-4a64-b679-ae501e7d6091"

func init() {
	Register("cartesia", func(apiKey string) (Provider, error) {
		return NewCartesia(apiKey), nil
	})
}

// CartesiaProvider implements the TTS Provider interface using Cartesia's
// sonic API.
type CartesiaProvider struct {
	apiKey     string
	httpClient *http.Client
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string { return "cartesia" }

// Synthesize converts text to audio in one shot.
func (c *CartesiaProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	reqBody := c.buildRequest(text, opts)

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cartesiaBaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return &Synthesis{Audio: audio, Format: normalizeFormat(opts.Format)}, nil
}

// SynthesizeStream converts text to streaming audio over Cartesia's
// websocket endpoint.
func (c *CartesiaProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	u, err := url.Parse(cartesiaWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	wsReq := c.buildRequest(text, opts)
	wsReq.ContextID = nextContextID()
	if err := conn.WriteJSON(wsReq); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				stream.SetError(ctx.Err())
				return
			case <-stream.done:
				return
			default:
			}

			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				stream.SetError(err)
				return
			}

			switch msg.Type {
			case "chunk":
				audio, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					stream.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if !stream.Send(audio) {
					return
				}
			case "done":
				return
			case "error":
				stream.SetError(fmt.Errorf("cartesia error: %s", msg.Error))
				return
			}
		}
	}()

	return stream, nil
}

func (c *CartesiaProvider) buildRequest(text string, opts SynthesizeOptions) *cartesiaTTSRequest {
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = DefaultCartesiaVoice
	}

	req := &cartesiaTTSRequest{
		ModelID:    cartesiaModel,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: voiceID},
	}

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	switch opts.Format {
	case "mp3":
		req.OutputFormat = cartesiaOutputFormat{Container: "mp3", SampleRate: sampleRate, BitRate: 128000}
	case "pcm", "raw":
		req.OutputFormat = cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: sampleRate}
	default:
		req.OutputFormat = cartesiaOutputFormat{Container: "wav", Encoding: "pcm_s16le", SampleRate: sampleRate}
	}

	if opts.Speed != 0 {
		req.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if opts.Language != "" {
		req.Language = &opts.Language
	}
	return req
}

type cartesiaTTSRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	Language         *string                   `json:"language,omitempty"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	ContextID        string                    `json:"context_id,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

type cartesiaWSResponse struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}

func normalizeFormat(format string) string {
	switch format {
	case "mp3", "pcm", "raw", "wav":
		return format
	default:
		return "wav"
	}
}
