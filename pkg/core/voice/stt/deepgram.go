package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramBaseURL = "https://api.deepgram.com/v1/listen"
	deepgramWSURL   = "wss://api.deepgram.com/v1/listen"
)

func init() {
	Register("deepgram", func(apiKey string) (Provider, error) {
		return NewDeepgram(apiKey), nil
	})
}

// DeepgramProvider implements the STT Provider interface using Deepgram's
// listen API.
type DeepgramProvider struct {
	apiKey     string
	httpClient *http.Client
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string { return "deepgram" }

func (d *DeepgramProvider) buildQuery(opts TranscribeOptions) url.Values {
	q := url.Values{}
	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	q.Set("model", model)
	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)
	if opts.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
	}
	switch opts.Format {
	case "pcm_s16le", "linear16", "pcm":
		q.Set("encoding", "linear16")
	case "pcm_mulaw", "mulaw":
		q.Set("encoding", "mulaw")
	}
	return q
}

// Transcribe converts a complete audio recording to text.
func (d *DeepgramProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	u, err := url.Parse(deepgramBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	u.RawQuery = d.buildQuery(opts).Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), audio)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", contentTypeFor(opts.Format))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("deepgram error %d: %s", resp.StatusCode, string(body))
	}

	var dgResp deepgramTranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&dgResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	t := &Transcript{
		Language: opts.Language,
		Duration: dgResp.Metadata.Duration,
	}
	if len(dgResp.Results.Channels) > 0 && len(dgResp.Results.Channels[0].Alternatives) > 0 {
		t.Text = dgResp.Results.Channels[0].Alternatives[0].Transcript
	}
	return t, nil
}

type deepgramTranscriptionResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// NewStream opens a live transcription session over Deepgram's websocket.
func (d *DeepgramProvider) NewStream(ctx context.Context, opts TranscribeOptions) (*Stream, error) {
	u, err := url.Parse(deepgramWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := d.buildQuery(opts)
	q.Set("interim_results", "true")
	if q.Get("encoding") == "" {
		q.Set("encoding", "linear16")
	}
	if opts.SampleRate == 0 {
		q.Set("sample_rate", "16000")
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	stream := NewStream()
	var writeMu sync.Mutex

	stream.SendFunc = func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}
	stream.FinalizeFunc = func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
	}
	stream.CloseFunc = func() error {
		writeMu.Lock()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		return conn.Close()
	}

	go func() {
		defer stream.FinishDeltas()
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stream.Done():
				return
			default:
			}

			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg deepgramStreamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			switch msg.Type {
			case "Results":
				if len(msg.Channel.Alternatives) == 0 {
					continue
				}
				text := msg.Channel.Alternatives[0].Transcript
				if text == "" {
					continue
				}
				if !stream.Push(TranscriptDelta{Text: text, IsFinal: msg.IsFinal}) {
					return
				}
			case "Metadata", "SpeechStarted", "UtteranceEnd":
				continue
			}
		}
	}()

	return stream, nil
}

type deepgramStreamMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func contentTypeFor(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
