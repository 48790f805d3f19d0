package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/core/live"
	"github.com/parvbhullar/unpod-sub001/pkg/core/llm"
	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/stt"
)

// Utterances from the transport arrive already end-pointed, so the turn
// detector only has to decide whether the user is done with the whole
// turn. A short silence window keeps unpunctuated turns moving.
const turnSilenceTimeout = 800 * time.Millisecond

// responder runs the conversational turn loop for a session: it feeds
// user speech into the turn detector, and on each committed turn asks
// the language model for a reply and voices it through the speaker,
// recording per-component latencies and token usage along the way.
type responder struct {
	s        *Session
	llm      *services.LLMService
	stt      *services.STTService
	detector *live.TurnDetector
	logger   *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	stream      *stt.Stream
	streamTried bool
	heardAt     time.Time
	lastAudioAt time.Time
	sttMS       float64
	hasSTT      bool
}

func newResponder(s *Session, llmSvc *services.LLMService, sttSvc *services.STTService, checker live.SemanticChecker) *responder {
	cfg := live.DefaultTurnConfig()
	cfg.NoActivityTimeout = turnSilenceTimeout
	cfg.MinWordsForCheck = 1
	cfg.SemanticCheck = checker != nil

	r := &responder{
		s:        s,
		llm:      llmSvc,
		stt:      sttSvc,
		detector: live.NewTurnDetector(cfg, checker),
		logger:   s.logger,
	}
	r.detector.SetCallbacks(
		func(transcript string) {
			r.logger.Debug("checking turn completeness", "chars", len(transcript))
		},
		r.onTurn,
	)
	return r
}

// Start begins turn detection. The recognition stream opens lazily on
// the first audio payload, so calls where the transport transcribes
// never hold a recognition session.
func (r *responder) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	r.detector.Start(ctx)
}

// Stop ends turn detection and closes the recognition stream.
func (r *responder) Stop() {
	r.detector.Stop()
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()
	if stream != nil {
		if err := stream.Close(); err != nil {
			r.logger.Warn("recognition stream close failed", "error", err)
		}
	}
}

// hearFinal feeds one end-pointed user utterance into the turn detector.
func (r *responder) hearFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.mu.Lock()
	r.heardAt = time.Now()
	r.mu.Unlock()
	r.detector.AddDelta(text + " ")
}

// hearAudio forwards caller audio to the recognition stream, opening it
// on first use. Only the session event loop calls this.
func (r *responder) hearAudio(data []byte) {
	r.mu.Lock()
	stream := r.stream
	ctx := r.ctx
	r.lastAudioAt = time.Now()
	r.mu.Unlock()

	if stream == nil {
		stream = r.openStream(ctx)
		if stream == nil {
			return
		}
	}
	if err := stream.SendAudio(data); err != nil {
		r.logger.Warn("recognition stream rejected audio", "error", err)
	}
}

// openStream opens the live recognition session once. A provider that
// fails to connect is not retried; the transport's own transcription
// events keep the call usable.
func (r *responder) openStream(ctx context.Context) *stt.Stream {
	r.mu.Lock()
	tried := r.streamTried
	r.streamTried = true
	r.mu.Unlock()
	if tried || ctx == nil || r.stt == nil || r.stt.Provider == nil {
		return nil
	}

	stream, err := r.stt.Provider.NewStream(ctx, stt.TranscribeOptions{
		Model:    r.stt.Model,
		Language: r.stt.Language,
	})
	if err != nil {
		r.logger.Warn("recognition stream unavailable, relying on transport transcription", "error", err)
		return nil
	}
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
	go r.consumeDeltas(stream)
	return stream
}

// consumeDeltas drains the recognition stream. Interim results are
// cosmetic; only finals land on the transcript, carry the measured
// recognition latency, and advance the turn.
func (r *responder) consumeDeltas(stream *stt.Stream) {
	for delta := range stream.Deltas() {
		if !delta.IsFinal {
			continue
		}
		text := strings.TrimSpace(delta.Text)
		if text == "" {
			continue
		}
		r.mu.Lock()
		r.heardAt = time.Now()
		if !r.lastAudioAt.IsZero() {
			r.sttMS = msSince(r.lastAudioAt)
			r.hasSTT = true
		}
		r.mu.Unlock()
		r.s.appendTranscript("user", text)
		r.s.idle.Touch()
		r.detector.AddDelta(text + " ")
	}
}

// onTurn runs once per committed user turn: generate a reply, voice it,
// and record the turn's component timings.
func (r *responder) onTurn(turn string, forced bool) {
	r.mu.Lock()
	ctx := r.ctx
	heard := r.heardAt
	sttMS, hasSTT := r.sttMS, r.hasSTT
	r.sttMS, r.hasSTT = 0, false
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	defer r.detector.Reset()

	r.s.idle.SetBusy(true)
	defer r.s.idle.SetBusy(false)

	r.logger.Debug("user turn committed", "chars", len(turn), "forced", forced)

	// Recognition end-of-utterance delay: measured off the live stream
	// when the session transcribes its own audio, otherwise the gap
	// between the transport's final utterance and the commit.
	switch {
	case hasSTT:
		r.s.metrics.RecordSTT(sttMS)
	case !heard.IsZero():
		r.s.metrics.RecordSTT(msSince(heard))
	default:
		r.s.metrics.RecordSTT(0)
	}

	start := time.Now()
	comp, err := r.llm.Provider.Chat(ctx, r.messages(), llm.ChatOptions{Model: r.llm.Model})
	if err != nil {
		r.logger.Warn("reply generation failed", "error", err)
		return
	}
	r.s.metrics.RecordLLM(msSince(start))
	r.s.metrics.AddUsage(call.Usage{
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
		TotalTokens:      comp.PromptTokens + comp.CompletionTokens,
	})

	reply := strings.TrimSpace(comp.Text)
	if reply == "" {
		return
	}
	start = time.Now()
	if err := r.s.speak(ctx, reply); err != nil {
		r.logger.Warn("reply synthesis failed", "error", err)
		return
	}
	r.s.metrics.RecordTTS(msSince(start))
	r.s.quality.Observe(reply)
	r.s.idle.Touch()
}

// messages builds the completion request from the system prompt and the
// conversation so far.
func (r *responder) messages() []llm.Message {
	items := r.s.Transcript()
	msgs := make([]llm.Message, 0, len(items)+2)
	if prompt := strings.TrimSpace(r.s.cfg.SystemPrompt); prompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: prompt})
	}
	if r.s.cfg.UseRAG {
		if notes := strings.TrimSpace(r.s.cfg.Metadata["knowledge"]); notes != "" {
			msgs = append(msgs, llm.Message{Role: "system", Content: "Reference notes:\n" + notes})
		}
	}
	for _, item := range items {
		switch item.Role {
		case "user", "assistant":
			msgs = append(msgs, llm.Message{Role: item.Role, Content: item.Content})
		}
	}
	return msgs
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
