package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/core/llm"
	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/stt"
	"github.com/parvbhullar/unpod-sub001/pkg/transport"
)

type fakeLLM struct {
	mu    sync.Mutex
	calls [][]llm.Message
	reply string
	err   error
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Chat(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]llm.Message(nil), msgs...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{
		Text:             f.reply,
		FinishReason:     "stop",
		PromptTokens:     12,
		CompletionTokens: 7,
	}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) lastMessages() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakeChecker struct {
	mu       sync.Mutex
	calls    int
	complete bool
}

func (f *fakeChecker) CheckTurnComplete(ctx context.Context, transcript string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.complete, nil
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// echoSTT recognizes every audio chunk as the same final utterance.
type echoSTT struct {
	utterance string
}

func (e *echoSTT) Name() string { return "echo" }

func (e *echoSTT) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	return &stt.Transcript{Text: e.utterance}, nil
}

func (e *echoSTT) NewStream(ctx context.Context, opts stt.TranscribeOptions) (*stt.Stream, error) {
	stream := stt.NewStream()
	stream.SendFunc = func(data []byte) error {
		stream.Push(stt.TranscriptDelta{Text: e.utterance, IsFinal: true})
		return nil
	}
	return stream, nil
}

func withBrain(brain *fakeLLM) func(*Options) {
	return func(o *Options) {
		o.LLM = &services.LLMService{Provider: brain, Model: "gpt-4o"}
	}
}

func TestSession_UserTurnGetsSpokenReply(t *testing.T) {
	brain := &fakeLLM{reply: "I can check that order for you."}
	fx := newSessionFixture(t, call.Config{
		CallType:     call.TypeInbound,
		SystemPrompt: "You are a support agent for Acme Internet.",
	}, map[string]string{transport.AttrCallStatus: transport.CallStatusActive}, withBrain(brain))
	fx.run(t)
	waitFor(t, 2*time.Second, func() bool { return fx.sess.Status() == call.StatusActive }, "active")

	fx.room.Emit(transport.UserSpeechEvent{Identity: "caller", Text: "I'd like to check on my order.", Final: true})

	waitFor(t, 2*time.Second, func() bool { return len(fx.speaker.all()) >= 1 }, "reply spoken")
	if got := fx.speaker.all()[0]; got != brain.reply {
		t.Fatalf("spoken=%q, want %q", got, brain.reply)
	}

	waitFor(t, 2*time.Second, func() bool { return len(fx.sess.Metrics().Log().Samples) >= 1 }, "latency sample")
	log := fx.sess.Metrics().Log()
	if log.Usage.TotalTokens != 19 {
		t.Fatalf("usage=%+v, want 19 total tokens", log.Usage)
	}
	sample := log.Samples[0]
	if sample.LLM < 0 || sample.TTS < 0 || sample.Total <= 0 {
		t.Fatalf("sample=%+v, want positive total", sample)
	}

	msgs := brain.lastMessages()
	if len(msgs) < 2 || msgs[0].Role != "system" {
		t.Fatalf("messages=%+v, want system prompt first", msgs)
	}
	if msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != "I'd like to check on my order." {
		t.Fatalf("messages=%+v, want user turn last", msgs)
	}

	fx.sess.Cancel()
	fx.waitDone(t)

	// The reply is on the persisted transcript.
	res := fx.results.last()
	if res == nil {
		t.Fatal("no result persisted")
	}
	var sawReply bool
	for _, item := range res.Transcript {
		if item.Role == "assistant" && item.Content == brain.reply {
			sawReply = true
		}
	}
	if !sawReply {
		t.Fatalf("transcript=%+v, missing agent reply", res.Transcript)
	}
	if res.Quality.AgentTurns != 1 {
		t.Fatalf("quality=%+v, want one observed agent turn", res.Quality)
	}
}

func TestSession_KnowledgeNotesGatedByFlag(t *testing.T) {
	ask := func(t *testing.T, cfg call.Config) []llm.Message {
		t.Helper()
		brain := &fakeLLM{reply: "Our store opens at nine."}
		fx := newSessionFixture(t, cfg, map[string]string{
			transport.AttrCallStatus: transport.CallStatusActive,
		}, withBrain(brain))
		fx.run(t)
		waitFor(t, 2*time.Second, func() bool { return fx.sess.Status() == call.StatusActive }, "active")
		fx.room.Emit(transport.UserSpeechEvent{Identity: "caller", Text: "When do you open?", Final: true})
		waitFor(t, 2*time.Second, func() bool { return brain.callCount() >= 1 }, "model consulted")
		fx.sess.Cancel()
		fx.waitDone(t)
		return brain.lastMessages()
	}

	notes := map[string]string{"knowledge": "Store hours: 9am-6pm weekdays."}

	with := ask(t, call.Config{
		CallType:     call.TypeInbound,
		SystemPrompt: "You are a store assistant.",
		UseRAG:       true,
		Metadata:     notes,
	})
	if len(with) < 3 || with[1].Role != "system" || !strings.Contains(with[1].Content, "Store hours") {
		t.Fatalf("messages=%+v, want knowledge notes as second system message", with)
	}

	without := ask(t, call.Config{
		CallType:     call.TypeInbound,
		SystemPrompt: "You are a store assistant.",
		Metadata:     notes,
	})
	for _, msg := range without {
		if strings.Contains(msg.Content, "Store hours") {
			t.Fatalf("messages=%+v, knowledge notes leaked without the flag", without)
		}
	}
}

func TestSession_UnpunctuatedTurnCommitsAfterSilence(t *testing.T) {
	brain := &fakeLLM{reply: "Let's restart your router together."}
	fx := newSessionFixture(t, call.Config{
		CallType: call.TypeInbound,
	}, map[string]string{transport.AttrCallStatus: transport.CallStatusActive}, withBrain(brain))
	fx.run(t)
	waitFor(t, 2*time.Second, func() bool { return fx.sess.Status() == call.StatusActive }, "active")

	// No trailing punctuation, so only the silence window commits the turn.
	fx.room.Emit(transport.UserSpeechEvent{Identity: "caller", Text: "my internet keeps dropping", Final: true})

	waitFor(t, 3*time.Second, func() bool { return len(fx.speaker.all()) >= 1 }, "reply after silence")

	fx.sess.Cancel()
	fx.waitDone(t)
}

func TestSession_IncompleteTurnForceCommits(t *testing.T) {
	brain := &fakeLLM{reply: "Go on, I'm listening."}
	checker := &fakeChecker{complete: false}
	fx := newSessionFixture(t, call.Config{
		CallType: call.TypeInbound,
	}, map[string]string{transport.AttrCallStatus: transport.CallStatusActive}, withBrain(brain), func(o *Options) {
		o.Checker = checker
	})
	fx.run(t)
	waitFor(t, 2*time.Second, func() bool { return fx.sess.Status() == call.StatusActive }, "active")

	fx.room.Emit(transport.UserSpeechEvent{Identity: "caller", Text: "I was calling about the invoice.", Final: true})

	// The checker judges the turn incomplete, so the reply only comes
	// once the silence window force-commits it.
	waitFor(t, 4*time.Second, func() bool { return len(fx.speaker.all()) >= 1 }, "forced reply")
	if checker.callCount() == 0 {
		t.Fatal("turn checker never consulted")
	}

	fx.sess.Cancel()
	fx.waitDone(t)
}

func TestSession_ReplyFailureKeepsListening(t *testing.T) {
	brain := &fakeLLM{err: errors.New("model overloaded")}
	fx := newSessionFixture(t, call.Config{
		CallType: call.TypeInbound,
	}, map[string]string{transport.AttrCallStatus: transport.CallStatusActive}, withBrain(brain))
	fx.run(t)
	waitFor(t, 2*time.Second, func() bool { return fx.sess.Status() == call.StatusActive }, "active")

	fx.room.Emit(transport.UserSpeechEvent{Identity: "caller", Text: "Can you hear me?", Final: true})
	waitFor(t, 2*time.Second, func() bool { return brain.callCount() >= 1 }, "model consulted")

	if lines := fx.speaker.all(); len(lines) != 0 {
		t.Fatalf("spoken=%v, want nothing on model failure", lines)
	}
	if got := fx.sess.Status(); got != call.StatusActive {
		t.Fatalf("status=%s, want still active", got)
	}
	// An incomplete turn never flushes a latency sample.
	if samples := fx.sess.Metrics().Log().Samples; len(samples) != 0 {
		t.Fatalf("samples=%v, want none", samples)
	}

	fx.sess.Cancel()
	fx.waitDone(t)
}

func TestSession_StreamedAudioDrivesConversation(t *testing.T) {
	brain := &fakeLLM{reply: "Cancelling that subscription now."}
	recognizer := &echoSTT{utterance: "I want to cancel my subscription."}
	fx := newSessionFixture(t, call.Config{
		CallType: call.TypeInbound,
	}, map[string]string{transport.AttrCallStatus: transport.CallStatusActive}, withBrain(brain), func(o *Options) {
		o.STT = &services.STTService{Provider: recognizer, Model: "nova-2", Language: "en"}
	})
	fx.run(t)
	waitFor(t, 2*time.Second, func() bool { return fx.sess.Status() == call.StatusActive }, "active")

	fx.room.Emit(transport.DataMessageEvent{From: "caller", Payload: []byte("pcm-frame")})

	waitFor(t, 2*time.Second, func() bool { return len(fx.speaker.all()) >= 1 }, "reply spoken")
	waitFor(t, 2*time.Second, func() bool { return len(fx.sess.Metrics().Log().Samples) >= 1 }, "latency sample")

	var sawUser bool
	for _, item := range fx.sess.Transcript() {
		if item.Role == "user" && item.Content == recognizer.utterance {
			sawUser = true
		}
	}
	if !sawUser {
		t.Fatalf("transcript=%+v, missing recognized utterance", fx.sess.Transcript())
	}

	fx.sess.Cancel()
	fx.waitDone(t)
}
