package services

import (
	"fmt"
	"testing"
	"time"
)

func TestSignatures(t *testing.T) {
	if got := STTSignature("deepgram", "nova-2", "en"); got != "stt:deepgram:nova-2:en" {
		t.Errorf("STTSignature = %q", got)
	}
	if got := LLMSignature("openai", "gpt-4o"); got != "llm:openai:gpt-4o" {
		t.Errorf("LLMSignature = %q", got)
	}
	if got := TTSSignature("cartesia", "v-1"); got != "tts:cartesia:v-1" {
		t.Errorf("TTSSignature = %q", got)
	}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache()

	if _, ok := c.GetLLM("llm:openai:gpt-4o"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	svc := &LLMService{Model: "gpt-4o"}
	c.PutLLM("llm:openai:gpt-4o", svc)

	got, ok := c.GetLLM("llm:openai:gpt-4o")
	if !ok || got != svc {
		t.Fatal("expected cached handle back")
	}
	if c.Len(KindLLM) != 1 {
		t.Errorf("Len = %d, want 1", c.Len(KindLLM))
	}
}

func TestCacheClearStaleKeepsNewest(t *testing.T) {
	c := NewCache()
	clock := time.Now()
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 5; i++ {
		c.PutLLM(fmt.Sprintf("llm:openai:model-%d", i), &LLMService{Model: fmt.Sprintf("model-%d", i)})
	}
	c.PutTTS("tts:cartesia:v-1", &TTSService{Voice: "v-1"})

	evicted := c.ClearStale(2)
	if evicted != 3 {
		t.Fatalf("evicted = %d, want 3", evicted)
	}
	if c.Len(KindLLM) != 2 {
		t.Errorf("llm entries = %d, want 2", c.Len(KindLLM))
	}
	// Other kinds under the limit are untouched.
	if c.Len(KindTTS) != 1 {
		t.Errorf("tts entries = %d, want 1", c.Len(KindTTS))
	}

	// The two most recently used survive.
	if _, ok := c.GetLLM("llm:openai:model-4"); !ok {
		t.Error("newest entry evicted")
	}
	if _, ok := c.GetLLM("llm:openai:model-3"); !ok {
		t.Error("second newest entry evicted")
	}
	if _, ok := c.GetLLM("llm:openai:model-0"); ok {
		t.Error("oldest entry survived")
	}
}

func TestCacheGetTouchesLastUsed(t *testing.T) {
	c := NewCache()
	clock := time.Now()
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	c.PutLLM("llm:a:m", &LLMService{})
	c.PutLLM("llm:b:m", &LLMService{})

	// Touch the older entry so it becomes the newest.
	if _, ok := c.GetLLM("llm:a:m"); !ok {
		t.Fatal("missing entry")
	}

	c.ClearStale(1)
	if _, ok := c.GetLLM("llm:a:m"); !ok {
		t.Error("touched entry was evicted")
	}
	if _, ok := c.GetLLM("llm:b:m"); ok {
		t.Error("untouched entry survived")
	}
}

func TestDefaultCacheSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different caches")
	}
}
