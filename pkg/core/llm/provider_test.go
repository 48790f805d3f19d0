package llm

import (
	"context"
	"testing"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (*Completion, error) {
	return &Completion{Text: "ok"}, nil
}

func TestRegistryLookup(t *testing.T) {
	Register("stub", func(apiKey string) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	})

	p, err := New("stub", "key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if p.Name() != "stub" {
		t.Errorf("Name() = %q, want stub", p.Name())
	}
}

func TestRegistryUnknown(t *testing.T) {
	if _, err := New("no-such-provider", "key"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestBuiltinProvidersRegistered(t *testing.T) {
	names := Providers()
	want := map[string]bool{"openai": false, "gemini": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("provider %q not registered", n)
		}
	}
}

func TestConstructorRejectsEmptyKey(t *testing.T) {
	if _, err := NewOpenAI(""); err == nil {
		t.Error("NewOpenAI accepted empty key")
	}
	if _, err := NewGemini(""); err == nil {
		t.Error("NewGemini accepted empty key")
	}
}
