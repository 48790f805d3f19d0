package stt

import (
	"testing"
)

func TestRegistryProviders(t *testing.T) {
	names := Providers()
	want := map[string]bool{"deepgram": false, "openai": false}
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

func TestRegistryUnknown(t *testing.T) {
	if _, err := New("no-such", "key"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestStreamPushAndClose(t *testing.T) {
	s := NewStream()

	if !s.Push(TranscriptDelta{Text: "hello", IsFinal: false}) {
		t.Fatal("Push returned false on open stream")
	}
	got := <-s.Deltas()
	if got.Text != "hello" || got.IsFinal {
		t.Errorf("delta = %+v", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	if s.Push(TranscriptDelta{Text: "late"}) {
		t.Error("Push returned true after Close")
	}
	if err := s.SendAudio([]byte{1, 2}); err == nil {
		t.Error("SendAudio succeeded after Close")
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done channel not closed after Close")
	}
}

func TestStreamSendHooks(t *testing.T) {
	s := NewStream()
	var sent []byte
	s.SendFunc = func(data []byte) error {
		sent = append(sent, data...)
		return nil
	}
	finalized := false
	s.FinalizeFunc = func() error {
		finalized = true
		return nil
	}

	if err := s.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio error: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if len(sent) != 3 || !finalized {
		t.Errorf("sent=%v finalized=%v", sent, finalized)
	}
}
