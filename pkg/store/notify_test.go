package store

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsSink struct {
	mu       sync.Mutex
	received []Notification
}

func (s *wsSink) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var n Notification
			if err := conn.ReadJSON(&n); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, n)
			s.mu.Unlock()
		}
	}
}

func (s *wsSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestWebNotifier_DeliversEvents(t *testing.T) {
	sink := &wsSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	n := NewWebNotifier(url, discardLogger())
	defer n.Close()

	n.Notify("call_status", map[string]any{"status": "active"})
	n.Notify("handover_missed", map[string]any{"number": "+15550100"})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && sink.count() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.count(); got != 2 {
		t.Fatalf("received=%d, want 2", got)
	}

	sink.mu.Lock()
	first := sink.received[0]
	sink.mu.Unlock()
	if first.Event != "call_status" {
		t.Fatalf("first event=%q, want call_status", first.Event)
	}
	if first.At.IsZero() {
		t.Fatal("notification timestamp not set")
	}
}

func TestWebNotifier_NeverBlocksWithoutPeer(t *testing.T) {
	n := NewWebNotifier("", discardLogger())
	defer n.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < notifyQueueSize*2; i++ {
			n.Notify("call_status", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked without a reachable peer")
	}
}

func TestWebNotifier_CloseIsIdempotent(t *testing.T) {
	n := NewWebNotifier("", discardLogger())
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
