package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	notifyQueueSize   = 64
	notifyDialTimeout = 5 * time.Second
	notifyRetryDelay  = time.Second
)

// Notification is one message pushed to the web side: call status
// changes, handover near-misses, transcript availability.
type Notification struct {
	Event   string         `json:"event"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebNotifier pushes notifications over a websocket. Notify never blocks
// the caller: messages queue into a bounded buffer and are dropped with
// a log line when the buffer is full or the peer is unreachable.
type WebNotifier struct {
	url    string
	logger *slog.Logger

	queue chan Notification
	done  chan struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewWebNotifier(url string, logger *slog.Logger) *WebNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &WebNotifier{
		url:    url,
		logger: logger,
		queue:  make(chan Notification, notifyQueueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go n.loop(ctx)
	return n
}

// Notify enqueues a notification. Non-blocking; a full queue drops the
// message.
func (n *WebNotifier) Notify(event string, payload map[string]any) {
	select {
	case n.queue <- Notification{Event: event, At: time.Now(), Payload: payload}:
	default:
		n.logger.Warn("notification queue full, dropping", "event", event)
	}
}

// Close stops the sender and drops anything still queued.
func (n *WebNotifier) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		<-n.done
	})
	return nil
}

func (n *WebNotifier) loop(ctx context.Context) {
	defer close(n.done)

	var conn *websocket.Conn
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if conn == nil {
				conn = n.dial(ctx)
				if conn == nil {
					n.logger.Warn("notification dropped, peer unreachable", "event", msg.Event)
					continue
				}
			}
			if err := conn.WriteJSON(msg); err != nil {
				_ = conn.Close()
				conn = n.dial(ctx)
				if conn == nil || conn.WriteJSON(msg) != nil {
					n.logger.Warn("notification dropped after retry", "event", msg.Event, "error", err)
					if conn != nil {
						_ = conn.Close()
						conn = nil
					}
				}
			}
		}
	}
}

func (n *WebNotifier) dial(ctx context.Context) *websocket.Conn {
	if n.url == "" {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, notifyDialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, n.url, nil)
	if err != nil {
		n.logger.Warn("notifier dial failed", "url", n.url, "error", err)
		// Brief pause keeps a dead peer from spinning the loop.
		select {
		case <-ctx.Done():
		case <-time.After(notifyRetryDelay):
		}
		return nil
	}
	return conn
}
