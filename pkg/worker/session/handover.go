package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/transport"
)

var (
	// ErrHandoverInProgress is returned when a handover is requested
	// while a previous one is still being attempted.
	ErrHandoverInProgress = errors.New("handover already in progress")
	// ErrHandoverNotAnswered is returned when the operator leg never
	// reached an answered state. The call continues; the error is
	// advisory.
	ErrHandoverNotAnswered = errors.New("handover leg was not answered")
)

// Notifier delivers best-effort notices to the web side. Implementations
// must not block the caller.
type Notifier interface {
	Notify(event string, payload map[string]any)
}

// HandoverConfig tunes the coordinator's dialing behavior.
type HandoverConfig struct {
	// PrimaryTrunk dials the first attempt; FallbackTrunk takes over
	// after a failed attempt.
	PrimaryTrunk  string
	FallbackTrunk string

	JoinTimeout   time.Duration // wait for the leg to appear in the room
	AnswerTimeout time.Duration // wait for the leg to be answered
	PollInterval  time.Duration
}

func (c HandoverConfig) withDefaults() HandoverConfig {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 30 * time.Second
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

const maxHandoverAttempts = 2

// HandoverCoordinator dials a live operator into an active call. At most
// one handover runs per session at a time; the record of the last attempt
// survives for the call result.
type HandoverCoordinator struct {
	room     transport.Room
	svc      transport.RoomService
	cfg      HandoverConfig
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	initiated bool
	record    *call.HandoverRecord

	onInitiated func()
	onActive    func()
	onReverted  func()
}

func NewHandoverCoordinator(room transport.Room, svc transport.RoomService, cfg HandoverConfig, notifier Notifier, logger *slog.Logger) *HandoverCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandoverCoordinator{
		room:     room,
		svc:      svc,
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetCallbacks installs the lifecycle hooks. onInitiated fires once the
// operator leg is created, onActive once it is answered, onReverted when
// the attempt is abandoned. Must be called before Handover.
func (h *HandoverCoordinator) SetCallbacks(onInitiated, onActive, onReverted func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInitiated = onInitiated
	h.onActive = onActive
	h.onReverted = onReverted
}

// Record returns the last handover attempt, or nil when none was made.
func (h *HandoverCoordinator) Record() *call.HandoverRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.record == nil {
		return nil
	}
	out := *h.record
	return &out
}

// Active reports whether an answered operator leg is on the call.
func (h *HandoverCoordinator) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record != nil && h.record.Answered
}

// Identity returns the synthetic participant identity used for the
// operator leg of the given number.
func HandoverIdentity(number string) string {
	return "idt_" + number
}

// Handover dials number into the room and waits for the operator to
// answer. On answer it attaches transcription to every remote participant
// so both human sides keep being captured. A leg that never answers
// reverts the handover and the synthetic agent continues the call.
func (h *HandoverCoordinator) Handover(ctx context.Context, number string) (*call.HandoverRecord, error) {
	if number == "" {
		return nil, fmt.Errorf("handover: no target number")
	}

	h.mu.Lock()
	if h.initiated {
		h.mu.Unlock()
		return nil, ErrHandoverInProgress
	}
	h.initiated = true
	identity := HandoverIdentity(number)
	rec := &call.HandoverRecord{
		TargetNumber:        number,
		ParticipantIdentity: identity,
		InitiatedAt:         h.now(),
	}
	h.record = rec
	onInitiated, onActive, onReverted := h.onInitiated, h.onActive, h.onReverted
	h.mu.Unlock()

	_, trunk, err := h.dialLeg(ctx, number, identity, onInitiated)

	h.mu.Lock()
	rec.TrunkID = trunk
	h.mu.Unlock()

	if err != nil {
		h.revert(onReverted)
		return h.Record(), err
	}

	answered := h.waitAnswered(ctx, identity)
	if !answered {
		h.logger.Info("handover leg never answered, reverting", "number", number)
		if err := h.svc.RemoveParticipant(ctx, h.room.Name(), identity); err != nil {
			h.logger.Warn("failed to remove unanswered handover leg", "error", err)
		}
		h.notifyMissed(number)
		h.revert(onReverted)
		return h.Record(), ErrHandoverNotAnswered
	}

	now := h.now()
	h.mu.Lock()
	rec.Answered = true
	rec.AnsweredAt = &now
	h.mu.Unlock()

	h.attachTranscription(identity)
	if onActive != nil {
		onActive()
	}
	h.logger.Info("handover active", "number", number, "identity", identity)
	return h.Record(), nil
}

// dialLeg creates the telephony leg and waits for it to join, rotating to
// the fallback trunk after the first failed attempt.
func (h *HandoverCoordinator) dialLeg(ctx context.Context, number, identity string, onInitiated func()) (transport.Participant, string, error) {
	trunks := []string{h.cfg.PrimaryTrunk, h.cfg.FallbackTrunk}
	var lastErr error
	var lastTrunk string
	initiated := false
	for attempt := 0; attempt < maxHandoverAttempts; attempt++ {
		trunk := trunks[attempt%len(trunks)]
		if trunk == "" {
			trunk = trunks[0]
		}
		lastTrunk = trunk

		h.mu.Lock()
		h.record.Attempts = attempt + 1
		h.mu.Unlock()

		_, err := h.svc.CreateSIPParticipant(ctx, transport.SIPParticipantRequest{
			TrunkID:     trunk,
			Number:      number,
			RoomName:    h.room.Name(),
			Identity:    identity,
			NoiseCancel: true,
		})
		if err != nil {
			lastErr = err
			h.logger.Warn("handover leg creation failed", "attempt", attempt+1, "trunk", trunk, "error", err)
			continue
		}
		if !initiated {
			initiated = true
			if onInitiated != nil {
				onInitiated()
			}
		}

		p, err := transport.WaitForParticipant(ctx, h.room, identity, h.cfg.JoinTimeout)
		if err != nil {
			lastErr = err
			h.logger.Warn("handover leg did not join", "attempt", attempt+1, "trunk", trunk, "error", err)
			_ = h.svc.RemoveParticipant(ctx, h.room.Name(), identity)
			continue
		}
		return p, trunk, nil
	}
	return nil, lastTrunk, fmt.Errorf("handover: leg never joined: %w", lastErr)
}

// waitAnswered polls the leg's call-status attribute until it reports
// active, hangs up, leaves, or the answer window closes.
func (h *HandoverCoordinator) waitAnswered(ctx context.Context, identity string) bool {
	deadline := h.now().Add(h.cfg.AnswerTimeout)
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		cur, ok := h.room.Participant(identity)
		if !ok {
			return false
		}
		switch cur.Attribute(transport.AttrCallStatus) {
		case transport.CallStatusActive:
			return true
		case transport.CallStatusHangup:
			return false
		}
		if h.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// attachTranscription covers every remote participant, operator leg
// included, so the conversation between the two humans is captured.
func (h *HandoverCoordinator) attachTranscription(legIdentity string) {
	seen := map[string]bool{}
	if err := h.room.AttachTranscription(legIdentity); err != nil {
		h.logger.Warn("transcription attach failed", "identity", legIdentity, "error", err)
	}
	seen[legIdentity] = true
	for _, p := range h.room.RemoteParticipants() {
		if seen[p.Identity()] {
			continue
		}
		if err := h.room.AttachTranscription(p.Identity()); err != nil {
			h.logger.Warn("transcription attach failed", "identity", p.Identity(), "error", err)
		}
		seen[p.Identity()] = true
	}
}

func (h *HandoverCoordinator) revert(onReverted func()) {
	h.mu.Lock()
	h.initiated = false
	h.mu.Unlock()
	if onReverted != nil {
		onReverted()
	}
}

func (h *HandoverCoordinator) notifyMissed(number string) {
	if h.notifier == nil {
		return
	}
	h.notifier.Notify("handover_missed", map[string]any{
		"number": number,
		"room":   h.room.Name(),
	})
}
