// Package session drives one voice call from connect to terminal state:
// the lifecycle state machine, the idle watchdog, the human-handover
// coordinator, per-turn latency metrics, and the exactly-once post-call
// finalizer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/core/live"
	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
	"github.com/parvbhullar/unpod-sub001/pkg/transport"
)

const (
	defaultDialPoll  = 100 * time.Millisecond
	goodbyeGrace     = 2 * time.Second
	goodbyeLine      = "It seems you are no longer there. Goodbye!"
	notAnsweredEntry = "Call was not answered within the dialing window."
)

// Speaker delivers agent speech into the room. The session uses it for
// greetings, idle warnings, and the forced goodbye.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Options configures a Session.
type Options struct {
	Config         call.Config
	Room           transport.Room
	RoomService    transport.RoomService
	CallerIdentity string
	Speaker        Speaker
	// STT and LLM are the session's recognition and generation handles.
	// Without an LLM the session only listens: no replies are produced.
	STT *services.STTService
	LLM *services.LLMService
	// Checker is the shared turn-completeness checker, usually the
	// prewarmed one from the service cache. Optional.
	Checker   live.SemanticChecker
	Finalizer *Finalizer
	Notifier       Notifier
	Handover       HandoverConfig
	Logger         *slog.Logger
}

// Session owns one call's lifetime. Exactly one Session exists per active
// call; Run drives it from connect to a terminal status and returns after
// finalization.
type Session struct {
	cfg            call.Config
	callType       call.Type
	room           transport.Room
	svc            transport.RoomService
	callerIdentity string
	speaker        Speaker
	finalizer      *Finalizer
	logger         *slog.Logger

	metrics   *LatencyAggregator
	quality   *QualityDetector
	idle      *IdleMonitor
	handover  *HandoverCoordinator
	responder *responder

	mu         sync.Mutex
	status     call.Status
	reason     string
	transcript []call.TranscriptItem
	startedAt  time.Time
	endedAt    time.Time

	cancel context.CancelFunc
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	dialPoll time.Duration
}

// New builds a session. The room must already exist; for outbound calls
// the telephony leg for the caller must already be dialing.
func New(opts Options) (*Session, error) {
	if opts.Room == nil {
		return nil, errors.New("session: room is required")
	}
	if opts.RoomService == nil {
		return nil, errors.New("session: room service is required")
	}
	if opts.CallerIdentity == "" {
		return nil, errors.New("session: caller identity is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config.Defaults()
	logger = logger.With("session_id", cfg.SessionID, "room", opts.Room.Name())

	callType := cfg.CallType
	if callType == "" {
		callType = call.TypeOutbound
	}

	s := &Session{
		cfg:            cfg,
		callType:       callType,
		room:           opts.Room,
		svc:            opts.RoomService,
		callerIdentity: opts.CallerIdentity,
		speaker:        opts.Speaker,
		finalizer:      opts.Finalizer,
		logger:         logger,
		metrics:        NewLatencyAggregator(),
		quality:        NewQualityDetector(),
		now:            time.Now,
		sleep:          sleepCtx,
		dialPoll:       defaultDialPoll,
	}
	if s.finalizer == nil {
		s.finalizer = NewFinalizer(nil, nil, nil, logger)
	}

	hcfg := opts.Handover
	if hcfg.PrimaryTrunk == "" {
		hcfg.PrimaryTrunk = cfg.TrunkID
	}
	s.handover = NewHandoverCoordinator(opts.Room, opts.RoomService, hcfg, opts.Notifier, logger)
	s.handover.SetCallbacks(
		func() { s.setStatus(call.StatusHandoverInitiated, "") },
		func() { s.setStatus(call.StatusHandoverActive, "") },
		func() { s.setStatus(call.StatusActive, "") },
	)

	s.idle = NewIdleMonitor(cfg.IdleTimeout, s.speak, s.onIdleTimeout, logger)

	if opts.LLM != nil && opts.LLM.Provider != nil {
		s.responder = newResponder(s, opts.LLM, opts.STT, opts.Checker)
	}

	initial := call.StatusDialing
	if callType != call.TypeOutbound {
		initial = call.StatusActive
	}
	s.status = initial
	return s, nil
}

// Run drives the call to a terminal status, finalizes, and returns. It
// blocks for the duration of the call.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = s.now()
	s.mu.Unlock()

	defer s.finalize(ctx)

	if s.callType == call.TypeOutbound {
		if err := s.waitForAnswer(ctx); err != nil {
			s.logger.Info("call never connected", "status", s.Status(), "reason", s.Reason())
			return nil
		}
	}

	s.logger.Info("call active", "type", s.callType)
	if s.cfg.Greeting != "" {
		if err := s.speak(ctx, s.cfg.Greeting); err != nil {
			s.logger.Warn("greeting failed", "error", err)
		}
	}

	s.idle.Start(ctx)
	defer s.idle.Stop()
	if s.responder != nil {
		s.responder.Start(ctx)
		defer s.responder.Stop()
	}

	s.eventLoop(ctx)
	return nil
}

// waitForAnswer polls the caller leg's call-status attribute until it
// reports active, maps disconnects to terminal statuses, and gives up at
// the dialing timeout.
func (s *Session) waitForAnswer(ctx context.Context) error {
	deadline := s.now().Add(s.cfg.DialingTimeout)
	ticker := time.NewTicker(s.dialPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.end(call.StatusCancelled, "cancelled")
			return ctx.Err()
		case ev, ok := <-s.room.Events():
			if !ok {
				s.end(call.StatusCancelled, "room_closed")
				return errors.New("room closed while dialing")
			}
			if done := s.handleDialingEvent(ev); done {
				return fmt.Errorf("caller disconnected while dialing: %s", s.Reason())
			}
		case <-ticker.C:
			if p, ok := s.room.Participant(s.callerIdentity); ok {
				switch p.Attribute(transport.AttrCallStatus) {
				case transport.CallStatusRinging:
					s.setStatus(call.StatusRinging, "")
				case transport.CallStatusActive:
					s.setStatus(call.StatusActive, "")
					return nil
				case transport.CallStatusHangup:
					s.end(call.StatusFailed, "user_rejected")
					return errors.New("caller hung up while dialing")
				}
			}
			if s.now().After(deadline) {
				s.appendTranscript("system", notAnsweredEntry)
				s.end(call.StatusNotConnected, "dialing_timeout")
				return errors.New("dialing timed out")
			}
		}
	}
}

// handleDialingEvent processes events that arrive before the call is
// answered. Returns true when the session reached a terminal status.
func (s *Session) handleDialingEvent(ev transport.Event) bool {
	switch e := ev.(type) {
	case transport.ParticipantLeftEvent:
		if e.Identity != s.callerIdentity {
			return false
		}
		status, reason := mapDisconnect(e.Reason)
		s.end(status, reason)
		return true
	case transport.RoomClosedEvent:
		s.end(call.StatusCancelled, "room_closed")
		return true
	}
	return false
}

// eventLoop consumes the room's event stream until the session ends.
func (s *Session) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.end(call.StatusCancelled, "cancelled")
			return
		case ev, ok := <-s.room.Events():
			if !ok {
				s.end(call.StatusCancelled, "room_closed")
				return
			}
			if done := s.handleEvent(ev); done {
				return
			}
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) bool {
	switch e := ev.(type) {
	case transport.UserSpeechEvent:
		if e.Final && e.Text != "" {
			s.appendTranscript("user", e.Text)
			s.idle.Touch()
			if s.responder != nil {
				s.responder.hearFinal(e.Text)
			}
		}
	case transport.DataMessageEvent:
		if e.From == s.callerIdentity && s.responder != nil {
			s.responder.hearAudio(e.Payload)
		}
	case transport.AgentSpeechCommittedEvent:
		s.appendTranscript("assistant", e.Text)
		s.quality.Observe(e.Text)
		s.idle.Touch()
	case transport.AgentSpeechInterruptedEvent:
		s.idle.Touch()
	case transport.AttributesChangedEvent:
		if e.Identity == s.callerIdentity &&
			e.Attributes[transport.AttrCallStatus] == transport.CallStatusHangup {
			s.end(call.StatusCompleted, "user_disconnected")
			return true
		}
	case transport.ParticipantLeftEvent:
		return s.handleDeparture(e)
	case transport.RoomClosedEvent:
		s.end(call.StatusCancelled, "room_closed")
		return true
	}
	return false
}

// handleDeparture applies the disconnect rules: the original caller
// leaving always ends the session, handover or not; the operator leg
// leaving on its own only drops the session back to Active.
func (s *Session) handleDeparture(e transport.ParticipantLeftEvent) bool {
	switch e.Identity {
	case s.callerIdentity:
		s.end(call.StatusCompleted, "user_disconnected")
		return true
	case s.handoverLegIdentity():
		s.logger.Info("handover participant left, agent resumes", "identity", e.Identity)
		s.setStatus(call.StatusActive, "")
		return false
	}
	return false
}

func (s *Session) handoverLegIdentity() string {
	if rec := s.handover.Record(); rec != nil {
		return rec.ParticipantIdentity
	}
	return ""
}

// Handover dials a live operator into the call. Only valid while the
// call is active.
func (s *Session) Handover(ctx context.Context, number string) error {
	if number == "" {
		number = s.cfg.HandoverNumber
	}
	if st := s.Status(); st != call.StatusActive {
		return fmt.Errorf("handover: call is %s, not active", st)
	}
	_, err := s.handover.Handover(ctx, number)
	return err
}

// onIdleTimeout runs the forced-disconnect path: goodbye, a short grace
// for the audio to play out, then room teardown.
func (s *Session) onIdleTimeout(ctx context.Context) {
	if err := s.speak(ctx, goodbyeLine); err != nil {
		s.logger.Warn("goodbye failed", "error", err)
	}
	s.sleep(ctx, goodbyeGrace)
	s.end(call.StatusCompleted, "idle_timeout")
	// end cancels the session context; teardown still has to run.
	ctx = context.WithoutCancel(ctx)
	if err := s.svc.DeleteRoom(ctx, s.room.Name()); err != nil {
		s.logger.Warn("room delete failed, disconnecting instead", "error", err)
		if err := s.room.Disconnect(); err != nil {
			s.logger.Warn("disconnect failed", "error", err)
		}
	}
}

// speak voices text through the speaker and records it on the transcript.
func (s *Session) speak(ctx context.Context, text string) error {
	if s.speaker == nil {
		return nil
	}
	if err := s.speaker.Say(ctx, text); err != nil {
		return err
	}
	s.appendTranscript("assistant", text)
	return nil
}

// Cancel ends the session from outside, e.g. worker drain.
func (s *Session) Cancel() {
	s.end(call.StatusCancelled, "cancelled")
}

// Warn speaks an operational notice to the caller, used during worker
// drain.
func (s *Session) Warn(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.speak(ctx, message)
}

// end moves the session to a terminal status and stops the event loop.
// Later calls on an already-terminal session are ignored.
func (s *Session) end(status call.Status, reason string) {
	if !s.setStatus(status, reason) {
		return
	}
	s.mu.Lock()
	s.endedAt = s.now()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setStatus applies a transition. Terminal statuses are monotonic: once
// reached, every further transition is a no-op. Returns whether the
// transition was applied.
func (s *Session) setStatus(status call.Status, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	if s.status == status {
		return false
	}
	s.logger.Debug("status transition", "from", s.status, "to", status, "reason", reason)
	s.status = status
	if reason != "" {
		s.reason = reason
	}
	return true
}

// Status returns the current lifecycle status.
func (s *Session) Status() call.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Reason returns the terminal reason, if any.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Metrics exposes the latency aggregator so the speech pipeline can feed
// per-turn readings.
func (s *Session) Metrics() *LatencyAggregator { return s.metrics }

// Idle exposes the idle monitor for busy-state signaling.
func (s *Session) Idle() *IdleMonitor { return s.idle }

// Transcript returns a snapshot of the conversation so far.
func (s *Session) Transcript() []call.TranscriptItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call.TranscriptItem(nil), s.transcript...)
}

func (s *Session) appendTranscript(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, call.TranscriptItem{
		Role:    role,
		Content: content,
		At:      s.now(),
	})
}

// Result assembles the call outcome from the session's current state.
func (s *Session) Result() *call.Result {
	s.mu.Lock()
	status, reason := s.status, s.reason
	startedAt, endedAt := s.startedAt, s.endedAt
	transcript := append([]call.TranscriptItem(nil), s.transcript...)
	s.mu.Unlock()

	if endedAt.IsZero() {
		endedAt = s.now()
	}
	return &call.Result{
		SessionID:  s.cfg.SessionID,
		RoomName:   s.room.Name(),
		AgentID:    s.cfg.AgentID,
		CallType:   s.callType,
		Status:     status,
		Reason:     reason,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		Transcript: transcript,
		Latency:    s.metrics.Log(),
		Handover:   s.handover.Record(),
		Quality:    s.quality.Report(),
	}
}

func (s *Session) finalize(ctx context.Context) {
	// A crashed event handler must still leave the call terminal.
	if !s.Status().Terminal() {
		s.end(call.StatusFailed, "internal_error")
	}
	s.finalizer.Finalize(context.WithoutCancel(ctx), s.Result())
}

// mapDisconnect translates a transport disconnect reason into the
// terminal status for a call that never connected.
func mapDisconnect(r transport.DisconnectReason) (call.Status, string) {
	switch r {
	case transport.DisconnectUserRejected:
		return call.StatusFailed, "user_rejected"
	case transport.DisconnectUserUnavailable:
		return call.StatusNotConnected, "user_unavailable"
	case transport.DisconnectRoomClosed:
		return call.StatusCancelled, "room_closed"
	default:
		return call.StatusFailed, "disconnected"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
