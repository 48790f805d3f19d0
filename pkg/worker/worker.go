// Package worker runs the voice worker process: it sweeps due call
// tasks, resolves their configuration and provider services, launches
// call sessions, and drains them gracefully on shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/core/live"
	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
	"github.com/parvbhullar/unpod-sub001/pkg/store"
	"github.com/parvbhullar/unpod-sub001/pkg/transport"
	"github.com/parvbhullar/unpod-sub001/pkg/worker/session"
	"github.com/parvbhullar/unpod-sub001/pkg/worker/sessions"
)

const (
	defaultTaskPoll = 5 * time.Second
	callerIdentity  = "caller"
	drainNotice     = "I'm sorry, this call has to end shortly for maintenance."
)

// ErrDraining is returned when a launch is attempted during shutdown.
var ErrDraining = errors.New("worker is draining")

// Dialer opens rooms on the media platform.
type Dialer interface {
	OpenRoom(ctx context.Context, name string) (transport.Room, error)
}

// Options wires a Worker.
type Options struct {
	Tasks       store.TaskStore
	Results     store.ResultStore
	Resolver    *store.Resolver
	RoomService transport.RoomService
	Dialer      Dialer
	Factory     *services.Factory
	Cache       *services.Cache
	Notifier    session.Notifier
	Handover    session.HandoverConfig
	Logger      *slog.Logger

	// TaskPoll is the due-task sweep interval.
	TaskPoll time.Duration
}

// Worker hosts concurrent call sessions in one process.
type Worker struct {
	tasks    store.TaskStore
	results  store.ResultStore
	resolver *store.Resolver
	svc      transport.RoomService
	dialer   Dialer
	factory  *services.Factory
	cache    *services.Cache
	notifier session.Notifier
	handover session.HandoverConfig
	logger   *slog.Logger
	poll     time.Duration

	tracker *sessions.Tracker
	life    *Lifecycle
}

func New(opts Options) (*Worker, error) {
	if opts.RoomService == nil {
		return nil, errors.New("worker: room service is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("worker: dialer is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("worker: service factory is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("worker: config resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.TaskPoll
	if poll <= 0 {
		poll = defaultTaskPoll
	}
	return &Worker{
		tasks:    opts.Tasks,
		results:  opts.Results,
		resolver: opts.Resolver,
		svc:      opts.RoomService,
		dialer:   opts.Dialer,
		factory:  opts.Factory,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		handover: opts.Handover,
		logger:   logger,
		poll:     poll,
		tracker:  sessions.NewTracker(),
		life:     &Lifecycle{},
	}, nil
}

// Tracker exposes the session registry.
func (w *Worker) Tracker() *sessions.Tracker { return w.tracker }

// Lifecycle exposes the drain flag.
func (w *Worker) Lifecycle() *Lifecycle { return w.life }

// Run sweeps due tasks until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.life.IsDraining() {
				continue
			}
			w.sweep(ctx)
		}
	}
}

// sweep launches every task whose dial time has come.
func (w *Worker) sweep(ctx context.Context) {
	if w.tasks == nil {
		return
	}
	due, err := w.tasks.DueTasks(ctx, time.Now())
	if err != nil {
		w.logger.Error("due-task sweep failed", "error", err)
		return
	}
	for _, task := range due {
		if err := w.Launch(ctx, task); err != nil {
			w.logger.Error("task launch failed", "task_id", task.ID, "error", err)
		}
	}
}

// Launch starts the outbound call session for one task. Provider
// services are resolved before any dialing happens so an unavailable
// capability aborts the call pre-connect.
func (w *Worker) Launch(ctx context.Context, task *store.Task) error {
	if w.life.IsDraining() {
		return ErrDraining
	}

	cfg, err := w.resolver.ResolveOutbound(ctx, map[string]string{
		"agent_id":     task.AgentID,
		"phone_number": task.PhoneNumber,
	})
	if err != nil {
		return fmt.Errorf("resolve task %s: %w", task.ID, err)
	}
	cfg.SessionID = task.ID
	if cfg.RoomName == "" {
		cfg.RoomName = "call-" + task.ID
	}

	svcs, err := w.prepareServices(ctx, task, cfg)
	if err != nil {
		return err
	}

	room, err := w.dialer.OpenRoom(ctx, cfg.RoomName)
	if err != nil {
		return fmt.Errorf("open room for task %s: %w", task.ID, err)
	}
	_, err = w.svc.CreateSIPParticipant(ctx, transport.SIPParticipantRequest{
		TrunkID:     cfg.TrunkID,
		Number:      cfg.PhoneNumber,
		RoomName:    cfg.RoomName,
		Identity:    callerIdentity,
		NoiseCancel: true,
	})
	if err != nil {
		w.failTask(ctx, task.ID, "dial_failed")
		return fmt.Errorf("dial task %s: %w", task.ID, err)
	}

	return w.start(ctx, cfg, room, svcs)
}

// Accept runs a session for a call that arrived on its own: an inbound
// phone call or a web call whose room already exists.
func (w *Worker) Accept(ctx context.Context, cfg call.Config, room transport.Room, caller string) error {
	if w.life.IsDraining() {
		return ErrDraining
	}
	if caller == "" {
		caller = callerIdentity
	}

	svcs, err := w.prepareServices(ctx, nil, cfg)
	if err != nil {
		return err
	}
	return w.startWithIdentity(ctx, cfg, room, svcs, caller)
}

// callServices bundles the per-call capability handles.
type callServices struct {
	stt *services.STTService
	llm *services.LLMService
	tts *services.TTSService
}

// prepareServices resolves the call's three capability handles through
// the factory. A typed unavailable error fails the task before connect.
func (w *Worker) prepareServices(ctx context.Context, task *store.Task, cfg call.Config) (*callServices, error) {
	sttSvc, err := w.factory.STT(ctx, cfg.STTProvider, cfg.STTModel, cfg.STTLanguage)
	if err != nil {
		return nil, w.serviceFailure(ctx, task, "stt", err)
	}
	llmSvc, err := w.factory.LLM(ctx, cfg.LLMProvider, cfg.LLMModel)
	if err != nil {
		return nil, w.serviceFailure(ctx, task, "llm", err)
	}
	ttsSvc, err := w.factory.TTS(ctx, cfg.TTSProvider, cfg.TTSVoice)
	if err != nil {
		return nil, w.serviceFailure(ctx, task, "tts", err)
	}

	w.logger.Info("call services ready",
		"session_id", cfg.SessionID,
		"stt_model", sttSvc.Model,
		"llm_model", llmSvc.Model,
		"tts_voice", ttsSvc.Voice,
	)
	return &callServices{stt: sttSvc, llm: llmSvc, tts: ttsSvc}, nil
}

// turnChecker returns the prewarmed turn-completeness checker, or nil
// when the cache has none. Sessions fall back to punctuation and
// silence alone.
func (w *Worker) turnChecker() live.SemanticChecker {
	if w.cache == nil {
		return nil
	}
	return w.cache.Checker()
}

func (w *Worker) serviceFailure(ctx context.Context, task *store.Task, kind string, err error) error {
	if task != nil {
		w.failTask(ctx, task.ID, "service_unavailable")
	}
	return fmt.Errorf("%s service: %w", kind, err)
}

func (w *Worker) failTask(ctx context.Context, taskID, reason string) {
	if w.tasks == nil {
		return
	}
	if err := w.tasks.UpdateTaskStatus(ctx, taskID, call.StatusFailed, reason); err != nil {
		w.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
	}
	if err := w.tasks.AppendLog(ctx, taskID, reason); err != nil {
		w.logger.Error("failed to append task log", "task_id", taskID, "error", err)
	}
}

func (w *Worker) start(ctx context.Context, cfg call.Config, room transport.Room, svcs *callServices) error {
	return w.startWithIdentity(ctx, cfg, room, svcs, callerIdentity)
}

func (w *Worker) startWithIdentity(ctx context.Context, cfg call.Config, room transport.Room, svcs *callServices, caller string) error {
	sess, err := session.New(session.Options{
		Config:         cfg,
		Room:           room,
		RoomService:    w.svc,
		CallerIdentity: caller,
		Speaker:        &roomSpeaker{room: room, svc: svcs.tts},
		STT:            svcs.stt,
		LLM:            svcs.llm,
		Checker:        w.turnChecker(),
		Finalizer:      session.NewFinalizer(w.results, w.tasks, w.cache, w.logger),
		Notifier:       w.notifier,
		Handover:       w.handover,
		Logger:         w.logger,
	})
	if err != nil {
		return fmt.Errorf("build session %s: %w", cfg.SessionID, err)
	}

	if w.tasks != nil && cfg.SessionID != "" {
		if err := w.tasks.UpdateTaskStatus(ctx, cfg.SessionID, call.StatusDialing, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
			w.logger.Warn("failed to mark task dialing", "task_id", cfg.SessionID, "error", err)
		}
		_ = w.tasks.AppendLog(ctx, cfg.SessionID, "session started")
	}

	unregister := w.tracker.Register(cfg.SessionID, sessions.Handle{
		Cancel: sess.Cancel,
		Warn:   sess.Warn,
	})
	// The session outlives the sweep that launched it; only Cancel or
	// drain ends it early.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer unregister()
		if err := sess.Run(runCtx); err != nil {
			w.logger.Error("session run failed", "session_id", cfg.SessionID, "error", err)
		}
	}()
	return nil
}

// Drain stops new launches, warns every live call, cancels them, and
// waits out the grace window.
func (w *Worker) Drain(ctx context.Context) bool {
	w.life.SetDraining(true)
	warned := w.tracker.WarnAll(drainNotice)
	canceled := w.tracker.CancelAll()
	w.logger.Info("draining worker", "warned", warned, "canceled", canceled, "sessions", w.tracker.Active())
	return w.tracker.Wait(ctx)
}
