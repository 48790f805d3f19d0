package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
)

// Warning thresholds as fractions of the configured idle timeout.
const (
	idleFirstWarningRatio  = 0.5
	idleSecondWarningRatio = 0.83
)

const defaultIdlePoll = 500 * time.Millisecond

var idleWarningLines = []string{
	"Hello? Are you still there?",
	"I will have to end the call soon if I don't hear from you.",
}

// IdleMonitor is the per-session silence watchdog. It polls the activity
// clock, speaks two escalating warnings, and forces the timeout handler
// once the full idle window passes with both warnings already issued.
//
// Warnings never reset the activity clock: the in-flight flag keeps the
// agent speech they trigger from counting as activity. User speech and
// ordinary completed agent speech reset the clock through Touch.
type IdleMonitor struct {
	timeout   time.Duration
	poll      time.Duration
	speak     func(ctx context.Context, text string) error
	onTimeout func(ctx context.Context)
	logger    *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	lastActivity    time.Time
	warningCount    int
	warningInFlight bool
	busy            bool

	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once
}

// NewIdleMonitor builds a monitor for one session. speak delivers a
// warning line to the caller; onTimeout runs the forced-disconnect path.
func NewIdleMonitor(timeout time.Duration, speak func(ctx context.Context, text string) error, onTimeout func(ctx context.Context), logger *slog.Logger) *IdleMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleMonitor{
		timeout:   timeout,
		poll:      defaultIdlePoll,
		speak:     speak,
		onTimeout: onTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the watchdog loop. The activity clock starts now.
func (m *IdleMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastActivity = m.now()
	m.mu.Unlock()

	go m.loop(loopCtx)
}

// Stop cancels the watchdog and waits for its loop to exit.
func (m *IdleMonitor) Stop() {
	m.stop.Do(func() {
		m.mu.Lock()
		cancel, done := m.cancel, m.done
		m.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
}

// Touch resets the activity clock and the warning schedule. Calls made
// while a warning is being spoken are ignored so the warning itself never
// counts as activity.
func (m *IdleMonitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warningInFlight {
		return
	}
	m.lastActivity = m.now()
	m.warningCount = 0
}

// SetBusy marks the agent as speaking or thinking. No idle checks run
// while busy.
func (m *IdleMonitor) SetBusy(busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = busy
}

// State returns a snapshot of the monitor's bookkeeping.
func (m *IdleMonitor) State() call.IdleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return call.IdleState{
		LastActivity:    m.lastActivity,
		WarningCount:    m.warningCount,
		WarningInFlight: m.warningInFlight,
	}
}

func (m *IdleMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if m.check(ctx) {
			return
		}
	}
}

// check runs one poll step. Returns true when the timeout fired and the
// loop should exit.
func (m *IdleMonitor) check(ctx context.Context) bool {
	m.mu.Lock()
	if m.busy || m.warningInFlight {
		m.mu.Unlock()
		return false
	}
	idle := m.now().Sub(m.lastActivity)
	warnings := m.warningCount

	switch {
	case idle >= m.timeout && warnings >= 2:
		m.mu.Unlock()
		m.logger.Info("idle timeout reached, ending call", "idle", idle)
		if m.onTimeout != nil {
			m.onTimeout(ctx)
		}
		return true
	case warnings == 1 && idle >= time.Duration(idleSecondWarningRatio*float64(m.timeout)):
		m.warningInFlight = true
		m.mu.Unlock()
		m.warn(ctx, idleWarningLines[1])
	case warnings == 0 && idle >= time.Duration(idleFirstWarningRatio*float64(m.timeout)):
		m.warningInFlight = true
		m.mu.Unlock()
		m.warn(ctx, idleWarningLines[0])
	default:
		m.mu.Unlock()
	}
	return false
}

func (m *IdleMonitor) warn(ctx context.Context, line string) {
	if m.speak != nil {
		if err := m.speak(ctx, line); err != nil {
			m.logger.Warn("idle warning failed", "error", err)
		}
	}
	m.mu.Lock()
	m.warningCount++
	m.warningInFlight = false
	m.mu.Unlock()
}
