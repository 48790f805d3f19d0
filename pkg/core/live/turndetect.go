// Package live holds the conversation-turn layer shared by call
// sessions: detecting when the user has finished speaking.
package live

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SemanticChecker decides whether a transcript looks like a finished
// user turn. Injected so the LLM integration stays pluggable.
type SemanticChecker interface {
	// CheckTurnComplete asks whether the user appears to be done
	// speaking.
	CheckTurnComplete(ctx context.Context, transcript string) (bool, error)
}

// TurnConfig tunes the turn detector.
type TurnConfig struct {
	// PunctuationTrigger lists the characters that end a sentence and
	// trigger an immediate completion check.
	PunctuationTrigger string
	// NoActivityTimeout forces a completion check after this much
	// silence in the transcript stream.
	NoActivityTimeout time.Duration
	// MinWordsForCheck suppresses checks on very short fragments.
	MinWordsForCheck int
	// SemanticCheck enables the LLM confirmation step. When disabled,
	// punctuation or timeout commits immediately.
	SemanticCheck bool
	// CheckTimeout bounds one semantic check call.
	CheckTimeout time.Duration
}

// DefaultTurnConfig returns the standard detector tuning.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		PunctuationTrigger: ".!?",
		NoActivityTimeout:  3 * time.Second,
		MinWordsForCheck:   2,
		SemanticCheck:      true,
		CheckTimeout:       1200 * time.Millisecond,
	}
}

// TurnDetector accumulates transcript deltas for one user turn and
// commits the turn when punctuation plus a semantic check, or a silence
// timeout, says the user is done. One detector per session; Reset starts
// the next turn.
type TurnDetector struct {
	config  TurnConfig
	checker SemanticChecker

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	transcript     strings.Builder
	lastDelta      time.Time
	pendingCheck   bool
	committed      bool
	lastCheckedLen int

	onAnalyzing func(transcript string)
	onCommit    func(transcript string, forced bool)
}

// NewTurnDetector creates a detector with the given checker. A nil
// checker disables the semantic confirmation step.
func NewTurnDetector(config TurnConfig, checker SemanticChecker) *TurnDetector {
	if config.PunctuationTrigger == "" {
		config.PunctuationTrigger = ".!?"
	}
	if config.NoActivityTimeout == 0 {
		config.NoActivityTimeout = 3 * time.Second
	}
	if config.CheckTimeout == 0 {
		config.CheckTimeout = 1200 * time.Millisecond
	}
	return &TurnDetector{config: config, checker: checker}
}

// SetCallbacks wires the detector events. onCommit fires once per turn
// with the full transcript; forced marks timeout-driven commits.
func (d *TurnDetector) SetCallbacks(onAnalyzing func(string), onCommit func(transcript string, forced bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAnalyzing = onAnalyzing
	d.onCommit = onCommit
}

// Start begins the silence-timeout loop. Must be called before deltas
// arrive.
func (d *TurnDetector) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()
	go d.timeoutLoop()
}

// Stop ends the silence-timeout loop.
func (d *TurnDetector) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
}

func (d *TurnDetector) timeoutLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.checkTimeout()
		}
	}
}

func (d *TurnDetector) checkTimeout() {
	d.mu.Lock()
	if d.committed || d.pendingCheck || d.transcript.Len() == 0 || d.lastDelta.IsZero() {
		d.mu.Unlock()
		return
	}
	if time.Since(d.lastDelta) < d.config.NoActivityTimeout {
		d.mu.Unlock()
		return
	}

	transcript := d.transcript.String()
	if len(strings.Fields(transcript)) < d.config.MinWordsForCheck {
		d.mu.Unlock()
		return
	}

	// A transcript already judged incomplete gets force-committed on
	// the next timeout instead of re-checked.
	if len(transcript) <= d.lastCheckedLen {
		d.committed = true
		d.mu.Unlock()
		if d.onCommit != nil {
			go d.onCommit(transcript, true)
		}
		return
	}

	d.pendingCheck = true
	d.mu.Unlock()
	d.runCheck(transcript, true)
}

// AddDelta feeds one STT transcript delta into the current turn.
func (d *TurnDetector) AddDelta(text string) {
	if text == "" {
		return
	}

	d.mu.Lock()
	if d.committed {
		d.mu.Unlock()
		return
	}
	d.transcript.WriteString(text)
	d.lastDelta = time.Now()
	full := d.transcript.String()

	if d.endsWithTrigger(full) && !d.pendingCheck {
		if len(strings.Fields(full)) >= d.config.MinWordsForCheck {
			d.pendingCheck = true
			d.mu.Unlock()
			d.runCheck(full, false)
			return
		}
	}
	d.mu.Unlock()
}

func (d *TurnDetector) endsWithTrigger(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	return strings.ContainsRune(d.config.PunctuationTrigger, rune(text[len(text)-1]))
}

// runCheck performs the semantic confirmation. Called without the mutex.
func (d *TurnDetector) runCheck(transcript string, forced bool) {
	if d.onAnalyzing != nil {
		go d.onAnalyzing(transcript)
	}

	complete := true
	if d.config.SemanticCheck && d.checker != nil {
		checkCtx, cancel := context.WithTimeout(d.ctx, d.config.CheckTimeout)
		var err error
		complete, err = d.checker.CheckTurnComplete(checkCtx, transcript)
		cancel()
		if err != nil {
			// Treat a failed check as complete rather than stalling
			// the conversation.
			complete = true
		}
	}

	d.mu.Lock()
	d.pendingCheck = false
	d.lastCheckedLen = len(transcript)
	if d.committed {
		d.mu.Unlock()
		return
	}
	if !complete {
		d.mu.Unlock()
		return
	}
	d.committed = true
	d.mu.Unlock()
	if d.onCommit != nil {
		go d.onCommit(transcript, forced)
	}
}

// Reset clears detector state for the next turn.
func (d *TurnDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transcript.Reset()
	d.lastDelta = time.Time{}
	d.pendingCheck = false
	d.committed = false
	d.lastCheckedLen = 0
}

// Transcript returns the accumulated transcript for the current turn.
func (d *TurnDetector) Transcript() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transcript.String()
}

// DefaultSemanticChecker wraps a plain function as a SemanticChecker.
type DefaultSemanticChecker struct {
	checkFunc func(ctx context.Context, transcript string) (bool, error)
}

// NewDefaultSemanticChecker creates a checker from a callback.
func NewDefaultSemanticChecker(checkFunc func(ctx context.Context, transcript string) (bool, error)) *DefaultSemanticChecker {
	return &DefaultSemanticChecker{checkFunc: checkFunc}
}

// CheckTurnComplete implements SemanticChecker.
func (c *DefaultSemanticChecker) CheckTurnComplete(ctx context.Context, transcript string) (bool, error) {
	return c.checkFunc(ctx, transcript)
}

// TurnCompletePrompt is the prompt template for semantic turn checks.
const TurnCompletePrompt = `Voice transcript: "%s"

You are part of a live voice agent. Decide whether the user has finished
talking since the agent last spoke, so the agent should respond now.

YES = The user is done talking
NO = The user is not done talking

Reply only: YES or NO`

// ParseTurnCompleteResponse interprets the checker model's reply.
func ParseTurnCompleteResponse(response string) bool {
	return strings.Contains(strings.ToUpper(strings.TrimSpace(response)), "YES")
}
