// Package sessions tracks the call sessions running in a worker process
// and provides cancel-and-await semantics for graceful drain.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle is what a call session registers: how to cancel it and how to
// tell the caller the worker is draining.
type Handle struct {
	Cancel func()
	Warn   func(message string) error
}

// Tracker is the explicit registry of running call sessions. Each entry
// carries a generation number so a session id can be reused: releasing a
// superseded registration never removes its replacement.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	lastGen uint64
	wg      sync.WaitGroup
}

type entry struct {
	gen       uint64
	handle    Handle
	startedAt time.Time
	release   sync.Once
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Register adds a session under its id and returns its unregister
// function, safe to call more than once. Registering an id that is
// already present supersedes and releases the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*entry)
	}
	t.lastGen++
	e := &entry{gen: t.lastGen, handle: h, startedAt: time.Now()}
	superseded := t.entries[sessionID]
	t.entries[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if superseded != nil {
		t.drop(sessionID, superseded)
	}
	return func() { t.drop(sessionID, e) }
}

// drop releases one registration exactly once, removing it from the map
// only if it is still the current holder of the id.
func (t *Tracker) drop(sessionID string, e *entry) {
	if t == nil || e == nil {
		return
	}
	e.release.Do(func() {
		t.mu.Lock()
		if cur, ok := t.entries[sessionID]; ok && cur.gen == e.gen {
			delete(t.entries, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of registered sessions.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Active returns the registered session ids, sorted. Used for drain
// logging and diagnostics.
func (t *Tracker) Active() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// StartedAt returns when the session registered, if it is still active.
func (t *Tracker) StartedAt(sessionID string) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return e.startedAt, true
}

// snapshot returns the current handles without holding the lock during
// callbacks.
func (t *Tracker) snapshot() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	handles := make([]Handle, 0, len(t.entries))
	for _, e := range t.entries {
		handles = append(handles, e.handle)
	}
	return handles
}

// WarnAll tells every active call the worker is draining. A warning
// that fails to play still counts as sent.
func (t *Tracker) WarnAll(message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(message)
		sent++
	}
	return sent
}

// CancelAll cancels every registered session.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has unregistered or ctx ends. Returns
// true when the tracker fully drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
