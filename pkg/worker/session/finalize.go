package session

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
)

// ResultStore persists finished call results.
type ResultStore interface {
	SaveResult(ctx context.Context, res *call.Result) error
}

// TaskStore reflects the call outcome onto the owning task record.
type TaskStore interface {
	// UpdateTaskStatus records the terminal status and reason on the
	// task backing this session.
	UpdateTaskStatus(ctx context.Context, sessionID string, status call.Status, reason string) error
	// ScheduleRedial queues another dial attempt for a call that never
	// connected. Returns false once the redial budget is spent.
	ScheduleRedial(ctx context.Context, sessionID string) (bool, error)
}

const defaultMaxStalePerKind = 4

// Finalizer runs the exactly-once post-call path: persist the result,
// update the task record, schedule a redial when the call never
// connected, and trim the shared service cache. Every terminal route
// through a session (normal end, idle timeout, dialing failure, external
// cancel) funnels into the same Finalizer, so racing routes are safe.
type Finalizer struct {
	results         ResultStore
	tasks           TaskStore
	cache           *services.Cache
	embed           func(ctx context.Context, text string) ([]float64, error)
	maxStalePerKind int
	logger          *slog.Logger

	once sync.Once
	ran  atomic.Bool
}

func NewFinalizer(results ResultStore, tasks TaskStore, cache *services.Cache, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Finalizer{
		results:         results,
		tasks:           tasks,
		cache:           cache,
		maxStalePerKind: defaultMaxStalePerKind,
		logger:          logger,
	}
	if cache != nil {
		if e := cache.Embedder(); e != nil {
			f.embed = e.Embed
		}
	}
	return f
}

// Finalize persists res and releases session-scoped shared resources.
// Only the first call has any effect.
func (f *Finalizer) Finalize(ctx context.Context, res *call.Result) {
	f.once.Do(func() {
		f.ran.Store(true)
		f.run(ctx, res)
	})
}

// Done reports whether finalization has run.
func (f *Finalizer) Done() bool {
	return f.ran.Load()
}

func (f *Finalizer) run(ctx context.Context, res *call.Result) {
	log := f.logger.With("session_id", res.SessionID, "status", res.Status)
	log.Info("finalizing call",
		"reason", res.Reason,
		"duration", res.Duration(),
		"turns", len(res.Transcript),
	)

	if f.embed != nil {
		if sim, err := f.semanticRepetition(ctx, res.Transcript); err != nil {
			log.Warn("semantic repetition scoring failed", "error", err)
		} else if sim > 0 {
			res.Quality.SemanticRepetition = sim
			log.Debug("semantic repetition scored", "similarity", sim)
		}
	}

	if f.results != nil {
		if err := f.results.SaveResult(ctx, res); err != nil {
			log.Error("failed to persist call result", "error", err)
		}
	}
	if f.tasks != nil {
		if err := f.tasks.UpdateTaskStatus(ctx, res.SessionID, res.Status, res.Reason); err != nil {
			log.Error("failed to update task status", "error", err)
		}
		if !res.Status.Connected() {
			scheduled, err := f.tasks.ScheduleRedial(ctx, res.SessionID)
			if err != nil {
				log.Error("failed to schedule redial", "error", err)
			} else if scheduled {
				log.Info("redial scheduled")
			}
		}
	}
	if f.cache != nil {
		if evicted := f.cache.ClearStale(f.maxStalePerKind); evicted > 0 {
			log.Debug("trimmed service cache", "evicted", evicted)
		}
	}
}

const maxEmbeddedTurns = 8

// semanticRepetition embeds the last agent replies and averages the
// cosine similarity of consecutive pairs. High values mean the agent
// kept paraphrasing itself even where the wording differs, which the
// hash-based repetition counter cannot see.
func (f *Finalizer) semanticRepetition(ctx context.Context, transcript []call.TranscriptItem) (float64, error) {
	var texts []string
	for _, item := range transcript {
		if item.Role == "assistant" {
			texts = append(texts, item.Content)
		}
	}
	if len(texts) > maxEmbeddedTurns {
		texts = texts[len(texts)-maxEmbeddedTurns:]
	}
	if len(texts) < 2 {
		return 0, nil
	}

	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := f.embed(ctx, text)
		if err != nil {
			return 0, err
		}
		vectors[i] = vec
	}

	var sum float64
	for i := 1; i < len(vectors); i++ {
		sum += cosine(vectors[i-1], vectors[i])
	}
	return sum / float64(len(vectors)-1), nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
