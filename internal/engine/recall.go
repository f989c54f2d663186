package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemo-dev/mnemo/internal/embedding"
	"github.com/mnemo-dev/mnemo/internal/model"
	"github.com/mnemo-dev/mnemo/internal/store"
	"github.com/mnemo-dev/mnemo/internal/vector"
)

// RecallEngine decides which memories should be injected into a
// conversation's context window for the next turn.
type RecallEngine struct {
	index    vector.Index
	embedder embedding.Embedder
	memories store.MemoryStore

	topK        int
	maxDistance float64
	span        int // how many recent messages form the query
	timeout     time.Duration
	logger      *slog.Logger
}

// NewRecallEngine wires a recall engine.
func NewRecallEngine(index vector.Index, embedder embedding.Embedder, memories store.MemoryStore,
	topK int, maxDistance float64, span int, timeout time.Duration, logger *slog.Logger) *RecallEngine {
	return &RecallEngine{
		index:       index,
		embedder:    embedder,
		memories:    memories,
		topK:        topK,
		maxDistance: maxDistance,
		span:        span,
		timeout:     timeout,
		logger:      logger,
	}
}

// Refresh recomputes the injected memory set from the window's recent
// message span and reconciles it: newly qualifying memories are
// injected, no-longer-qualifying ones removed. Idempotent — repeated
// calls with unchanged state produce no net change.
//
// A provider or index failure leaves the previous injected set
// untouched and is retried on the next natural trigger; it is never
// surfaced to the turn path.
func (r *RecallEngine) Refresh(ctx context.Context, w *Window) {
	recent := w.Recent(r.span)
	if len(recent) == 0 {
		return
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	query, err := r.embedder.Embed(embedCtx, formatTranscript(recent))
	if err != nil {
		r.logger.Warn("recall refresh: embed failed, keeping previous set",
			"conversation", w.ConversationID(), "error", err)
		return
	}

	matches, err := r.index.Query(ctx, w.Owner(), query, r.topK, r.maxDistance)
	if err != nil {
		r.logger.Warn("recall refresh: index query failed, keeping previous set",
			"conversation", w.ConversationID(), "error", err)
		return
	}

	desired := make(map[string]bool, len(matches))
	for _, m := range matches {
		desired[m.ID] = true
	}

	for _, id := range w.InjectedIDs() {
		if !desired[id] {
			w.RemoveInjected(id)
		}
	}

	for _, m := range matches {
		mem, err := r.memories.GetMemory(ctx, m.ID)
		if err != nil {
			// likely consolidated out from under the index; skip
			r.logger.Debug("recall refresh: skipping memory", "memory", m.ID, "error", err)
			continue
		}
		if mem.State != model.StateActive {
			continue
		}
		w.Inject(mem.ID, mem.Name, model.CountTokens(mem.Text))
	}
}
