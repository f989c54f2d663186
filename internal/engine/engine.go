// Package engine implements the context and memory management core:
// the rolling context window, memory creation and consolidation, and
// similarity-based recall.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/embedding"
	"github.com/mnemo-dev/mnemo/internal/llm"
	"github.com/mnemo-dev/mnemo/internal/model"
	"github.com/mnemo-dev/mnemo/internal/store"
	"github.com/mnemo-dev/mnemo/internal/vector"
)

// Stores is the persistence surface the engine depends on.
type Stores interface {
	store.MemoryStore
	store.MessageStore
	store.SpanStore
}

// Engine ties the components together and drives the per-turn data
// flow. Every dependency is passed in explicitly; the engine owns no
// lazily initialized service graph.
type Engine struct {
	cfg      config.Config
	stores   Stores
	embedder embedding.Embedder
	index    vector.Index
	logger   *slog.Logger

	tracker      *OperationTracker
	recall       *RecallEngine
	consolidator *Consolidator
	synth        *Synthesizer

	winMu   sync.Mutex
	windows map[string]*Window

	// background task lifecycle
	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an engine from validated configuration and explicit
// collaborators.
func New(cfg config.Config, stores Stores, embedder embedding.Embedder, generator llm.Generator,
	index vector.Index, logger *slog.Logger) *Engine {
	bgCtx, cancel := context.WithCancel(context.Background())
	synth := NewSynthesizer(generator, cfg.Memory.WordLimit, cfg.ProviderTimeout)
	return &Engine{
		cfg:      cfg,
		stores:   stores,
		embedder: embedder,
		index:    index,
		logger:   logger,
		tracker: NewOperationTracker(
			cfg.Memory.MessagesPerMemory,
			cfg.Memory.MemoriesPerConsolidation,
			cfg.Memory.MessagesPerRecallRefresh,
		),
		recall: NewRecallEngine(index, embedder, stores,
			cfg.Memory.RecallTopK, cfg.Memory.RecallDistanceThreshold, cfg.Memory.RecallWindow,
			cfg.ProviderTimeout, logger),
		consolidator: NewConsolidator(stores, stores, synth, generator,
			cfg.Memory.ClusterDistanceThreshold, cfg.Memory.MinClusterSize, cfg.Memory.MaxClusterSize,
			cfg.Memory.WordLimit, cfg.ProviderTimeout, logger),
		synth:   synth,
		windows: make(map[string]*Window),
		bgCtx:   bgCtx,
		cancel:  cancel,
	}
}

// Close cancels background work and waits for in-flight tasks.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// spawn runs fn on a tracked goroutine with a bounded lifetime. The
// turn-processing path never waits on these.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.bgCtx, 4*e.cfg.ProviderTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// ContextWindow returns the conversation's window, loading persisted
// in-context messages on first access.
func (e *Engine) ContextWindow(ctx context.Context, conversationID, owner string) (*Window, error) {
	e.winMu.Lock()
	defer e.winMu.Unlock()
	if w, ok := e.windows[conversationID]; ok {
		return w, nil
	}

	w := NewWindow(conversationID, owner,
		e.cfg.Context.TargetTokens, e.cfg.Context.TriggerTokens, e.cfg.Context.MinMessageAge)

	msgs, err := e.stores.InContextMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	w.Load(msgs)
	e.windows[conversationID] = w
	return w, nil
}

// ProcessMessage drives one turn of the data flow: append the message,
// compact if over budget, bump counters, kick off due background work,
// and refresh the recall set for the next prompt.
//
// Only the recall lookup is synchronous; consolidation and summary
// synthesis never block this path.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, owner, role, content string) (*model.Message, error) {
	if !model.ValidRoles[role] {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	w, err := e.ContextWindow(ctx, conversationID, owner)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ConversationID: conversationID,
		Owner:          owner,
		Role:           role,
		Content:        content,
		Tokens:         model.CountTokens(content),
		CreatedAt:      time.Now().UTC(),
	}
	w.Append(msg)
	if err := e.stores.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	e.tracker.IncrementMessages(owner)
	e.maybeCompact(ctx, w)

	if e.tracker.ShouldCreateMemory(owner) {
		e.tracker.ResetMemoryCounter(owner)
		transcript := formatTranscript(w.Messages())
		e.spawn(func(bctx context.Context) {
			e.synthesizeMemory(bctx, owner, conversationID, transcript, model.SourceConversation, false)
		})
	}

	if e.tracker.ShouldConsolidate(owner) {
		e.tracker.ResetConsolidationCounter(owner)
		e.spawn(func(bctx context.Context) {
			if _, err := e.consolidator.Run(bctx, owner); err != nil {
				e.logger.Warn("consolidation pass failed", "owner", owner, "error", err)
			}
		})
	}

	if e.tracker.ShouldRefreshRecall(owner) {
		e.tracker.ResetRecallCounter(owner)
		e.recall.Refresh(ctx, w)
	}

	return msg, nil
}

// maybeCompact evicts over-budget messages and hands the evicted span
// to asynchronous summary synthesis. Eviction proceeds regardless of
// synthesis outcome.
func (e *Engine) maybeCompact(ctx context.Context, w *Window) {
	evicted := w.Compact(time.Now().UTC())
	if len(evicted) == 0 {
		return
	}

	ids := make([]string, len(evicted))
	for i, m := range evicted {
		ids[i] = m.ID
	}
	if err := e.stores.MarkEvicted(ctx, ids); err != nil {
		e.logger.Warn("mark evicted failed", "conversation", w.ConversationID(), "error", err)
	}
	e.logger.Info("compacted context window",
		"conversation", w.ConversationID(), "evicted", len(evicted), "tokens", w.TotalTokens())

	transcript := formatTranscript(evicted)
	owner, convo := w.Owner(), w.ConversationID()
	e.spawn(func(bctx context.Context) {
		e.synthesizeMemory(bctx, owner, convo, transcript, model.SourceCompaction, true)
	})
}

// synthesizeMemory summarizes a transcript into a memory. When record
// is set, a failed attempt is recorded as a pending span so the
// consolidation engine can retry it later.
func (e *Engine) synthesizeMemory(ctx context.Context, owner, conversationID, transcript, source string, record bool) {
	name, text, err := e.synth.Summarize(ctx, transcript)
	if err == nil {
		_, err = e.stores.CreateMemory(ctx, store.CreateMemoryParams{
			Owner:  owner,
			Name:   name,
			Text:   text,
			Source: source,
		})
	}
	if err != nil {
		e.logger.Warn("memory synthesis deferred", "owner", owner, "source", source, "error", err)
		if record {
			if rerr := e.stores.RecordEvictedSpan(ctx, owner, conversationID, transcript); rerr != nil {
				e.logger.Error("record evicted span failed", "owner", owner, "error", rerr)
			}
		}
		return
	}
	e.tracker.IncrementMemories(owner)
}

// Remember creates a memory directly, the surface used by the
// tool-dispatch layer for "remember this" commands.
func (e *Engine) Remember(ctx context.Context, owner, name, text string) (*model.Memory, error) {
	if name == "" {
		name = firstWords(text, 8)
	}
	mem, err := e.stores.CreateMemory(ctx, store.CreateMemoryParams{
		Owner:  owner,
		Name:   name,
		Text:   text,
		Source: model.SourceManual,
	})
	if err != nil {
		return nil, err
	}
	e.tracker.IncrementMemories(owner)
	return mem, nil
}

// Recall returns the memories most relevant to a free-text query,
// nearest first.
func (e *Engine) Recall(ctx context.Context, owner, query string) ([]*model.Memory, error) {
	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()
	vec, err := e.embedder.Embed(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %v", model.ErrProviderUnavailable, err)
	}

	matches, err := e.index.Query(ctx, owner, vec, e.cfg.Memory.RecallTopK, e.cfg.Memory.RecallDistanceThreshold)
	if err != nil {
		return nil, err
	}

	var out []*model.Memory
	for _, m := range matches {
		mem, err := e.stores.GetMemory(ctx, m.ID)
		if err != nil {
			continue
		}
		out = append(out, mem)
	}
	return out, nil
}

// Consolidate forces a consolidation pass for the owner.
func (e *Engine) Consolidate(ctx context.Context, owner string) (int, error) {
	merged, err := e.consolidator.Run(ctx, owner)
	if err == nil {
		e.tracker.ResetConsolidationCounter(owner)
	}
	return merged, err
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
