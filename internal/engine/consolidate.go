package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mnemo-dev/mnemo/internal/llm"
	"github.com/mnemo-dev/mnemo/internal/model"
	"github.com/mnemo-dev/mnemo/internal/store"
)

const consolidateSystemPrompt = `Your task is to consolidate several overlapping pieces of remembered text into one.
Each piece has a title and a body. Combine them into a single coherent title and body covering the distinct information once.
Produce the new title on the first line, then a blank line, then the new body.
The new body must not exceed %d words.
When referring to dates and times, use ISO 8601 format rather than relative references; it is critical that specific absolute dates are retained when applicable.`

// Consolidator merges clusters of highly similar memories into single,
// richer memories, preserving provenance.
type Consolidator struct {
	memories store.MemoryStore
	spans    store.SpanStore
	synth    *Synthesizer

	generator   llm.Generator
	maxDistance float64
	minSize     int
	maxSize     int
	wordLimit   int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewConsolidator wires a consolidation engine.
func NewConsolidator(memories store.MemoryStore, spans store.SpanStore, synth *Synthesizer,
	generator llm.Generator, maxDistance float64, minSize, maxSize, wordLimit int,
	timeout time.Duration, logger *slog.Logger) *Consolidator {
	return &Consolidator{
		memories:    memories,
		spans:       spans,
		synth:       synth,
		generator:   generator,
		maxDistance: maxDistance,
		minSize:     minSize,
		maxSize:     maxSize,
		wordLimit:   wordLimit,
		timeout:     timeout,
		logger:      logger,
	}
}

// Run executes one consolidation pass for the owner: retry pending
// eviction-span syntheses, cluster active memories, and merge each
// qualifying cluster. Each cluster commits independently, so
// cancellation between clusters leaves no partial state. Returns the
// number of clusters merged.
func (c *Consolidator) Run(ctx context.Context, owner string) (int, error) {
	c.retryPendingSpans(ctx, owner)

	mems, err := c.memories.ListActiveMemories(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list active memories: %w", err)
	}

	clusters := findClusters(mems, c.maxDistance, c.minSize, c.maxSize)
	if len(clusters) == 0 {
		return 0, nil
	}

	consumed := make(map[string]bool)
	merged := 0
	for _, cl := range clusters {
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}

		var members []*model.Memory
		for _, idx := range cl.members {
			if !consumed[mems[idx].ID] {
				members = append(members, mems[idx])
			}
		}
		if len(members) < c.minSize {
			continue
		}

		if err := c.merge(ctx, owner, members); err != nil {
			// cluster stays active and unconsolidated; next pass retries
			c.logger.Warn("cluster merge failed", "owner", owner, "size", len(members), "error", err)
			continue
		}
		for _, m := range members {
			consumed[m.ID] = true
		}
		merged++
	}
	return merged, nil
}

// merge consolidates one cluster: synthesize the combined text, create
// the replacement memory, then flip the members. Members are never
// marked without a successfully created replacement.
func (c *Consolidator) merge(ctx context.Context, owner string, members []*model.Memory) error {
	name, text, err := c.mergedText(ctx, members)
	if err != nil {
		return err
	}

	var replacementID string
	if name == "" {
		// identical texts: no new memory needed, keep the oldest member
		// and fold the duplicates into it
		keeper := members[0]
		for _, m := range members[1:] {
			if m.CreatedAt.Before(keeper.CreatedAt) {
				keeper = m
			}
		}
		replacementID = keeper.ID
		var dupes []string
		for _, m := range members {
			if m.ID != keeper.ID {
				dupes = append(dupes, m.ID)
			}
		}
		c.logger.Info("deduplicating identical memories", "owner", owner, "keeper", keeper.ID, "duplicates", len(dupes))
		return c.memories.MarkConsolidated(ctx, dupes, replacementID)
	}

	mem, err := c.memories.CreateMemory(ctx, store.CreateMemoryParams{
		Owner:  owner,
		Name:   name,
		Text:   text,
		Source: model.SourceConsolidation,
	})
	if err != nil {
		return fmt.Errorf("create consolidated memory: %w", err)
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	if err := c.memories.MarkConsolidated(ctx, ids, mem.ID); err != nil {
		return fmt.Errorf("mark members consolidated into %s: %w", mem.ID, err)
	}

	c.logger.Info("consolidated cluster", "owner", owner, "members", len(members), "into", mem.ID, "name", name)
	return nil
}

// mergedText returns the consolidated title and body. An empty title
// signals the identical-text short-circuit: no LLM call is spent on
// exact duplicates.
func (c *Consolidator) mergedText(ctx context.Context, members []*model.Memory) (string, string, error) {
	identical := true
	for _, m := range members[1:] {
		if m.Text != members[0].Text {
			identical = false
			break
		}
	}
	if identical {
		return "", "", nil
	}

	var b strings.Builder
	for i, m := range members {
		fmt.Fprintf(&b, "Title %d: %s\nText %d: %s\n\n", i+1, m.Name, i+1, m.Text)
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.generator.Generate(genCtx, fmt.Sprintf(consolidateSystemPrompt, c.wordLimit), b.String())
	if err != nil {
		return "", "", fmt.Errorf("consolidation summary: %w: %v", model.ErrProviderUnavailable, err)
	}

	name, text := parseTitled(resp)
	if name == "" || text == "" {
		return "", "", fmt.Errorf("consolidation summary: unusable response: %w", model.ErrProviderUnavailable)
	}
	return name, text, nil
}

// retryPendingSpans re-attempts synthesis of evicted spans whose
// summary memory was never created. Best-effort: the first provider
// failure stops the batch until the next pass.
func (c *Consolidator) retryPendingSpans(ctx context.Context, owner string) {
	spans, err := c.spans.PendingSpans(ctx, owner)
	if err != nil {
		c.logger.Warn("list pending spans failed", "owner", owner, "error", err)
		return
	}
	for _, sp := range spans {
		name, text, err := c.synth.Summarize(ctx, sp.Content)
		if err != nil {
			c.logger.Warn("span synthesis retry failed", "span", sp.ID, "error", err)
			return
		}
		if _, err := c.memories.CreateMemory(ctx, store.CreateMemoryParams{
			Owner:  owner,
			Name:   name,
			Text:   text,
			Source: model.SourceCompaction,
		}); err != nil {
			c.logger.Warn("span memory create failed", "span", sp.ID, "error", err)
			return
		}
		if err := c.spans.MarkSpanSynthesized(ctx, sp.ID); err != nil {
			c.logger.Warn("mark span synthesized failed", "span", sp.ID, "error", err)
		}
	}
}
