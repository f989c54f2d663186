// Package store provides SQLite-backed persistence for messages and
// memories, and keeps the similarity index in sync with memory
// lifecycle transitions.
package store

import (
	"context"
	"time"

	"github.com/mnemo-dev/mnemo/internal/model"
)

// CreateMemoryParams holds parameters for creating a memory.
type CreateMemoryParams struct {
	Owner  string
	Name   string
	Text   string
	Source string
}

// EvictedSpan is a compacted message span whose summary memory has not
// been created yet (the synthesis call failed). Retried best-effort by
// the consolidation engine.
type EvictedSpan struct {
	ID             string
	Owner          string
	ConversationID string
	Content        string
	CreatedAt      time.Time
}

// MemoryStore is the authoritative CRUD and lifecycle surface for
// memories.
type MemoryStore interface {
	// CreateMemory embeds the text and persists the memory as active.
	// Fails with model.ErrProviderUnavailable if the embedding provider
	// cannot be reached; nothing is persisted in that case.
	CreateMemory(ctx context.Context, p CreateMemoryParams) (*model.Memory, error)

	// GetMemory fails with model.ErrNotFound if absent or archived.
	// Consolidated memories remain retrievable for provenance.
	GetMemory(ctx context.Context, id string) (*model.Memory, error)

	// MarkConsolidated transactionally flips the given memories to the
	// consolidated state, recording the replacement's ID. Never deletes.
	MarkConsolidated(ctx context.Context, oldIDs []string, newID string) error

	// ListActiveMemories returns the owner's active memories, order
	// unspecified.
	ListActiveMemories(ctx context.Context, owner string) ([]*model.Memory, error)
}

// MessageStore persists conversation messages and their in-context flag.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *model.Message) error

	// MarkEvicted clears the in-context flag. Rows are never deleted.
	MarkEvicted(ctx context.Context, ids []string) error

	// RecentMessages returns the newest n in-context messages of a
	// conversation in ordinal order.
	RecentMessages(ctx context.Context, conversationID string, n int) ([]*model.Message, error)

	// InContextMessages returns all in-context messages of a
	// conversation in ordinal order.
	InContextMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// SpanStore records eviction spans pending summary synthesis.
type SpanStore interface {
	RecordEvictedSpan(ctx context.Context, owner, conversationID, content string) error
	PendingSpans(ctx context.Context, owner string) ([]EvictedSpan, error)
	MarkSpanSynthesized(ctx context.Context, id string) error
}
