package store

import (
	"context"

	"github.com/mnemo-dev/mnemo/internal/model"
)

// Stats summarizes the database contents for an owner.
type Stats struct {
	ActiveMemories       int `json:"active_memories"`
	ConsolidatedMemories int `json:"consolidated_memories"`
	Messages             int `json:"messages"`
	InContextMessages    int `json:"in_context_messages"`
	PendingSpans         int `json:"pending_spans"`
}

// Stats returns counts for the given owner.
func (s *SQLiteStore) Stats(ctx context.Context, owner string) (*Stats, error) {
	st := &Stats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE owner = ? AND state = ?`,
		owner, model.StateActive).Scan(&st.ActiveMemories)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE owner = ? AND state = ?`,
		owner, model.StateConsolidated).Scan(&st.ConsolidatedMemories)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(in_context), 0) FROM messages WHERE owner = ?`,
		owner).Scan(&st.Messages, &st.InContextMessages)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evicted_spans WHERE owner = ? AND synthesized = 0`,
		owner).Scan(&st.PendingSpans)
	if err != nil {
		return nil, err
	}
	return st, nil
}
