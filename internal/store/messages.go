package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-dev/mnemo/internal/model"
)

func (s *SQLiteStore) SaveMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	inContext := 0
	if m.InContext {
		inContext = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, owner, ordinal, role, content, tokens, in_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Owner, m.Ordinal, m.Role, m.Content, m.Tokens, inContext,
		m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MarkEvicted clears the in-context flag on the given messages. The
// rows themselves are retained.
func (s *SQLiteStore) MarkEvicted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE messages SET in_context = 0 WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("mark evicted: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, owner, ordinal, role, content, tokens, in_context, created_at
		 FROM messages WHERE conversation_id = ? AND in_context = 1
		 ORDER BY ordinal DESC LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	// reverse into ordinal order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) InContextMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, owner, ordinal, role, content, tokens, in_context, created_at
		 FROM messages WHERE conversation_id = ? AND in_context = 1
		 ORDER BY ordinal ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetMessage retrieves a message by ID regardless of its in-context
// flag. Evicted messages stay retrievable.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, owner, ordinal, role, content, tokens, in_context, created_at
		 FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	return msgs[0], nil
}

func collectMessages(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]*model.Message, error) {
	var msgs []*model.Message
	for rows.Next() {
		var m model.Message
		var inContext int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Owner, &m.Ordinal, &m.Role,
			&m.Content, &m.Tokens, &inContext, &createdAt); err != nil {
			return nil, err
		}
		m.InContext = inContext == 1
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) RecordEvictedSpan(ctx context.Context, owner, conversationID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evicted_spans (id, owner, conversation_id, content, synthesized, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		s.newID(), owner, conversationID, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record evicted span: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingSpans(ctx context.Context, owner string) ([]EvictedSpan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, conversation_id, content, created_at
		 FROM evicted_spans WHERE owner = ? AND synthesized = 0
		 ORDER BY created_at ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []EvictedSpan
	for rows.Next() {
		var sp EvictedSpan
		var createdAt string
		if err := rows.Scan(&sp.ID, &sp.Owner, &sp.ConversationID, &sp.Content, &createdAt); err != nil {
			return nil, err
		}
		sp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

func (s *SQLiteStore) MarkSpanSynthesized(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE evicted_spans SET synthesized = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark span synthesized: %w", err)
	}
	return nil
}
