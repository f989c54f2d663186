package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-dev/mnemo/internal/model"
	"github.com/mnemo-dev/mnemo/internal/vector"
)

func (s *SQLiteStore) CreateMemory(ctx context.Context, p CreateMemoryParams) (*model.Memory, error) {
	if p.Source == "" {
		p.Source = model.SourceManual
	}

	// Embed first: the record is only written once the vector exists,
	// so an active memory without an embedding can never be persisted.
	embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	emb, err := s.embedder.Embed(embedCtx, p.Text)
	if err != nil {
		return nil, fmt.Errorf("embed memory %q: %w: %v", p.Name, model.ErrProviderUnavailable, err)
	}

	now := time.Now().UTC()
	id := s.newID()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner, name, text, embedding, source, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Owner, p.Name, p.Text, encodeVector(emb), p.Source, model.StateActive,
		now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	mem := &model.Memory{
		ID:        id,
		Owner:     p.Owner,
		Name:      p.Name,
		Text:      p.Text,
		Embedding: emb,
		Source:    p.Source,
		State:     model.StateActive,
		CreatedAt: now,
	}

	if err := s.index.Upsert(ctx, vector.Entry{
		ID: id, Owner: p.Owner, Embedding: emb, CreatedAt: now,
	}); err != nil {
		s.logger.Warn("index upsert failed", "memory", id, "error", err)
	}

	return mem, nil
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, text, embedding, source, state, consolidated_into, created_at
		 FROM memories WHERE id = ?`, id)

	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if m.State == model.StateArchived {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	return m, nil
}

// MarkConsolidated flips all oldIDs to the consolidated state in one
// transaction: either every member records the new memory's ID, or none
// do. A member that is no longer active aborts the whole batch.
func (s *SQLiteStore) MarkConsolidated(ctx context.Context, oldIDs []string, newID string) error {
	var owner string
	if err := s.db.QueryRowContext(ctx, `SELECT owner FROM memories WHERE id = ?`, newID).Scan(&owner); err != nil {
		return fmt.Errorf("consolidation target %s: %w", newID, model.ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range oldIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE memories SET state = ?, consolidated_into = ?
			 WHERE id = ? AND state = ?`,
			model.StateConsolidated, newID, id, model.StateActive)
		if err != nil {
			return fmt.Errorf("mark consolidated %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			return fmt.Errorf("mark consolidated %s: %w", id, model.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, id := range oldIDs {
		if err := s.index.Remove(ctx, owner, id); err != nil {
			s.logger.Warn("index remove failed", "memory", id, "error", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListActiveMemories(ctx context.Context, owner string) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, text, embedding, source, state, consolidated_into, created_at
		 FROM memories WHERE owner = ? AND state = ?`, owner, model.StateActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// RehydrateIndex loads every active memory into the similarity index.
// Called once at startup when the index is not persistent.
func (s *SQLiteStore) RehydrateIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, embedding, created_at FROM memories WHERE state = ?`,
		model.StateActive)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, owner, createdAt string
		var blob []byte
		if err := rows.Scan(&id, &owner, &blob, &createdAt); err != nil {
			return err
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		if err := s.index.Upsert(ctx, vector.Entry{
			ID: id, Owner: owner, Embedding: decodeVector(blob), CreatedAt: created,
		}); err != nil {
			return fmt.Errorf("rehydrate %s: %w", id, err)
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (*model.Memory, error) {
	var m model.Memory
	var consolidatedInto sql.NullString
	var blob []byte
	var createdAt string

	err := row.Scan(&m.ID, &m.Owner, &m.Name, &m.Text, &blob, &m.Source, &m.State, &consolidatedInto, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Embedding = decodeVector(blob)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if consolidatedInto.Valid {
		m.ConsolidatedInto = consolidatedInto.String
	}
	return &m, nil
}
