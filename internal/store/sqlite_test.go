package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mnemo-dev/mnemo/internal/model"
	"github.com/mnemo-dev/mnemo/internal/vector"
)

type stubEmbedder struct {
	mu   sync.Mutex
	fail bool
	vecs map[string][]float32
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, fmt.Errorf("embedding provider down")
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *stubEmbedder) Dims() int { return 3 }

func newTestStore(t *testing.T) (*SQLiteStore, *stubEmbedder, *vector.MemoryIndex) {
	t.Helper()
	emb := &stubEmbedder{vecs: map[string][]float32{}}
	idx := vector.NewMemoryIndex()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mnemo.db"), emb, idx, time.Second, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, emb, idx
}

func TestCreateAndGetMemory(t *testing.T) {
	ctx := context.Background()
	s, _, idx := newTestStore(t)

	created, err := s.CreateMemory(ctx, CreateMemoryParams{
		Owner: "u1", Name: "coffee", Text: "prefers oat milk", Source: model.SourceManual,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.State != model.StateActive {
		t.Errorf("new memory should be active, got %s", created.State)
	}
	if len(created.Embedding) != 3 {
		t.Errorf("expected 3-dim embedding, got %d", len(created.Embedding))
	}

	got, err := s.GetMemory(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "coffee" || got.Text != "prefers oat milk" || got.Owner != "u1" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	for i := range created.Embedding {
		if got.Embedding[i] != created.Embedding[i] {
			t.Fatalf("embedding roundtrip mismatch at %d", i)
		}
	}

	matches, err := idx.Query(ctx, "u1", created.Embedding, 5, 1.0)
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != created.ID {
		t.Fatalf("memory should be indexed at creation, got %v", matches)
	}
}

func TestCreateMemoryDefaultsSource(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	m, err := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "n", Text: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Source != model.SourceManual {
		t.Errorf("expected manual default source, got %s", m.Source)
	}
}

func TestCreateMemoryEmbedFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s, emb, idx := newTestStore(t)
	emb.fail = true

	_, err := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "n", Text: "t"})
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	mems, err := s.ListActiveMemories(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mems) != 0 {
		t.Errorf("no row may be persisted when embedding fails, got %d", len(mems))
	}
	if matches, _ := idx.Query(ctx, "u1", []float32{0, 0, 0}, 5, 100); len(matches) != 0 {
		t.Errorf("nothing may reach the index when embedding fails, got %d", len(matches))
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, err := s.GetMemory(context.Background(), "absent"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMemoryArchivedNotFound(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	m, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "n", Text: "t"})

	if _, err := s.db.Exec(`UPDATE memories SET state = ? WHERE id = ?`, model.StateArchived, m.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := s.GetMemory(ctx, m.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("archived memory must read as not found, got %v", err)
	}
}

func TestMarkConsolidatedRecordsProvenance(t *testing.T) {
	ctx := context.Background()
	s, _, idx := newTestStore(t)

	a, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "a", Text: "likes jazz"})
	b, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "b", Text: "enjoys jazz"})
	merged, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "m", Text: "jazz fan", Source: model.SourceConsolidation})

	if err := s.MarkConsolidated(ctx, []string{a.ID, b.ID}, merged.ID); err != nil {
		t.Fatalf("mark consolidated: %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.GetMemory(ctx, id)
		if err != nil {
			t.Fatalf("consolidated member must stay retrievable: %v", err)
		}
		if got.State != model.StateConsolidated || got.ConsolidatedInto != merged.ID {
			t.Errorf("member %s: state=%s into=%s", id, got.State, got.ConsolidatedInto)
		}
		if matches, _ := idx.Query(ctx, "u1", got.Embedding, 5, 0.01); len(matches) != 1 || matches[0].ID != merged.ID {
			t.Errorf("member %s must leave the index after consolidation", id)
		}
	}

	mems, _ := s.ListActiveMemories(ctx, "u1")
	if len(mems) != 1 || mems[0].ID != merged.ID {
		t.Fatalf("only the replacement should be active, got %d", len(mems))
	}
}

func TestMarkConsolidatedAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	a, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "a", Text: "one"})
	b, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "b", Text: "two"})
	target, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "t", Text: "merged"})

	if err := s.MarkConsolidated(ctx, []string{a.ID}, target.ID); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// a is no longer active: the whole batch must roll back
	err := s.MarkConsolidated(ctx, []string{b.ID, a.ID}, target.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive member, got %v", err)
	}
	got, _ := s.GetMemory(ctx, b.ID)
	if got.State != model.StateActive {
		t.Errorf("b must stay active after rollback, got %s", got.State)
	}
	if got.ConsolidatedInto != "" {
		t.Errorf("b must carry no provenance after rollback, got %s", got.ConsolidatedInto)
	}
}

func TestMarkConsolidatedMissingTarget(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	a, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "a", Text: "one"})

	if err := s.MarkConsolidated(ctx, []string{a.ID}, "absent"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing target, got %v", err)
	}
	got, _ := s.GetMemory(ctx, a.ID)
	if got.State != model.StateActive {
		t.Errorf("member must stay active, got %s", got.State)
	}
}

func TestMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		m := &model.Message{
			ConversationID: "c1", Owner: "u1", Ordinal: i,
			Role: model.RoleUser, Content: fmt.Sprintf("msg %d", i),
			Tokens: 2, InContext: true,
		}
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}

	if err := s.MarkEvicted(ctx, ids[:1]); err != nil {
		t.Fatalf("evict: %v", err)
	}

	inCtx, err := s.InContextMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("in-context: %v", err)
	}
	if len(inCtx) != 2 {
		t.Fatalf("expected 2 in-context messages, got %d", len(inCtx))
	}
	if inCtx[0].Ordinal != 1 || inCtx[1].Ordinal != 2 {
		t.Errorf("in-context messages must come back in ordinal order: %d, %d", inCtx[0].Ordinal, inCtx[1].Ordinal)
	}

	evicted, err := s.GetMessage(ctx, ids[0])
	if err != nil {
		t.Fatalf("evicted message must stay retrievable: %v", err)
	}
	if evicted.InContext {
		t.Error("evicted message should read as out of context")
	}
	if evicted.Content != "msg 0" {
		t.Errorf("content mismatch: %q", evicted.Content)
	}

	recent, err := s.RecentMessages(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Ordinal != 2 {
		t.Fatalf("expected only the newest message, got %v", recent)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, err := s.GetMessage(context.Background(), "absent"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvictedSpans(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	if err := s.RecordEvictedSpan(ctx, "u1", "c1", "first span"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordEvictedSpan(ctx, "u1", "c1", "second span"); err != nil {
		t.Fatalf("record: %v", err)
	}

	spans, err := s.PendingSpans(ctx, "u1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 pending spans, got %d", len(spans))
	}

	if err := s.MarkSpanSynthesized(ctx, spans[0].ID); err != nil {
		t.Fatalf("mark synthesized: %v", err)
	}
	spans, _ = s.PendingSpans(ctx, "u1")
	if len(spans) != 1 || spans[0].Content != "second span" {
		t.Fatalf("expected one remaining span, got %v", spans)
	}

	if spans, _ := s.PendingSpans(ctx, "other"); len(spans) != 0 {
		t.Errorf("spans must be owner-scoped, got %d", len(spans))
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	a, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "a", Text: "one"})
	target, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "t", Text: "merged"})
	s.MarkConsolidated(ctx, []string{a.ID}, target.ID)

	m1 := &model.Message{ConversationID: "c1", Owner: "u1", Role: model.RoleUser, Content: "hi", Tokens: 1, InContext: true}
	m2 := &model.Message{ConversationID: "c1", Owner: "u1", Ordinal: 1, Role: model.RoleUser, Content: "bye", Tokens: 1, InContext: true}
	s.SaveMessage(ctx, m1)
	s.SaveMessage(ctx, m2)
	s.MarkEvicted(ctx, []string{m1.ID})
	s.RecordEvictedSpan(ctx, "u1", "c1", "span")

	st, err := s.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveMemories != 1 || st.ConsolidatedMemories != 1 {
		t.Errorf("memory counts: active=%d consolidated=%d", st.ActiveMemories, st.ConsolidatedMemories)
	}
	if st.Messages != 2 || st.InContextMessages != 1 {
		t.Errorf("message counts: total=%d inContext=%d", st.Messages, st.InContextMessages)
	}
	if st.PendingSpans != 1 {
		t.Errorf("pending spans: %d", st.PendingSpans)
	}
}

func TestRehydrateIndex(t *testing.T) {
	ctx := context.Background()
	s, emb, _ := newTestStore(t)
	emb.vecs["one"] = []float32{1, 0, 0}
	emb.vecs["two"] = []float32{0, 1, 0}

	a, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "a", Text: "one"})
	b, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "b", Text: "two"})
	target, _ := s.CreateMemory(ctx, CreateMemoryParams{Owner: "u1", Name: "t", Text: "merged"})
	s.MarkConsolidated(ctx, []string{b.ID}, target.ID)

	fresh := vector.NewMemoryIndex()
	s.index = fresh
	if err := s.RehydrateIndex(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	matches, err := fresh.Query(ctx, "u1", []float32{1, 0, 0}, 10, 0.01)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != a.ID {
		t.Fatalf("expected only the active memory at that point, got %v", matches)
	}
	if matches, _ := fresh.Query(ctx, "u1", []float32{0, 1, 0}, 10, 0.01); len(matches) != 0 {
		t.Errorf("consolidated memory must not be rehydrated, got %v", matches)
	}
}
