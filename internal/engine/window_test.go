package engine

import (
	"testing"
	"time"

	"github.com/mnemo-dev/mnemo/internal/model"
)

func msg(tokens int, age time.Duration, now time.Time) *model.Message {
	return &model.Message{
		Role:      model.RoleUser,
		Content:   "m",
		Tokens:    tokens,
		CreatedAt: now.Add(-age),
	}
}

func TestAppendAssignsOrdinals(t *testing.T) {
	w := NewWindow("c1", "u1", 100, 120, 0)
	now := time.Now()

	a := msg(10, time.Hour, now)
	b := msg(10, time.Hour, now)
	w.Append(a)
	w.Append(b)

	if a.Ordinal != 0 || b.Ordinal != 1 {
		t.Errorf("expected ordinals 0,1 got %d,%d", a.Ordinal, b.Ordinal)
	}
	if !a.InContext || !b.InContext {
		t.Error("appended messages must be in-context")
	}
	if w.TotalTokens() != 20 {
		t.Errorf("expected 20 tokens, got %d", w.TotalTokens())
	}
}

func TestCompactNoopBelowTrigger(t *testing.T) {
	w := NewWindow("c1", "u1", 100, 120, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		w.Append(msg(10, time.Hour, now))
	}

	if evicted := w.Compact(now); evicted != nil {
		t.Fatalf("expected no eviction at 50 tokens, got %d", len(evicted))
	}
	if len(w.Messages()) != 5 {
		t.Errorf("all 5 messages should remain in-context")
	}
}

func TestCompactEvictsOldestFirst(t *testing.T) {
	w := NewWindow("c1", "u1", 70, 90, 0)
	now := time.Now()
	for i := 0; i < 10; i++ {
		w.Append(msg(10, time.Hour, now))
	}

	evicted := w.Compact(now)
	if len(evicted) != 3 {
		t.Fatalf("expected 3 evictions to reach 70, got %d", len(evicted))
	}
	for i, m := range evicted {
		if m.Ordinal != i {
			t.Errorf("eviction must be oldest-first: position %d has ordinal %d", i, m.Ordinal)
		}
		if m.InContext {
			t.Errorf("evicted message %d still flagged in-context", m.Ordinal)
		}
	}
	if w.TotalTokens() != 70 {
		t.Errorf("expected 70 tokens after compaction, got %d", w.TotalTokens())
	}

	// remaining messages are exactly ordinals 3..9
	for i, m := range w.Messages() {
		if m.Ordinal != i+3 {
			t.Errorf("expected ordinal %d in-context, got %d", i+3, m.Ordinal)
		}
	}
}

func TestCompactRespectsMinAgeFloor(t *testing.T) {
	w := NewWindow("c1", "u1", 50, 80, 10*time.Minute)
	now := time.Now()

	w.Append(msg(30, time.Hour, now))      // old enough to evict
	w.Append(msg(30, time.Minute, now))    // too young
	w.Append(msg(30, 30*time.Second, now)) // too young

	evicted := w.Compact(now)
	if len(evicted) != 1 {
		t.Fatalf("only the old message may be evicted, got %d", len(evicted))
	}
	if evicted[0].Ordinal != 0 {
		t.Errorf("expected ordinal 0 evicted, got %d", evicted[0].Ordinal)
	}
	// budget still exceeded, deliberately: recent exchanges are never dropped
	if w.TotalTokens() != 60 {
		t.Errorf("expected 60 tokens remaining, got %d", w.TotalTokens())
	}
}

func TestCompactIdempotentWhenAllYoung(t *testing.T) {
	w := NewWindow("c1", "u1", 10, 20, time.Hour)
	now := time.Now()
	for i := 0; i < 5; i++ {
		w.Append(msg(10, time.Minute, now))
	}
	if evicted := w.Compact(now); len(evicted) != 0 {
		t.Fatalf("no message younger than the floor may be evicted, got %d", len(evicted))
	}
}

func TestInjectCountsTokens(t *testing.T) {
	w := NewWindow("c1", "u1", 100, 120, 0)
	w.Inject("m1", "a memory", 15)
	if w.TotalTokens() != 15 {
		t.Errorf("injected memory tokens must count, got %d", w.TotalTokens())
	}

	// idempotent per ID
	w.Inject("m1", "a memory", 15)
	if w.TotalTokens() != 15 {
		t.Errorf("re-injection must not double-count, got %d", w.TotalTokens())
	}

	w.RemoveInjected("m1")
	if w.TotalTokens() != 0 {
		t.Errorf("removal must release tokens, got %d", w.TotalTokens())
	}
	w.RemoveInjected("missing") // no-op
}

func TestLoadRestoresOrdinalCounter(t *testing.T) {
	w := NewWindow("c1", "u1", 100, 120, 0)
	now := time.Now()
	restored := []*model.Message{
		{Ordinal: 4, Tokens: 10, CreatedAt: now, InContext: true},
		{Ordinal: 7, Tokens: 10, CreatedAt: now, InContext: true},
	}
	w.Load(restored)

	next := msg(10, 0, now)
	w.Append(next)
	if next.Ordinal != 8 {
		t.Errorf("append after load must continue ordinals, got %d", next.Ordinal)
	}
	if w.TotalTokens() != 30 {
		t.Errorf("expected 30 tokens, got %d", w.TotalTokens())
	}
}
