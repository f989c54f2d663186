package engine

import (
	"sync"
	"time"

	"github.com/mnemo-dev/mnemo/internal/model"
)

// injectedRef is a weak reference to a memory currently visible in the
// window. The store keeps lifecycle authority; the window only tracks
// what the next prompt will include and what it costs.
type injectedRef struct {
	id     string
	name   string
	tokens int
}

// Window is the per-conversation context window: the ordered in-context
// message sequence plus the injected memory set, with a running token
// total against target/trigger budgets.
//
// All mutations happen under one mutex, so an append can never race a
// compaction into double-evicting or miscounting tokens.
type Window struct {
	mu sync.Mutex

	conversationID string
	owner          string

	target  int
	trigger int
	minAge  time.Duration

	msgs        []*model.Message
	injected    []injectedRef
	tokens      int
	nextOrdinal int
}

// NewWindow creates an empty window. Target must be below trigger;
// config validation enforces this before any window exists.
func NewWindow(conversationID, owner string, targetTokens, triggerTokens int, minMessageAge time.Duration) *Window {
	return &Window{
		conversationID: conversationID,
		owner:          owner,
		target:         targetTokens,
		trigger:        triggerTokens,
		minAge:         minMessageAge,
	}
}

// Load seeds the window with previously persisted in-context messages,
// in ordinal order. Used once when a conversation is reopened.
func (w *Window) Load(msgs []*model.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		w.msgs = append(w.msgs, m)
		w.tokens += m.Tokens
		if m.Ordinal >= w.nextOrdinal {
			w.nextOrdinal = m.Ordinal + 1
		}
	}
}

// Append adds a message to the window, assigning its ordinal position,
// marking it in-context, and adding its tokens to the running total.
// Always succeeds.
func (w *Window) Append(m *model.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m.Ordinal = w.nextOrdinal
	w.nextOrdinal++
	m.InContext = true
	if m.Tokens == 0 {
		m.Tokens = model.CountTokens(m.Content)
	}
	w.msgs = append(w.msgs, m)
	w.tokens += m.Tokens
}

// Compact evicts the oldest in-context messages until the token total
// is at or below the target budget, but never evicts messages younger
// than the minimum age floor — very recent exchanges survive even over
// budget. No-op below the trigger budget.
//
// Returns the evicted messages (in-context flags already cleared) for
// the caller to persist and summarize; eviction itself never blocks on
// those side effects.
func (w *Window) Compact(now time.Time) []*model.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tokens < w.trigger {
		return nil
	}

	var evicted []*model.Message
	for len(w.msgs) > 0 && w.tokens > w.target {
		oldest := w.msgs[0]
		if now.Sub(oldest.CreatedAt) < w.minAge {
			// everything after this is younger still
			break
		}
		oldest.InContext = false
		evicted = append(evicted, oldest)
		w.tokens -= oldest.Tokens
		w.msgs = w.msgs[1:]
	}
	return evicted
}

// Inject adds a memory reference to the visible set. Idempotent per ID.
func (w *Window) Inject(id, name string, tokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ref := range w.injected {
		if ref.id == id {
			return
		}
	}
	w.injected = append(w.injected, injectedRef{id: id, name: name, tokens: tokens})
	w.tokens += tokens
}

// RemoveInjected drops a memory reference from the visible set.
// Removing an absent ID is a no-op.
func (w *Window) RemoveInjected(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, ref := range w.injected {
		if ref.id == id {
			w.tokens -= ref.tokens
			w.injected = append(w.injected[:i], w.injected[i+1:]...)
			return
		}
	}
}

// InjectedIDs returns the IDs of currently injected memories, in
// injection order.
func (w *Window) InjectedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, len(w.injected))
	for i, ref := range w.injected {
		ids[i] = ref.id
	}
	return ids
}

// Messages returns a snapshot of the in-context messages in ordinal
// order.
func (w *Window) Messages() []*model.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Recent returns a snapshot of the newest n in-context messages.
func (w *Window) Recent(n int) []*model.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > len(w.msgs) {
		n = len(w.msgs)
	}
	out := make([]*model.Message, n)
	copy(out, w.msgs[len(w.msgs)-n:])
	return out
}

// TotalTokens returns the running token total (messages + injected
// memories).
func (w *Window) TotalTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tokens
}

// Owner returns the owning user's identifier.
func (w *Window) Owner() string { return w.owner }

// ConversationID returns the conversation identifier.
func (w *Window) ConversationID() string { return w.conversationID }
