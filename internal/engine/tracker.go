package engine

import "sync"

// counters is the per-owner operation state. Reset to zero whenever the
// gated operation fires.
type counters struct {
	messagesSinceMemory        int
	memoriesSinceConsolidation int
	messagesSinceRecall        int
}

// OperationTracker gates expensive operations on cheap per-owner
// counters. Created lazily per owner; lives for the process lifetime.
// Safe under concurrent increments from in-flight turns.
type OperationTracker struct {
	mu     sync.Mutex
	owners map[string]*counters

	messagesPerMemory        int
	memoriesPerConsolidation int
	messagesPerRecall        int
}

// NewOperationTracker creates a tracker with the given thresholds.
func NewOperationTracker(messagesPerMemory, memoriesPerConsolidation, messagesPerRecall int) *OperationTracker {
	return &OperationTracker{
		owners:                   make(map[string]*counters),
		messagesPerMemory:        messagesPerMemory,
		memoriesPerConsolidation: memoriesPerConsolidation,
		messagesPerRecall:        messagesPerRecall,
	}
}

func (t *OperationTracker) counters(owner string) *counters {
	c, ok := t.owners[owner]
	if !ok {
		c = &counters{}
		t.owners[owner] = c
	}
	return c
}

// IncrementMessages records one processed message.
func (t *OperationTracker) IncrementMessages(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counters(owner)
	c.messagesSinceMemory++
	c.messagesSinceRecall++
}

// IncrementMemories records one created memory.
func (t *OperationTracker) IncrementMemories(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters(owner).memoriesSinceConsolidation++
}

// ShouldCreateMemory reports whether enough messages have accumulated
// to form a memory from recent context.
func (t *OperationTracker) ShouldCreateMemory(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters(owner).messagesSinceMemory >= t.messagesPerMemory
}

// ShouldConsolidate reports whether a consolidation pass is due.
func (t *OperationTracker) ShouldConsolidate(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters(owner).memoriesSinceConsolidation >= t.memoriesPerConsolidation
}

// ShouldRefreshRecall reports whether the recall set should be
// recomputed for the next turn.
func (t *OperationTracker) ShouldRefreshRecall(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters(owner).messagesSinceRecall >= t.messagesPerRecall
}

// ResetMemoryCounter zeroes the messages-since-memory counter.
func (t *OperationTracker) ResetMemoryCounter(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters(owner).messagesSinceMemory = 0
}

// ResetConsolidationCounter zeroes the memories-since-consolidation
// counter.
func (t *OperationTracker) ResetConsolidationCounter(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters(owner).memoriesSinceConsolidation = 0
}

// ResetRecallCounter zeroes the messages-since-recall counter.
func (t *OperationTracker) ResetRecallCounter(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters(owner).messagesSinceRecall = 0
}
