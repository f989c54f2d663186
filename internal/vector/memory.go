package vector

import (
	"context"
	"sort"
	"sync"

	"github.com/mnemo-dev/mnemo/internal/embedding"
)

// MemoryIndex is an exact in-process L2 index. Entries are partitioned
// by owner; each partition takes a read-write lock, optimizing for
// frequent reads and rare writes.
type MemoryIndex struct {
	mu     sync.Mutex // guards the owners map itself
	owners map[string]*ownerIndex
}

type ownerIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{owners: make(map[string]*ownerIndex)}
}

func (idx *MemoryIndex) owner(owner string) *ownerIndex {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	oi, ok := idx.owners[owner]
	if !ok {
		oi = &ownerIndex{entries: make(map[string]Entry)}
		idx.owners[owner] = oi
	}
	return oi
}

func (idx *MemoryIndex) Upsert(ctx context.Context, e Entry) error {
	oi := idx.owner(e.Owner)
	oi.mu.Lock()
	defer oi.mu.Unlock()
	oi.entries[e.ID] = e
	return nil
}

func (idx *MemoryIndex) Remove(ctx context.Context, owner, id string) error {
	oi := idx.owner(owner)
	oi.mu.Lock()
	defer oi.mu.Unlock()
	delete(oi.entries, id)
	return nil
}

func (idx *MemoryIndex) Query(ctx context.Context, owner string, query []float32, k int, maxDistance float64) ([]Match, error) {
	oi := idx.owner(owner)
	oi.mu.RLock()
	defer oi.mu.RUnlock()

	type hit struct {
		Match
		created int64
	}
	var hits []hit
	for _, e := range oi.entries {
		d := embedding.L2Distance(query, e.Embedding)
		if d <= maxDistance {
			hits = append(hits, hit{Match{ID: e.ID, Distance: d}, e.CreatedAt.UnixNano()})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		// ties favor fresher knowledge
		if hits[i].created != hits[j].created {
			return hits[i].created > hits[j].created
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.Match
	}
	return out, nil
}
