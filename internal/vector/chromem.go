package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

// ChromemIndex is a persistent index backed by chromem-go, one
// collection per owner. chromem scores by cosine similarity over
// normalized vectors; distances are mapped back to L2 via
// d^2 = 2(1-cos), which is exact on the unit sphere.
type ChromemIndex struct {
	mu   sync.Mutex
	db   *chromem.DB
	cols map[string]*chromem.Collection
}

// NewChromemIndex opens or creates a persistent chromem database.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &ChromemIndex{db: db, cols: make(map[string]*chromem.Collection)}, nil
}

// noEmbed rejects implicit embedding: every document carries a
// pre-computed vector from the memory store.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("index does not embed; embeddings must be precomputed")
}

func (idx *ChromemIndex) collection(owner string) (*chromem.Collection, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	col, ok := idx.cols[owner]
	if !ok {
		var err error
		col, err = idx.db.GetOrCreateCollection("memories-"+owner, nil, noEmbed)
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
		idx.cols[owner] = col
	}
	return col, nil
}

func (idx *ChromemIndex) Upsert(ctx context.Context, e Entry) error {
	col, err := idx.collection(e.Owner)
	if err != nil {
		return err
	}
	// AddDocument rejects duplicate IDs; drop any stale entry first.
	col.Delete(ctx, nil, nil, e.ID)
	return col.AddDocument(ctx, chromem.Document{
		ID:        e.ID,
		Embedding: e.Embedding,
		Content:   e.ID,
		Metadata:  map[string]string{"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano)},
	})
}

func (idx *ChromemIndex) Remove(ctx context.Context, owner, id string) error {
	col, err := idx.collection(owner)
	if err != nil {
		return err
	}
	return col.Delete(ctx, nil, nil, id)
}

func (idx *ChromemIndex) Query(ctx context.Context, owner string, query []float32, k int, maxDistance float64) ([]Match, error) {
	col, err := idx.collection(owner)
	if err != nil {
		return nil, err
	}

	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if n > k {
		n = k
	}

	results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	type hit struct {
		Match
		created time.Time
	}
	var hits []hit
	for _, res := range results {
		d := math.Sqrt(math.Max(0, 2-2*float64(res.Similarity)))
		if d > maxDistance {
			continue
		}
		created, _ := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
		hits = append(hits, hit{Match{ID: res.ID, Distance: d}, created})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if !hits[i].created.Equal(hits[j].created) {
			return hits[i].created.After(hits[j].created)
		}
		return hits[i].ID < hits[j].ID
	})

	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.Match
	}
	return out, nil
}
