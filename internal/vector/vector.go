// Package vector provides owner-scoped nearest-neighbor search over
// memory embeddings.
package vector

import (
	"context"
	"time"
)

// Entry is an indexed embedding.
type Entry struct {
	ID        string
	Owner     string
	Embedding []float32
	CreatedAt time.Time
}

// Match is a query hit, ordered by ascending distance.
type Match struct {
	ID       string
	Distance float64
}

// Index is a nearest-neighbor index over active memory embeddings,
// kept in sync with the memory store's lifecycle transitions.
type Index interface {
	// Upsert adds or replaces an entry.
	Upsert(ctx context.Context, e Entry) error

	// Remove drops an entry. Removing an absent ID is not an error.
	Remove(ctx context.Context, owner, id string) error

	// Query returns up to k entries whose distance to query is at most
	// maxDistance (inclusive), ordered by ascending distance, ties
	// broken by most recent creation first. An empty result is not an
	// error.
	Query(ctx context.Context, owner string, query []float32, k int, maxDistance float64) ([]Match, error)
}
