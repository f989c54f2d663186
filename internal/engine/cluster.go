package engine

import (
	"sort"

	"github.com/mnemo-dev/mnemo/internal/embedding"
	"github.com/mnemo-dev/mnemo/internal/model"
)

// cluster is an ephemeral index set over the memory arena, computed for
// a single consolidation pass and never persisted.
type cluster struct {
	members  []int // indexes into the arena
	centroid embedding.Vector
}

// findClusters groups memories whose pairwise embedding distance is at
// most maxDistance into connected components, density-style: any chain
// of close neighbors joins a component.
//
// Components below minSize are dropped (no forced pairwise merges).
// Components above maxSize are truncated to the maxSize members nearest
// the centroid; the remainder is reconsidered on a later pass, keeping
// single-merge cost bounded.
//
// The returned order is the processing order: larger clusters first,
// then lowest member ID. Deterministic for a given arena.
func findClusters(arena []*model.Memory, maxDistance float64, minSize, maxSize int) []cluster {
	n := len(arena)
	if n < minSize {
		return nil
	}

	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if embedding.L2Distance(arena[i].Embedding, arena[j].Embedding) <= maxDistance {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	visited := make([]bool, n)
	var clusters []cluster
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		// BFS the component
		var members []int
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			members = append(members, cur)
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		if len(members) < minSize {
			continue
		}

		vecs := make([]embedding.Vector, len(members))
		for k, idx := range members {
			vecs[k] = arena[idx].Embedding
		}
		centroid := embedding.Centroid(vecs)

		if len(members) > maxSize {
			sort.Slice(members, func(a, b int) bool {
				da := embedding.L2Distance(arena[members[a]].Embedding, centroid)
				db := embedding.L2Distance(arena[members[b]].Embedding, centroid)
				if da != db {
					return da < db
				}
				return arena[members[a]].ID < arena[members[b]].ID
			})
			members = members[:maxSize]
		}

		sort.Slice(members, func(a, b int) bool {
			return arena[members[a]].ID < arena[members[b]].ID
		})
		clusters = append(clusters, cluster{members: members, centroid: centroid})
	}

	// processing order: larger cluster wins, then lowest member ID
	sort.Slice(clusters, func(a, b int) bool {
		if len(clusters[a].members) != len(clusters[b].members) {
			return len(clusters[a].members) > len(clusters[b].members)
		}
		return arena[clusters[a].members[0]].ID < arena[clusters[b].members[0]].ID
	})
	return clusters
}
