package graph

import "sort"

// maxStatsEntries caps the example lists in ComponentStats so reports
// stay readable on large graphs.
const maxStatsEntries = 200

// Components returns the connected components of the resolved graph,
// each a slice of entity IDs, largest component first. Edges are treated
// as undirected; pending connections do not join components; entities
// with no resolved connections form singleton components.
func Components(s *Store) [][]string {
	ids := s.entityID
	if len(ids) == 0 {
		return nil
	}

	idIndex := make(map[string]int, len(ids))
	for i, id := range ids {
		idIndex[id] = i
	}

	adj := make([][]int, len(ids))
	for _, c := range s.Resolved() {
		si, okS := idIndex[c.Source]
		ti, okT := idIndex[c.Target]
		if !okS || !okT {
			continue
		}
		adj[si] = append(adj[si], ti)
		adj[ti] = append(adj[ti], si)
	}

	visited := make([]bool, len(ids))
	var components [][]string

	for i := range ids {
		if visited[i] {
			continue
		}
		var comp []string
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, ids[node])
			for _, next := range adj[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		components = append(components, comp)
	}

	sort.SliceStable(components, func(a, b int) bool {
		return len(components[a]) > len(components[b])
	})
	return components
}

// ComponentStats is the connectivity summary included in run reports.
type ComponentStats struct {
	Count       int `json:"count"`
	LargestSize int `json:"largest_size"`

	// Isolated lists entities with no resolved connections at all, capped.
	Isolated []string `json:"isolated,omitempty"`

	// Detached lists the components outside the largest one, capped. A
	// healthy extraction has one component and nothing here.
	Detached [][]string `json:"detached,omitempty"`
}

// Stats summarizes the store's connectivity for the run report.
func Stats(s *Store) ComponentStats {
	comps := Components(s)

	stats := ComponentStats{Count: len(comps)}
	if len(comps) == 0 {
		return stats
	}
	stats.LargestSize = len(comps[0])

	degree := make(map[string]int)
	for _, c := range s.Resolved() {
		degree[c.Source]++
		degree[c.Target]++
	}
	for _, id := range s.entityID {
		if degree[id] == 0 {
			if len(stats.Isolated) < maxStatsEntries {
				stats.Isolated = append(stats.Isolated, id)
			}
		}
	}

	for _, comp := range comps[1:] {
		if len(stats.Detached) >= maxStatsEntries {
			break
		}
		stats.Detached = append(stats.Detached, comp)
	}
	return stats
}
