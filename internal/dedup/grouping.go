package dedup

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// pairEdge is a matched pair of reports
type pairEdge struct {
	A, B  uuid.UUID
	Match Match
}

// component is a transitively connected group of matched reports
type component struct {
	Members    []uuid.UUID
	MatchType  string // match type of the strongest edge
	Confidence int    // confidence of the strongest edge
	// Similarity holds the strongest edge confidence seen per member
	Similarity map[uuid.UUID]int
}

// MemberKey returns the canonical identity of a member set: the sorted
// report IDs joined with ":". Equal member sets always produce equal keys.
func MemberKey(ids []uuid.UUID) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	sort.Strings(strs)
	return strings.Join(strs, ":")
}

// groupEdges partitions matched pairs into transitively connected components
// using union-find. Each component keeps its strongest edge's match type and
// confidence, and the per-member best similarity.
func groupEdges(edges []pairEdge) []component {
	parent := make(map[uuid.UUID]uuid.UUID)

	var find func(x uuid.UUID) uuid.UUID
	find = func(x uuid.UUID) uuid.UUID {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}

	union := func(x, y uuid.UUID) {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		if _, ok := parent[y]; !ok {
			parent[y] = y
		}
		rx, ry := find(x), find(y)
		if rx != ry {
			parent[rx] = ry
		}
	}

	for _, e := range edges {
		union(e.A, e.B)
	}

	byRoot := make(map[uuid.UUID]*component)
	for _, e := range edges {
		root := find(e.A)
		comp, ok := byRoot[root]
		if !ok {
			comp = &component{Similarity: make(map[uuid.UUID]int)}
			byRoot[root] = comp
		}

		if e.Match.Confidence > comp.Confidence {
			comp.Confidence = e.Match.Confidence
			comp.MatchType = e.Match.MatchType
		}
		if e.Match.Confidence > comp.Similarity[e.A] {
			comp.Similarity[e.A] = e.Match.Confidence
		}
		if e.Match.Confidence > comp.Similarity[e.B] {
			comp.Similarity[e.B] = e.Match.Confidence
		}
	}

	components := make([]component, 0, len(byRoot))
	for _, comp := range byRoot {
		for id := range comp.Similarity {
			comp.Members = append(comp.Members, id)
		}
		sort.Slice(comp.Members, func(i, j int) bool {
			return comp.Members[i].String() < comp.Members[j].String()
		})
		components = append(components, *comp)
	}

	// Member key breaks confidence ties so the order never depends on map
	// iteration
	sort.Slice(components, func(i, j int) bool {
		if components[i].Confidence != components[j].Confidence {
			return components[i].Confidence > components[j].Confidence
		}
		return MemberKey(components[i].Members) < MemberKey(components[j].Members)
	})
	return components
}
