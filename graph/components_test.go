package graph

import "testing"

func TestComponentsEmpty(t *testing.T) {
	if got := Components(NewStore()); got != nil {
		t.Errorf("Components of empty store = %v, want nil", got)
	}
}

func TestComponentsLargestFirst(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "a", Type: "concept"},
			{Name: "b", Type: "concept"},
			{Name: "c", Type: "concept"},
			{Name: "d", Type: "concept"},
			{Name: "e", Type: "concept"},
			{Name: "lone", Type: "concept"},
		},
		Connections: []FragmentConnection{
			{Source: "a", Target: "b", Relation: "related_to"},
			{Source: "b", Target: "c", Relation: "related_to"},
			{Source: "d", Target: "e", Relation: "related_to"},
		},
	})

	comps := Components(s)
	if len(comps) != 3 {
		t.Fatalf("got %d components, want 3: %v", len(comps), comps)
	}
	if len(comps[0]) != 3 || len(comps[1]) != 2 || len(comps[2]) != 1 {
		t.Errorf("component sizes = %d/%d/%d, want 3/2/1",
			len(comps[0]), len(comps[1]), len(comps[2]))
	}
	if comps[2][0] != "lone" {
		t.Errorf("singleton = %q, want lone", comps[2][0])
	}
}

// TestComponentsIgnorePending verifies pending connections do not join
// components: the edge exists but is not yet resolved.
func TestComponentsIgnorePending(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "a", Type: "concept"},
			{Name: "b", Type: "concept"},
		},
		Connections: []FragmentConnection{
			{Source: "a", Target: "ghost", Relation: "related_to"},
			{Source: "ghost", Target: "b", Relation: "related_to"},
		},
	})

	comps := Components(s)
	if len(comps) != 2 {
		t.Errorf("got %d components, want 2 singletons: %v", len(comps), comps)
	}
}

func TestStats(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "a", Type: "concept"},
			{Name: "b", Type: "concept"},
			{Name: "c", Type: "concept"},
			{Name: "lone", Type: "concept"},
		},
		Connections: []FragmentConnection{
			{Source: "a", Target: "b", Relation: "related_to"},
		},
	})

	stats := Stats(s)
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.LargestSize != 2 {
		t.Errorf("LargestSize = %d, want 2", stats.LargestSize)
	}
	if len(stats.Isolated) != 2 {
		t.Errorf("Isolated = %v, want c and lone", stats.Isolated)
	}
	if len(stats.Detached) != 2 {
		t.Errorf("Detached = %v, want the two singleton components", stats.Detached)
	}
}
