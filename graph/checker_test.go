package graph

import (
	"strings"
	"testing"
)

// seedStore merges a fragment into a fresh store or fails the test.
func seedStore(t *testing.T, frag Fragment) *Store {
	t.Helper()
	s := NewStore()
	if _, err := s.Merge(frag, PassInitial); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return s
}

// TestCheckCleanGraph is the converged scenario: alice works at acme,
// acme located in denver, organizations must be located somewhere. No
// gaps at all.
func TestCheckCleanGraph(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "Alice", Type: "person"},
			{Name: "Acme", Type: "organization"},
			{Name: "Denver", Type: "location"},
		},
		Connections: []FragmentConnection{
			{Source: "Alice", Target: "Acme", Relation: "works_at"},
			{Source: "Acme", Target: "Denver", Relation: "located_in"},
		},
	})

	gaps := Check(s, DefaultPolicy())
	if len(gaps) != 0 {
		t.Errorf("clean graph produced %d gaps: %+v", len(gaps), gaps)
	}
}

// TestCheckRequiredRelation is the repair scenario: acme has a
// connection but organizations must carry located_in.
func TestCheckRequiredRelation(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "Alice", Type: "person"},
			{Name: "Acme", Type: "organization"},
		},
		Connections: []FragmentConnection{
			{Source: "Alice", Target: "Acme", Relation: "works_at"},
		},
	})

	gaps := Check(s, DefaultPolicy())
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1: %+v", len(gaps), gaps)
	}
	g := gaps[0]
	if g.Kind != GapOrphan || g.EntityID != "acme" || g.MissingRelation != RelLocatedIn {
		t.Errorf("gap = %+v, want acme orphan missing located_in", g)
	}
	if g.Status != GapOpen {
		t.Errorf("status = %q, want open", g.Status)
	}
}

func TestCheckRequiredRelationDirection(t *testing.T) {
	// denver -[located_in]-> acme satisfies nothing for acme: the policy
	// wants the organization as the source.
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "Acme", Type: "organization"},
			{Name: "Denver", Type: "location"},
		},
		Connections: []FragmentConnection{
			{Source: "Denver", Target: "Acme", Relation: "located_in"},
		},
	})

	gaps := Check(s, DefaultPolicy())
	if len(gaps) != 1 || gaps[0].EntityID != "acme" {
		t.Errorf("expected acme flagged despite incoming located_in, got %+v", gaps)
	}
}

func TestCheckZeroConnectionOrphan(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{{Name: "Hermit", Type: "person"}},
	})

	gaps := Check(s, Policy{})
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1", len(gaps))
	}
	if gaps[0].Kind != GapOrphan || gaps[0].MissingRelation != "" {
		t.Errorf("gap = %+v, want plain zero-connection orphan", gaps[0])
	}
}

// TestCheckZeroConnectionSubsumesPolicy verifies an entity with no
// connections raises one gap, not one per required relation on top.
func TestCheckZeroConnectionSubsumesPolicy(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{{Name: "Acme", Type: "organization"}},
	})

	gaps := Check(s, DefaultPolicy())
	if len(gaps) != 1 {
		t.Errorf("got %d gaps, want the zero-connection orphan alone: %+v", len(gaps), gaps)
	}
}

func TestCheckDanglingReference(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "Alice", Type: "person"},
			{Name: "Acme", Type: "organization"},
			{Name: "Denver", Type: "location"},
		},
		Connections: []FragmentConnection{
			{Source: "Alice", Target: "Acme", Relation: "works_at"},
			{Source: "Acme", Target: "Denver", Relation: "located_in"},
			{Source: "Acme", Target: "globex", Relation: "part_of"},
		},
	})

	gaps := Check(s, DefaultPolicy())
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1: %+v", len(gaps), gaps)
	}
	g := gaps[0]
	if g.Kind != GapDangling {
		t.Fatalf("kind = %q, want dangling-reference", g.Kind)
	}
	if g.Source != "acme" || g.Target != "globex" || g.Relation != "part_of" {
		t.Errorf("gap endpoints = %+v", g)
	}
	if !strings.Contains(g.Reason, "globex") {
		t.Errorf("reason %q does not name the missing endpoint", g.Reason)
	}
}

func TestCheckDuplicateConflict(t *testing.T) {
	attrs := map[string]string{"industry": "mining", "hq": "denver"}
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "Acme", Type: "organization", Attrs: attrs},
			{Name: "Acme Corp", Type: "organization", Attrs: attrs},
			{Name: "Denver", Type: "location"},
		},
		Connections: []FragmentConnection{
			{Source: "Acme", Target: "Denver", Relation: "located_in"},
			{Source: "Acme Corp", Target: "Denver", Relation: "located_in"},
		},
	})

	gaps := Check(s, DefaultPolicy())
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1: %+v", len(gaps), gaps)
	}
	g := gaps[0]
	if g.Kind != GapDuplicate {
		t.Fatalf("kind = %q, want duplicate-conflict", g.Kind)
	}
	if g.EntityID != "acme" || g.OtherID != "acme corp" {
		t.Errorf("pair = %q/%q", g.EntityID, g.OtherID)
	}
	if g.Similarity != 1.0 {
		t.Errorf("similarity = %v, want 1.0 for identical attrs", g.Similarity)
	}
}

func TestCheckDuplicateThreshold(t *testing.T) {
	tests := []struct {
		name      string
		aAttrs    map[string]string
		bAttrs    map[string]string
		threshold float64
		wantGap   bool
	}{
		{
			name:      "full overlap above threshold",
			aAttrs:    map[string]string{"x": "1"},
			bAttrs:    map[string]string{"x": "1"},
			threshold: 0.5,
			wantGap:   true,
		},
		{
			name:      "half overlap does not exceed half",
			aAttrs:    map[string]string{"x": "1", "y": "2"},
			bAttrs:    map[string]string{"x": "1"},
			threshold: 0.5,
			wantGap:   false,
		},
		{
			name:      "half overlap exceeds lower threshold",
			aAttrs:    map[string]string{"x": "1", "y": "2"},
			bAttrs:    map[string]string{"x": "1"},
			threshold: 0.4,
			wantGap:   true,
		},
		{
			name:      "thin entities never flagged",
			aAttrs:    nil,
			bAttrs:    nil,
			threshold: 0,
			wantGap:   false,
		},
		{
			name:      "disjoint attrs",
			aAttrs:    map[string]string{"x": "1"},
			bAttrs:    map[string]string{"y": "2"},
			threshold: 0,
			wantGap:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seedStore(t, Fragment{
				Entities: []FragmentEntity{
					{Name: "a", Type: "concept", Attrs: tt.aAttrs},
					{Name: "b", Type: "concept", Attrs: tt.bAttrs},
				},
				Connections: []FragmentConnection{
					{Source: "a", Target: "b", Relation: "related_to"},
				},
			})

			gaps := Check(s, Policy{DuplicateThreshold: tt.threshold})
			var dup int
			for _, g := range gaps {
				if g.Kind == GapDuplicate {
					dup++
				}
			}
			if (dup > 0) != tt.wantGap {
				t.Errorf("duplicate gaps = %d, wantGap = %v", dup, tt.wantGap)
			}
		})
	}
}

// TestCheckOrdering verifies the priority contract: orphans, then
// dangling references, then duplicate conflicts.
func TestCheckOrdering(t *testing.T) {
	attrs := map[string]string{"field": "same"}
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "loner", Type: "person"},
			{Name: "twin one", Type: "concept", Attrs: attrs},
			{Name: "twin two", Type: "concept", Attrs: attrs},
		},
		Connections: []FragmentConnection{
			{Source: "twin one", Target: "twin two", Relation: "related_to"},
			{Source: "twin one", Target: "missing", Relation: "references"},
		},
	})

	gaps := Check(s, Policy{DuplicateThreshold: 0.5})

	var kinds []GapKind
	for _, g := range gaps {
		kinds = append(kinds, g.Kind)
	}
	want := []GapKind{GapOrphan, GapDangling, GapDuplicate}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

// TestCheckDeterministic verifies repeated checks over an unchanged
// store produce the same ordered output.
func TestCheckDeterministic(t *testing.T) {
	s := seedStore(t, Fragment{
		Entities: []FragmentEntity{
			{Name: "a", Type: "organization"},
			{Name: "b", Type: "organization"},
			{Name: "c", Type: "person"},
		},
		Connections: []FragmentConnection{
			{Source: "c", Target: "a", Relation: "works_at"},
			{Source: "c", Target: "b", Relation: "works_at"},
		},
	})

	first := Check(s, DefaultPolicy())
	for i := 0; i < 5; i++ {
		again := Check(s, DefaultPolicy())
		if len(again) != len(first) {
			t.Fatalf("run %d: %d gaps, want %d", i, len(again), len(first))
		}
		for j := range first {
			if first[j].Key() != again[j].Key() {
				t.Fatalf("run %d: gap %d key %q, want %q", i, j, again[j].Key(), first[j].Key())
			}
		}
	}
}

func TestGapKeyStability(t *testing.T) {
	dup1 := Gap{Kind: GapDuplicate, EntityID: "a", OtherID: "b"}
	dup2 := Gap{Kind: GapDuplicate, EntityID: "b", OtherID: "a"}
	if dup1.Key() != dup2.Key() {
		t.Errorf("duplicate keys differ for swapped pair: %q vs %q", dup1.Key(), dup2.Key())
	}

	orphanPlain := Gap{Kind: GapOrphan, EntityID: "acme"}
	orphanRel := Gap{Kind: GapOrphan, EntityID: "acme", MissingRelation: "located_in"}
	if orphanPlain.Key() == orphanRel.Key() {
		t.Error("zero-connection and missing-relation orphans share a key")
	}

	dangling := Gap{Kind: GapDangling, Source: "a", Target: "b", Relation: "works_at"}
	other := Gap{Kind: GapDangling, Source: "a", Target: "b", Relation: "part_of"}
	if dangling.Key() == other.Key() {
		t.Error("dangling keys ignore the relation")
	}
}
