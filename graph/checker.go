package graph

import (
	"fmt"
	"log/slog"
	"strings"
)

// Policy configures the consistency checker. It is explicit input, not a
// hardcoded schema: the caller decides which entity types must carry
// which relations.
type Policy struct {
	// RequiredRelations maps an entity type to the relation labels every
	// entity of that type must appear as the source of at least once.
	RequiredRelations map[string][]string `json:"required_relations" yaml:"required_relations"`

	// DuplicateThreshold is the attribute-overlap score above which two
	// distinct entities are flagged as a duplicate conflict. Overlap must
	// strictly exceed the threshold to flag.
	DuplicateThreshold float64 `json:"duplicate_threshold" yaml:"duplicate_threshold"`
}

// DefaultPolicy requires every organization to say where it is located,
// and flags entity pairs sharing more than half their attributes.
func DefaultPolicy() Policy {
	return Policy{
		RequiredRelations: map[string][]string{
			EntityOrg: {RelLocatedIn},
		},
		DuplicateThreshold: 0.5,
	}
}

// Check inspects the store and returns detected gaps in repair priority
// order: orphans first, then dangling references, then duplicate
// conflicts. Within each kind, output follows store insertion order, so
// repeated checks over an unchanged store agree exactly. Returned gaps
// carry no ID and status open; the repair controller owns identity and
// lifecycle.
func Check(s *Store, pol Policy) []Gap {
	// Degree and source-relation index over resolved connections only.
	// Pending connections are not real edges yet; the dangling gap they
	// raise below is the actionable finding.
	degree := make(map[string]int)
	srcRel := make(map[string]map[string]bool)
	for _, c := range s.Resolved() {
		degree[c.Source]++
		degree[c.Target]++
		set, ok := srcRel[c.Source]
		if !ok {
			set = make(map[string]bool)
			srcRel[c.Source] = set
		}
		set[c.Relation] = true
	}

	var gaps []Gap

	for _, e := range s.Entities() {
		if degree[e.ID] == 0 {
			gaps = append(gaps, Gap{
				Kind:     GapOrphan,
				Status:   GapOpen,
				EntityID: e.ID,
				Reason:   fmt.Sprintf("entity %q has no connections", e.Name),
			})
			continue
		}
		for _, rel := range pol.RequiredRelations[e.Type] {
			if !srcRel[e.ID][rel] {
				gaps = append(gaps, Gap{
					Kind:            GapOrphan,
					Status:          GapOpen,
					EntityID:        e.ID,
					MissingRelation: rel,
					Reason:          fmt.Sprintf("%s %q has no %s connection", e.Type, e.Name, rel),
				})
			}
		}
	}

	for _, c := range s.Pending() {
		var missing []string
		if !s.has(c.Source) {
			missing = append(missing, c.Source)
		}
		if !s.has(c.Target) {
			missing = append(missing, c.Target)
		}
		gaps = append(gaps, Gap{
			Kind:     GapDangling,
			Status:   GapOpen,
			Source:   c.Source,
			Target:   c.Target,
			Relation: c.Relation,
			Reason: fmt.Sprintf("connection %s -[%s]-> %s references unresolved %s",
				c.Source, c.Relation, c.Target, strings.Join(missing, ", ")),
		})
	}

	ents := s.Entities()
	for i := 0; i < len(ents); i++ {
		for j := i + 1; j < len(ents); j++ {
			sim := attrSimilarity(ents[i], ents[j])
			if sim > pol.DuplicateThreshold {
				gaps = append(gaps, Gap{
					Kind:       GapDuplicate,
					Status:     GapOpen,
					EntityID:   ents[i].ID,
					OtherID:    ents[j].ID,
					Similarity: sim,
					Reason: fmt.Sprintf("entities %q and %q overlap on %.0f%% of attributes",
						ents[i].Name, ents[j].Name, sim*100),
				})
			}
		}
	}

	slog.Debug("graph: check complete",
		"entities", s.EntityCount(),
		"connections", s.ConnectionCount(),
		"gaps", len(gaps))

	return gaps
}

// attrSimilarity is the Jaccard overlap of the two entities' attribute
// pairs. Entities without attributes score zero: thin entities are not
// duplicates of each other just for being thin.
func attrSimilarity(a, b *Entity) float64 {
	if len(a.Attrs) == 0 || len(b.Attrs) == 0 {
		return 0
	}
	pair := func(k, v string) string {
		return strings.ToLower(strings.TrimSpace(k)) + "=" + strings.ToLower(strings.TrimSpace(v))
	}
	set := make(map[string]bool, len(a.Attrs))
	for k, v := range a.Attrs {
		set[pair(k, v)] = true
	}
	intersect := 0
	for k, v := range b.Attrs {
		if set[pair(k, v)] {
			intersect++
		}
	}
	union := len(a.Attrs) + len(b.Attrs) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}
