package graph

import (
	"errors"
	"strings"
)

// Entity type constants used during extraction and storage.
const (
	EntityPerson   = "person"
	EntityOrg      = "organization"
	EntityLocation = "location"
	EntityEvent    = "event"
	EntityConcept  = "concept"
	EntityTerm     = "term"
)

// Relation label constants used during extraction and storage.
const (
	RelWorksAt   = "works_at"
	RelLocatedIn = "located_in"
	RelPartOf    = "part_of"
	RelMemberOf  = "member_of"
	RelProduces  = "produces"
	RelRelatedTo = "related_to"
)

// Extraction pass names recorded as provenance.
const (
	PassInitial = "initial"
	PassEnrich  = "enrich"
	PassRepair  = "repair"
)

// ErrInvariantViolation is returned when a merge would corrupt the graph:
// the same normalized identifier arriving with a conflicting entity type.
// The run halts rather than guessing which reading is right.
var ErrInvariantViolation = errors.New("graph: invariant violation")

// Normalize derives the stable identifier for an entity name: lowercased,
// whitespace collapsed. Identity everywhere in the store hangs off this.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ConfidenceForPass maps a provenance pass to the confidence recorded on
// connections it produced. Later passes answer narrower questions with
// less surrounding context, so they rank below the initial read.
func ConfidenceForPass(pass string) float64 {
	switch pass {
	case PassInitial:
		return 1.0
	case PassEnrich:
		return 0.85
	case PassRepair:
		return 0.7
	default:
		return 0.5
	}
}

// Entity is a node in the knowledge graph.
type Entity struct {
	ID    string            `json:"id"`   // Normalize(Name); unique within a store
	Name  string            `json:"name"` // display form as first extracted
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs,omitempty"`

	// Passes lists every extraction pass that produced or confirmed this
	// entity, in order.
	Passes []string `json:"passes"`

	// History holds attribute values displaced by later merges. Nothing
	// is silently lost: last writer wins, prior value lands here.
	History []AttrRevision `json:"history,omitempty"`
}

// Thin reports whether the entity carries no attributes worth keeping.
// Thin entities are valid; the enrich pass targets them.
func (e *Entity) Thin() bool {
	return len(e.Attrs) == 0
}

// AttrRevision records one overwritten attribute value.
type AttrRevision struct {
	Attr  string `json:"attr"`
	Prior string `json:"prior"`
	Pass  string `json:"pass"` // the pass whose write displaced the prior value
}

// Connection is a directed, labeled edge between two entities. A
// connection whose endpoints are not both present in the store is held
// with Pending set until the missing entity merges in, or the run ends.
type Connection struct {
	Source   string            `json:"source"` // entity ID
	Target   string            `json:"target"` // entity ID
	Relation string            `json:"relation"`
	Attrs    map[string]string `json:"attrs,omitempty"`

	Pass       string  `json:"pass"`
	Confidence float64 `json:"confidence"`
	Pending    bool    `json:"pending,omitempty"`

	History []AttrRevision `json:"history,omitempty"`
}

// Key identifies a connection for merge purposes: same endpoints and
// label, one edge.
func (c *Connection) Key() string {
	return c.Source + "\x00" + c.Relation + "\x00" + c.Target
}

// Fragment is one extraction result: the structured pieces recovered
// from a model response, before merging. Remainder carries any response
// text the parser could not turn into structure, kept for diagnostics.
type Fragment struct {
	Entities    []FragmentEntity     `json:"entities"`
	Connections []FragmentConnection `json:"connections"`
	Remainder   string               `json:"remainder,omitempty"`
}

// Empty reports whether the fragment carries no structured content.
func (f *Fragment) Empty() bool {
	return len(f.Entities) == 0 && len(f.Connections) == 0
}

// FragmentEntity is an entity as the model emits it.
type FragmentEntity struct {
	Name  string            `json:"name"`
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// FragmentConnection is a connection as the model emits it, endpoints
// named rather than resolved.
type FragmentConnection struct {
	Source   string            `json:"source"`
	Target   string            `json:"target"`
	Relation string            `json:"relation"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Weight   float64           `json:"weight,omitempty"` // model's own confidence claim, informational
}

// Gap kinds, in repair priority order.
type GapKind string

const (
	GapOrphan    GapKind = "orphan"
	GapDangling  GapKind = "dangling-reference"
	GapDuplicate GapKind = "duplicate-conflict"
)

// Gap statuses.
type GapStatus string

const (
	GapOpen      GapStatus = "open"
	GapResolved  GapStatus = "resolved"
	GapExhausted GapStatus = "unresolved-exhausted"
)

// Gap is one unit of detected incompleteness. The checker emits gaps
// with a stable Key; the repair controller assigns IDs and tracks status
// across checks.
type Gap struct {
	ID     string    `json:"id,omitempty"`
	Kind   GapKind   `json:"kind"`
	Status GapStatus `json:"status"`

	// EntityID is the affected entity for orphan and duplicate gaps.
	EntityID string `json:"entity_id,omitempty"`
	// OtherID is the second entity of a duplicate-conflict pair.
	OtherID string `json:"other_id,omitempty"`
	// MissingRelation is set on orphan gaps raised by the required-relation
	// policy; empty means the entity had no connections at all.
	MissingRelation string `json:"missing_relation,omitempty"`
	// Source/Target/Relation describe the pending connection for
	// dangling-reference gaps.
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
	Relation string `json:"relation,omitempty"`

	// Similarity is the attribute overlap score for duplicate-conflict gaps.
	Similarity float64 `json:"similarity,omitempty"`

	// Reason is the human-readable explanation surfaced in the report.
	Reason string `json:"reason"`
}

// Key returns the stable identity of a gap across checker runs, so the
// controller can tell a persisting gap from a new one.
func (g *Gap) Key() string {
	switch g.Kind {
	case GapDangling:
		return string(g.Kind) + "|" + g.Source + "|" + g.Relation + "|" + g.Target
	case GapDuplicate:
		a, b := g.EntityID, g.OtherID
		if b < a {
			a, b = b, a
		}
		return string(g.Kind) + "|" + a + "|" + b
	default:
		return string(g.Kind) + "|" + g.EntityID + "|" + g.MissingRelation
	}
}
