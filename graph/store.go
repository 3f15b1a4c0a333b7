package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Store is the in-memory knowledge graph for a single pipeline run. A run
// owns its store outright and accesses it sequentially, so there is no
// locking here; concurrent runs each build their own.
type Store struct {
	entities map[string]*Entity
	entityID []string // insertion order
	conns    map[string]*Connection
	connKey  []string // insertion order
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]*Entity),
		conns:    make(map[string]*Connection),
	}
}

// MergeReport summarizes what one fragment merge changed.
type MergeReport struct {
	EntitiesAdded      int `json:"entities_added"`
	EntitiesUpdated    int `json:"entities_updated"`
	ConnectionsAdded   int `json:"connections_added"`
	ConnectionsUpdated int `json:"connections_updated"`
	DanglingRecorded   int `json:"dangling_recorded"`
	DanglingPromoted   int `json:"dangling_promoted"`
	// PassesConfirmed counts entities that only gained a pass label,
	// with no new facts. Provenance, not progress.
	PassesConfirmed int `json:"passes_confirmed,omitempty"`
}

// Changed reports whether the merge added any facts. The repair loop
// uses this to tell a productive pass from one that only restated known
// content; a pass confirmation alone does not count.
func (r MergeReport) Changed() bool {
	return r.EntitiesAdded+r.EntitiesUpdated+r.ConnectionsAdded+
		r.ConnectionsUpdated+r.DanglingPromoted > 0
}

// Merge folds a fragment into the store. It is idempotent: merging an
// identical fragment again changes nothing. Entity identity is the
// normalized name; attribute conflicts resolve last-writer-wins with the
// displaced value kept in History. Connections with a missing endpoint
// are recorded pending and promoted automatically once the endpoint
// arrives. The only error is ErrInvariantViolation, when an identifier
// collides with a conflicting entity type; entities merged before the
// collision remain in the store.
func (s *Store) Merge(frag Fragment, pass string) (MergeReport, error) {
	var rep MergeReport

	for _, fe := range frag.Entities {
		id := Normalize(fe.Name)
		if id == "" {
			continue
		}
		ftype := Normalize(fe.Type)

		e, ok := s.entities[id]
		if !ok {
			s.entities[id] = &Entity{
				ID:     id,
				Name:   strings.TrimSpace(fe.Name),
				Type:   ftype,
				Attrs:  copyAttrs(fe.Attrs),
				Passes: []string{pass},
			}
			s.entityID = append(s.entityID, id)
			rep.EntitiesAdded++
			continue
		}

		if ftype != "" && e.Type != "" && ftype != e.Type {
			return rep, fmt.Errorf("%w: entity %q arrived as %q but is stored as %q",
				ErrInvariantViolation, id, ftype, e.Type)
		}

		changed := false
		if e.Type == "" && ftype != "" {
			e.Type = ftype
			changed = true
		}
		for _, k := range sortedKeys(fe.Attrs) {
			v := strings.TrimSpace(fe.Attrs[k])
			if v == "" {
				continue
			}
			prior, exists := e.Attrs[k]
			if exists && prior == v {
				continue
			}
			if exists {
				e.History = append(e.History, AttrRevision{Attr: k, Prior: prior, Pass: pass})
			}
			if e.Attrs == nil {
				e.Attrs = make(map[string]string)
			}
			e.Attrs[k] = v
			changed = true
		}
		if !containsString(e.Passes, pass) {
			e.Passes = append(e.Passes, pass)
			if !changed {
				rep.PassesConfirmed++
			}
		}
		if changed {
			rep.EntitiesUpdated++
		}
	}

	for _, fc := range frag.Connections {
		src := Normalize(fc.Source)
		tgt := Normalize(fc.Target)
		rel := Normalize(fc.Relation)
		if src == "" || tgt == "" || rel == "" {
			slog.Debug("graph: skipping connection with blank field",
				"source", fc.Source, "target", fc.Target, "relation", fc.Relation)
			continue
		}

		c := &Connection{Source: src, Target: tgt, Relation: rel}
		key := c.Key()

		existing, ok := s.conns[key]
		if !ok {
			c.Attrs = copyAttrs(fc.Attrs)
			c.Pass = pass
			c.Confidence = ConfidenceForPass(pass)
			c.Pending = !(s.has(src) && s.has(tgt))
			s.conns[key] = c
			s.connKey = append(s.connKey, key)
			rep.ConnectionsAdded++
			if c.Pending {
				rep.DanglingRecorded++
				slog.Debug("graph: connection pending on missing endpoint",
					"source", src, "target", tgt, "relation", rel)
			}
			continue
		}

		changed := false
		for _, k := range sortedKeys(fc.Attrs) {
			v := strings.TrimSpace(fc.Attrs[k])
			if v == "" {
				continue
			}
			prior, exists := existing.Attrs[k]
			if exists && prior == v {
				continue
			}
			if exists {
				existing.History = append(existing.History, AttrRevision{Attr: k, Prior: prior, Pass: pass})
			}
			if existing.Attrs == nil {
				existing.Attrs = make(map[string]string)
			}
			existing.Attrs[k] = v
			changed = true
		}
		if changed {
			rep.ConnectionsUpdated++
		}
	}

	// Promotion sweep: a pending connection resolves the moment both of
	// its endpoints exist.
	for _, key := range s.connKey {
		c := s.conns[key]
		if c.Pending && s.has(c.Source) && s.has(c.Target) {
			c.Pending = false
			rep.DanglingPromoted++
		}
	}

	slog.Debug("graph: merge complete",
		"pass", pass,
		"entities_added", rep.EntitiesAdded,
		"entities_updated", rep.EntitiesUpdated,
		"connections_added", rep.ConnectionsAdded,
		"dangling", rep.DanglingRecorded,
		"promoted", rep.DanglingPromoted)

	return rep, nil
}

func (s *Store) has(id string) bool {
	_, ok := s.entities[id]
	return ok
}

// Entity returns the entity with the given normalized identifier.
func (s *Store) Entity(id string) (*Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// Connection returns the connection with the given endpoints and
// relation. Arguments are normalized before lookup.
func (s *Store) Connection(source, relation, target string) (*Connection, bool) {
	key := (&Connection{
		Source:   Normalize(source),
		Relation: Normalize(relation),
		Target:   Normalize(target),
	}).Key()
	c, ok := s.conns[key]
	return c, ok
}

// Entities returns all entities in insertion order.
func (s *Store) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.entityID))
	for _, id := range s.entityID {
		out = append(out, s.entities[id])
	}
	return out
}

// Connections returns all connections in insertion order, pending ones
// included.
func (s *Store) Connections() []*Connection {
	out := make([]*Connection, 0, len(s.connKey))
	for _, key := range s.connKey {
		out = append(out, s.conns[key])
	}
	return out
}

// Resolved returns connections whose endpoints are both present.
func (s *Store) Resolved() []*Connection {
	var out []*Connection
	for _, key := range s.connKey {
		if c := s.conns[key]; !c.Pending {
			out = append(out, c)
		}
	}
	return out
}

// Pending returns connections still waiting on a missing endpoint.
func (s *Store) Pending() []*Connection {
	var out []*Connection
	for _, key := range s.connKey {
		if c := s.conns[key]; c.Pending {
			out = append(out, c)
		}
	}
	return out
}

// EntityCount returns the number of entities in the store.
func (s *Store) EntityCount() int { return len(s.entityID) }

// ConnectionCount returns the number of connections, pending included.
func (s *Store) ConnectionCount() int { return len(s.connKey) }

// Snapshot is a deep copy of the store's contents, safe to serialize or
// hand to a caller after the run moves on.
type Snapshot struct {
	Entities    []Entity     `json:"entities"`
	Connections []Connection `json:"connections"`
}

// Snapshot deep-copies the store.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Entities:    make([]Entity, 0, len(s.entityID)),
		Connections: make([]Connection, 0, len(s.connKey)),
	}
	for _, id := range s.entityID {
		e := *s.entities[id]
		e.Attrs = copyAttrs(e.Attrs)
		e.Passes = append([]string(nil), e.Passes...)
		e.History = append([]AttrRevision(nil), e.History...)
		snap.Entities = append(snap.Entities, e)
	}
	for _, key := range s.connKey {
		c := *s.conns[key]
		c.Attrs = copyAttrs(c.Attrs)
		c.History = append([]AttrRevision(nil), c.History...)
		snap.Connections = append(snap.Connections, c)
	}
	return snap
}

// FromSnapshot rebuilds a store from a snapshot, preserving order and
// pending flags. Used when resuming a persisted run.
func FromSnapshot(snap Snapshot) *Store {
	s := NewStore()
	for i := range snap.Entities {
		e := snap.Entities[i]
		e.Attrs = copyAttrs(e.Attrs)
		e.Passes = append([]string(nil), e.Passes...)
		e.History = append([]AttrRevision(nil), e.History...)
		s.entities[e.ID] = &e
		s.entityID = append(s.entityID, e.ID)
	}
	for i := range snap.Connections {
		c := snap.Connections[i]
		c.Attrs = copyAttrs(c.Attrs)
		c.History = append([]AttrRevision(nil), c.History...)
		s.conns[c.Key()] = &c
		s.connKey = append(s.connKey, c.Key())
	}
	return s
}

func copyAttrs(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
