package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
)

const rrfK = 60 // RRF constant (standard value from literature)

// DuplicatePair is a ranked near-duplicate entity suggestion.
type DuplicatePair struct {
	A       string   `json:"a"`
	B       string   `json:"b"`
	Score   float64  `json:"score"`
	Methods []string `json:"methods"`
}

// pairKey orders a pair so (a, b) and (b, a) collapse to one key.
type pairKey struct {
	a, b string
}

func makePair(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// DuplicateCandidates suggests near-duplicate entity pairs for a run by
// fusing two rank lists per entity: KNN over name embeddings and
// full-text rank over names and attributes. These are suggestions for
// the run report; the in-memory checker's attribute-overlap rule decides
// what becomes a gap.
func (s *Store) DuplicateCandidates(ctx context.Context, runID string, limit int) ([]DuplicatePair, error) {
	if limit <= 0 {
		limit = 10
	}

	refs, err := s.runEntities(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(refs) < 2 {
		return nil, nil
	}

	byPK := make(map[int64]entityRef, len(refs))
	for _, r := range refs {
		byPK[r.pk] = r
	}

	// Vector neighborhoods. The vec table spans runs, so neighbors from
	// other runs are dropped before ranking.
	vecRanks := make(map[pairKey]int)
	for _, r := range refs {
		neighbors, err := s.nearestEntities(ctx, r.pk, len(refs))
		if err != nil {
			return nil, err
		}
		rank := 0
		for _, pk := range neighbors {
			other, ok := byPK[pk]
			if !ok || pk == r.pk {
				continue
			}
			rank++
			key := makePair(r.id, other.id)
			if cur, seen := vecRanks[key]; !seen || rank < cur {
				vecRanks[key] = rank
			}
		}
	}

	// Full-text neighborhoods: each entity's own name as the query.
	ftsRanks := make(map[pairKey]int)
	for _, r := range refs {
		match := ftsQuery(r.name)
		if match == "" {
			continue
		}
		hits, err := s.searchRunEntities(ctx, runID, match, 8)
		if err != nil {
			return nil, err
		}
		rank := 0
		for _, id := range hits {
			if id == r.id {
				continue
			}
			rank++
			key := makePair(r.id, id)
			if cur, seen := ftsRanks[key]; !seen || rank < cur {
				ftsRanks[key] = rank
			}
		}
	}

	return fuseRRF(vecRanks, ftsRanks, limit), nil
}

// fuseRRF implements Reciprocal Rank Fusion over the vector and
// full-text rank lists. Each pair scores sum(1 / (k + rank)) across the
// methods it appeared in, sorted by fused score.
func fuseRRF(vecRanks, ftsRanks map[pairKey]int, maxResults int) []DuplicatePair {
	type fusedEntry struct {
		pair    pairKey
		score   float64
		methods []string
	}

	fused := make(map[pairKey]*fusedEntry)

	for pair, rank := range vecRanks {
		entry, ok := fused[pair]
		if !ok {
			entry = &fusedEntry{pair: pair}
			fused[pair] = entry
		}
		entry.score += 1.0 / float64(rrfK+rank)
		entry.methods = append(entry.methods, "vector")
	}

	for pair, rank := range ftsRanks {
		entry, ok := fused[pair]
		if !ok {
			entry = &fusedEntry{pair: pair}
			fused[pair] = entry
		}
		entry.score += 1.0 / float64(rrfK+rank)
		entry.methods = append(entry.methods, "fts")
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].pair.a != entries[j].pair.a {
			return entries[i].pair.a < entries[j].pair.a
		}
		return entries[i].pair.b < entries[j].pair.b
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	pairs := make([]DuplicatePair, len(entries))
	for i, e := range entries {
		sort.Strings(e.methods)
		pairs[i] = DuplicatePair{A: e.pair.a, B: e.pair.b, Score: e.score, Methods: e.methods}
	}
	return pairs
}

type entityRef struct {
	pk   int64
	id   string
	name string
}

func (s *Store) runEntities(ctx context.Context, runID string) ([]entityRef, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, entity_id, name FROM entities WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []entityRef
	for rows.Next() {
		var r entityRef
		if err := rows.Scan(&r.pk, &r.id, &r.name); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// nearestEntities returns KNN neighbors of the given entity's stored
// embedding, nearest first, self included. Entities that were never
// embedded yield no neighbors.
func (s *Store) nearestEntities(ctx context.Context, pk int64, k int) ([]int64, error) {
	var emb []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vec_entities WHERE entity_pk = ?", pk).Scan(&emb)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_pk FROM vec_entities
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, emb, k+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		pks = append(pks, n)
	}
	return pks, rows.Err()
}

func (s *Store) searchRunEntities(ctx context.Context, runID, match string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_id
		FROM entities_fts f
		JOIN entities e ON e.id = f.rowid
		WHERE entities_fts MATCH ? AND e.run_id = ?
		ORDER BY f.rank
		LIMIT ?
	`, match, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
