package eval

import (
	"strings"

	"github.com/brunobiangulo/graphmend/graph"
)

// Score holds precision, recall, and F1 for one aspect of an extracted
// graph, with the raw counts behind them.
type Score struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Expected  int     `json:"expected"`
	Got       int     `json:"got"`
	Matched   int     `json:"matched"`
}

// newScore derives precision, recall, and F1 from counts. An empty
// expectation met by empty output scores perfect; spurious output
// against an empty expectation is pure precision loss.
func newScore(matched, got, expected int) Score {
	s := Score{Expected: expected, Got: got, Matched: matched}

	switch {
	case got == 0 && expected == 0:
		s.Precision = 1
	case got > 0:
		s.Precision = float64(matched) / float64(got)
	}
	if expected == 0 {
		s.Recall = 1
	} else {
		s.Recall = float64(matched) / float64(expected)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// scoreEntities matches extracted entities against the expected list by
// normalized name, and by type when the expectation names one.
func scoreEntities(snap graph.Snapshot, want []ExpectedEntity) Score {
	byID := make(map[string]graph.Entity, len(snap.Entities))
	for _, e := range snap.Entities {
		byID[e.ID] = e
	}

	matched := 0
	for _, w := range want {
		e, ok := byID[graph.Normalize(w.Name)]
		if !ok {
			continue
		}
		if w.Type != "" && !strings.EqualFold(w.Type, e.Type) {
			continue
		}
		matched++
	}
	return newScore(matched, len(snap.Entities), len(want))
}

// scoreConnections matches extracted connections against the expected
// list by normalized (source, relation, target) triple. Pending edges
// count as output: they were extracted, just never anchored.
func scoreConnections(snap graph.Snapshot, want []ExpectedConnection) Score {
	keys := make(map[string]bool, len(snap.Connections))
	for _, c := range snap.Connections {
		keys[connKey(c.Source, c.Relation, c.Target)] = true
	}

	matched := 0
	for _, w := range want {
		key := connKey(graph.Normalize(w.Source), w.Relation, graph.Normalize(w.Target))
		if keys[key] {
			matched++
		}
	}
	return newScore(matched, len(snap.Connections), len(want))
}

func connKey(source, relation, target string) string {
	return source + "\x00" + strings.ToLower(strings.TrimSpace(relation)) + "\x00" + target
}

// addCounts accumulates raw counts for micro-averaging across cases.
func addCounts(total, s Score) Score {
	return Score{
		Expected: total.Expected + s.Expected,
		Got:      total.Got + s.Got,
		Matched:  total.Matched + s.Matched,
	}
}
