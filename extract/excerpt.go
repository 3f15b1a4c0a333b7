package extract

import (
	"sort"
	"strings"
)

const excerptBudget = 1200

// Excerpts pulls the source sentences most relevant to the given terms,
// typically entity names from open gaps. Sentences are scored by how
// many distinct terms they mention, the best are kept within a character
// budget, and the survivors are returned in document order so the model
// sees them the way the source reads.
func Excerpts(source string, terms []string) []string {
	if strings.TrimSpace(source) == "" || len(terms) == 0 {
		return nil
	}

	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	if len(lowered) == 0 {
		return nil
	}

	sentences := splitSentences(source)

	type scored struct {
		index int
		text  string
		hits  int
	}
	var candidates []scored
	for i, s := range sentences {
		ls := strings.ToLower(s)
		hits := 0
		for _, t := range lowered {
			if strings.Contains(ls, t) {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, scored{index: i, text: s, hits: hits})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].hits > candidates[j].hits
	})

	total := 0
	var kept []scored
	for _, c := range candidates {
		if total+len(c.text) > excerptBudget && len(kept) > 0 {
			continue
		}
		kept = append(kept, c)
		total += len(c.text)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].index < kept[j].index })

	out := make([]string, len(kept))
	for i, c := range kept {
		out[i] = c.text
	}
	return out
}

// splitSentences breaks text into sentences on terminal punctuation.
// Good enough for excerpt selection; not a linguistic segmenter.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
