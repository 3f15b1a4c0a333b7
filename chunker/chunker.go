// Package chunker splits source text into pieces small enough for a
// single extraction prompt. Splitting prefers paragraph boundaries and
// falls back to sentences, with a short overlap carried between
// consecutive pieces so facts straddling a boundary are seen twice
// rather than never. Downstream merging is idempotent, so the overlap
// costs nothing but tokens.
package chunker

import (
	"math"
	"strings"
)

// overlapFraction is the share of maxChars carried from the tail of one
// piece into the head of the next.
const overlapFraction = 10

// Split breaks text into pieces of at most maxChars characters each.
// Text that already fits is returned as a single piece. maxChars <= 0
// disables splitting.
func Split(text string, maxChars int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if maxChars <= 0 || len(trimmed) <= maxChars {
		return []string{trimmed}
	}

	overlap := maxChars / overlapFraction
	paragraphs := splitParagraphs(trimmed)

	var pieces []string
	var current strings.Builder
	carry := ""

	flush := func() {
		if current.Len() == 0 {
			return
		}
		piece := strings.TrimSpace(current.String())
		pieces = append(pieces, piece)
		carry = tailWords(piece, overlap)
		current.Reset()
	}

	for _, para := range paragraphs {
		if len(para) > maxChars {
			flush()
			for _, frag := range splitLong(para, maxChars, overlap, carry) {
				pieces = append(pieces, frag)
			}
			if len(pieces) > 0 {
				carry = tailWords(pieces[len(pieces)-1], overlap)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+2+len(para) > maxChars {
			flush()
		}
		if current.Len() == 0 && carry != "" {
			current.WriteString(carry)
			current.WriteString("\n\n")
		}
		if current.Len() > 0 && !strings.HasSuffix(current.String(), "\n\n") {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return pieces
}

// splitLong breaks one oversized paragraph at sentence boundaries.
func splitLong(para string, maxChars, overlap int, initialCarry string) []string {
	sentences := splitSentences(para)

	var pieces []string
	var current strings.Builder
	if initialCarry != "" {
		current.WriteString(initialCarry)
		current.WriteString(" ")
	}

	for _, sent := range sentences {
		if current.Len() > 0 && current.Len()+1+len(sent) > maxChars {
			piece := strings.TrimSpace(current.String())
			pieces = append(pieces, piece)
			current.Reset()
			if tail := tailWords(piece, overlap); tail != "" {
				current.WriteString(tail)
				current.WriteString(" ")
			}
		}
		if current.Len() > 0 && !strings.HasSuffix(current.String(), " ") {
			current.WriteString(" ")
		}
		// A single sentence longer than maxChars is kept whole; the
		// prompt budget has headroom over maxChars for exactly this.
		current.WriteString(sent)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

// EstimateTokens approximates the token count of text using a word-based
// heuristic: tokens ~ words * 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser. It splits on
// period/question-mark/exclamation followed by whitespace or end of
// string, while trying not to split on abbreviations.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// tailWords returns the trailing portion of text at most maxChars long,
// cut at a word boundary.
func tailWords(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return ""
	}
	tail := text[len(text)-maxChars:]
	if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
