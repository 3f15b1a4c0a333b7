package extract

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/graphmend/graph"
)

// systemPrompt anchors every extraction call. Kept short so it survives
// intact in small context windows alongside session memory.
const systemPrompt = `You are a knowledge-graph extraction engine. You read source text and emit entities and the connections between them as strict JSON. You never invent facts that are not in the text.`

// initialExtractionPrompt asks for entities and connections in one call.
// The vocabulary is fixed so downstream checking can reason about types
// and relations without fuzzy matching.
const initialExtractionPrompt = `Extract all entities and all connections between them from the text below.

ENTITY TYPES (use exactly these values):
- person       : a named individual
- organization : a company, body, committee, or institution
- location     : a city, country, region, or named place
- event        : a named occurrence with a time or place
- concept      : an abstract idea, principle, or methodology
- term         : a defined technical term, identifier, or product name

RELATIONS (use exactly these values):
- works_at   : person is employed by or affiliated with organization
- located_in : source is geographically within target
- part_of    : source is a component or subdivision of target
- member_of  : source belongs to target group or body
- produces   : source creates or manufactures target
- related_to : any other clearly stated association

Return a JSON object with exactly two keys:
  "entities"    : array of {"name": string, "type": string, "attrs": object}
  "connections" : array of {"source": string, "target": string, "relation": string, "weight": number}

Rules:
- Entity names must be normalised to lowercase.
- "attrs" holds short string facts about the entity, e.g. {"role": "ceo"}. Use {} when none.
- Connection source and target must be names from your own entities array.
- Weight is a float between 0.0 and 1.0 indicating confidence.
- Only include entities and connections clearly supported by the text.
- If there are none, return empty arrays.
- Do NOT include any text outside the JSON object.

EXAMPLES:

Input: "Alice Rivera is the CEO of Acme Corp, headquartered in Berlin."
Output:
{"entities": [{"name": "alice rivera", "type": "person", "attrs": {"role": "ceo"}}, {"name": "acme corp", "type": "organization", "attrs": {}}, {"name": "berlin", "type": "location", "attrs": {}}], "connections": [{"source": "alice rivera", "target": "acme corp", "relation": "works_at", "weight": 0.95}, {"source": "acme corp", "target": "berlin", "relation": "located_in", "weight": 0.95}]}

Input: "The Horizon conference was hosted by the Meridian Institute. Dr. Chen presented the closing keynote."
Output:
{"entities": [{"name": "horizon conference", "type": "event", "attrs": {}}, {"name": "meridian institute", "type": "organization", "attrs": {}}, {"name": "dr. chen", "type": "person", "attrs": {"role": "keynote speaker"}}], "connections": [{"source": "horizon conference", "target": "meridian institute", "relation": "related_to", "weight": 0.85}, {"source": "dr. chen", "target": "horizon conference", "relation": "related_to", "weight": 0.9}]}

TEXT:
%s`

// gapRepairPrompt runs a targeted pass over the source excerpts that
// mention entities involved in open gaps. It asks only for what the
// gaps need, which keeps small models from re-extracting the world.
const gapRepairPrompt = `A knowledge graph extracted from a document has gaps. Your job is to repair them using only the source excerpts below.

OPEN GAPS:
%s

SOURCE EXCERPTS:
%s

RELATIONS (use exactly these values): works_at, located_in, part_of, member_of, produces, related_to
ENTITY TYPES (use exactly these values): person, organization, location, event, concept, term

Return a JSON object with exactly two keys:
  "entities"    : array of {"name": string, "type": string, "attrs": object}
  "connections" : array of {"source": string, "target": string, "relation": string, "weight": number}

Rules:
- Entity names must be normalised to lowercase.
- Emit an entity only when a gap needs it to exist (for example a missing connection endpoint).
- Emit connections that close the listed gaps; do not repeat connections the graph already has unless a gap asks for them.
- Only include facts clearly supported by the excerpts. If an excerpt does not support a repair, skip that gap.
- If nothing can be repaired, return empty arrays.
- Do NOT include any text outside the JSON object.`

// enrichPrompt asks for attributes and connections for entities that
// were extracted as bare names.
const enrichPrompt = `The entities below were extracted from a document but carry no attributes. Using only the source excerpts, add what the text states about them.

ENTITIES:
%s

SOURCE EXCERPTS:
%s

RELATIONS (use exactly these values): works_at, located_in, part_of, member_of, produces, related_to

Return a JSON object with exactly two keys:
  "entities"    : array of {"name": string, "type": string, "attrs": object}
  "connections" : array of {"source": string, "target": string, "relation": string, "weight": number}

Rules:
- Only list entities from the ENTITIES list, with the attrs the excerpts support.
- Include any connections the excerpts state for those entities.
- If the excerpts say nothing about an entity, omit it.
- Do NOT include any text outside the JSON object.`

// selfRepairPreamble precedes a retry after the model produced output
// the parser could not use. Showing the model its own invalid output
// plus the diagnostic recovers a usable response more often than a
// blind retry.
const selfRepairPreamble = `Your previous response could not be parsed.

YOUR PREVIOUS RESPONSE:
%s

PROBLEM:
%s

Respond again, correctly this time. Output ONLY the JSON object, with no commentary, no markdown fences, and no text before or after it.

`

// Feedback carries a failed attempt back into the next prompt.
type Feedback struct {
	Previous   string
	Diagnostic string
}

const feedbackResponseCap = 2000

// BuildInitialPrompt renders the full-text extraction prompt.
func BuildInitialPrompt(text string) string {
	return fmt.Sprintf(initialExtractionPrompt, text)
}

// BuildRepairPrompt renders a gap-scoped repair prompt from the open
// gaps and the source excerpts that mention their entities.
func BuildRepairPrompt(gaps []graph.Gap, excerpts []string) string {
	var lines []string
	for _, g := range gaps {
		lines = append(lines, "- "+DescribeGap(g))
	}
	gapBlock := strings.Join(lines, "\n")
	if gapBlock == "" {
		gapBlock = "(none)"
	}
	excerptBlock := strings.Join(excerpts, "\n")
	if excerptBlock == "" {
		excerptBlock = "(no excerpts matched; use your knowledge of the gaps only to connect entities already named in them)"
	}
	return fmt.Sprintf(gapRepairPrompt, gapBlock, excerptBlock)
}

// BuildEnrichPrompt renders the thin-entity enrichment prompt.
func BuildEnrichPrompt(names []string, excerpts []string) string {
	entityBlock := "- " + strings.Join(names, "\n- ")
	excerptBlock := strings.Join(excerpts, "\n")
	if excerptBlock == "" {
		excerptBlock = "(no excerpts matched)"
	}
	return fmt.Sprintf(enrichPrompt, entityBlock, excerptBlock)
}

// WithFeedback prefixes a prompt with the previous invalid output and
// the parse diagnostic so the model can correct itself.
func WithFeedback(prompt string, fb Feedback) string {
	prev := fb.Previous
	if len(prev) > feedbackResponseCap {
		prev = prev[:feedbackResponseCap] + "\n[truncated]"
	}
	return fmt.Sprintf(selfRepairPreamble, prev, fb.Diagnostic) + prompt
}

// DescribeGap renders one gap as an instruction the model can act on.
func DescribeGap(g graph.Gap) string {
	switch g.Kind {
	case graph.GapOrphan:
		if g.MissingRelation != "" {
			return fmt.Sprintf("entity %q is missing a required %q connection; find its %s target in the excerpts and emit the connection", g.EntityID, g.MissingRelation, g.MissingRelation)
		}
		return fmt.Sprintf("entity %q has no connections at all; find how it relates to other entities and emit those connections", g.EntityID)
	case graph.GapDangling:
		return fmt.Sprintf("a connection %q -[%s]-> %q references an entity that was never extracted; emit the missing entity with its type and attrs", g.Source, g.Relation, g.Target)
	case graph.GapDuplicate:
		return fmt.Sprintf("entities %q and %q look like duplicates; if the text says they are distinct, emit attrs that distinguish them, otherwise emit a %q connection between them", g.EntityID, g.OtherID, graph.RelRelatedTo)
	default:
		return g.Reason
	}
}

// GapTerms collects the entity names a set of gaps touches, for excerpt
// selection. Order follows the gaps; duplicates are dropped.
func GapTerms(gaps []graph.Gap) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		terms = append(terms, name)
	}
	for _, g := range gaps {
		add(g.EntityID)
		add(g.OtherID)
		add(g.Source)
		add(g.Target)
	}
	return terms
}
