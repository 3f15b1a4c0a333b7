package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/brunobiangulo/graphmend/graph"
)

// ErrParse is returned when zero structured fragments can be recovered
// from a non-empty response. Partial recovery is success, not an error:
// whatever could not be decoded rides along in Fragment.Remainder.
var ErrParse = errors.New("extract: no structured fragments recovered")

// ErrEmpty reports a response that decoded cleanly but carried no
// entities or connections, which is how the prompts tell the model to
// say "nothing found". It wraps ErrParse, so callers that only care
// about zero recovery keep working; callers that distinguish an honest
// empty answer from garbage check this sentinel first.
var ErrEmpty = errors.New("response carried no fragments")

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// wireFragment is the response grammar the prompts ask for. Decoding is
// deliberately loose: models drift between "connections" and
// "relationships", between "relation" and "relation_type", and between
// an attrs object and a bare description string. All are accepted.
type wireFragment struct {
	Entities      []wireEntity     `json:"entities"`
	Connections   []wireConnection `json:"connections"`
	Relationships []wireConnection `json:"relationships"`
}

type wireEntity struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Attrs       map[string]interface{} `json:"attrs"`
	Description string                 `json:"description"`
}

type wireConnection struct {
	Source       string                 `json:"source"`
	Target       string                 `json:"target"`
	Relation     string                 `json:"relation"`
	RelationType string                 `json:"relation_type"`
	Attrs        map[string]interface{} `json:"attrs"`
	Description  string                 `json:"description"`
	Weight       float64                `json:"weight"`
}

// Parse decodes a model response into a Fragment. Well-formed pieces are
// recovered even when the response as a whole is not valid JSON;
// anything that resisted decoding is returned in Fragment.Remainder for
// diagnostics rather than discarded. Parse fails only when nothing
// structured could be recovered at all.
func Parse(raw string) (graph.Fragment, error) {
	var frag graph.Fragment

	text := raw
	if m := codeBlockRe.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return frag, fmt.Errorf("%w: empty response", ErrParse)
	}

	// Fast path: the whole response is the object we asked for.
	if decodeInto(&frag, text) {
		frag.Remainder = ""
		if frag.Empty() {
			return frag, fmt.Errorf("%w: %w", ErrParse, ErrEmpty)
		}
		return frag, nil
	}

	// Some models answer with a bare array of entities or connections.
	if strings.HasPrefix(text, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(text), &items); err == nil {
			for _, item := range items {
				decodeObject(&frag, string(item))
			}
			if !frag.Empty() {
				return frag, nil
			}
		}
	}

	// Lenient path: scan for balanced top-level JSON objects embedded in
	// prose and decode each on its own. Unconsumed text is the remainder.
	var leftover []string
	last := 0
	for _, sp := range scanObjects(text) {
		if gap := strings.TrimSpace(text[last:sp.start]); gap != "" {
			leftover = append(leftover, gap)
		}
		piece := text[sp.start:sp.end]
		if !decodeObject(&frag, piece) {
			leftover = append(leftover, piece)
		}
		last = sp.end
	}
	if gap := strings.TrimSpace(text[last:]); gap != "" {
		leftover = append(leftover, gap)
	}
	frag.Remainder = strings.Join(leftover, "\n")

	if frag.Empty() {
		return frag, fmt.Errorf("%w: %d bytes of response, nothing decodable", ErrParse, len(raw))
	}
	return frag, nil
}

// decodeInto tries the full wire-fragment shape and reports success.
func decodeInto(frag *graph.Fragment, text string) bool {
	if !strings.HasPrefix(text, "{") {
		return false
	}
	var wf wireFragment
	if err := json.Unmarshal([]byte(text), &wf); err != nil {
		return false
	}
	appendWire(frag, wf)
	return true
}

// decodeObject classifies one standalone JSON object: a wire fragment, a
// single entity, or a single connection. Returns false when the object
// fits none of those shapes.
func decodeObject(frag *graph.Fragment, piece string) bool {
	var wf wireFragment
	if err := json.Unmarshal([]byte(piece), &wf); err == nil &&
		(len(wf.Entities) > 0 || len(wf.Connections) > 0 || len(wf.Relationships) > 0) {
		appendWire(frag, wf)
		return true
	}

	var wc wireConnection
	if err := json.Unmarshal([]byte(piece), &wc); err == nil && wc.Source != "" && wc.Target != "" {
		frag.Connections = append(frag.Connections, toFragmentConnection(wc))
		return true
	}

	var we wireEntity
	if err := json.Unmarshal([]byte(piece), &we); err == nil && we.Name != "" {
		frag.Entities = append(frag.Entities, toFragmentEntity(we))
		return true
	}

	return false
}

func appendWire(frag *graph.Fragment, wf wireFragment) {
	for _, we := range wf.Entities {
		if we.Name == "" {
			continue
		}
		frag.Entities = append(frag.Entities, toFragmentEntity(we))
	}
	conns := wf.Connections
	conns = append(conns, wf.Relationships...)
	for _, wc := range conns {
		if wc.Source == "" || wc.Target == "" {
			continue
		}
		frag.Connections = append(frag.Connections, toFragmentConnection(wc))
	}
}

func toFragmentEntity(we wireEntity) graph.FragmentEntity {
	attrs := attrsToStrings(we.Attrs)
	if we.Description != "" {
		if attrs == nil {
			attrs = make(map[string]string)
		}
		if _, ok := attrs["description"]; !ok {
			attrs["description"] = we.Description
		}
	}
	return graph.FragmentEntity{
		Name:  we.Name,
		Type:  we.Type,
		Attrs: attrs,
	}
}

func toFragmentConnection(wc wireConnection) graph.FragmentConnection {
	rel := wc.Relation
	if rel == "" {
		rel = wc.RelationType
	}
	attrs := attrsToStrings(wc.Attrs)
	if wc.Description != "" {
		if attrs == nil {
			attrs = make(map[string]string)
		}
		if _, ok := attrs["description"]; !ok {
			attrs["description"] = wc.Description
		}
	}
	return graph.FragmentConnection{
		Source:   wc.Source,
		Target:   wc.Target,
		Relation: rel,
		Attrs:    attrs,
		Weight:   wc.Weight,
	}
}

// attrsToStrings flattens a decoded attrs object to string values.
// Numbers and booleans are formatted; nested structures are dropped.
func attrsToStrings(in map[string]interface{}) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			if val != "" {
				out[k] = val
			}
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// span marks one balanced top-level JSON object inside a larger text.
type span struct {
	start, end int
}

// scanObjects finds balanced top-level {...} blocks, honoring string
// literals and escapes so braces inside values do not confuse the walk.
func scanObjects(text string) []span {
	var spans []span
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case r == '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, span{start: start, end: i + 1})
					start = -1
				}
			}
		}
	}
	return spans
}
