package extract

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/brunobiangulo/graphmend/graph"
)

func TestParseCleanObject(t *testing.T) {
	raw := `{"entities": [{"name": "alice rivera", "type": "person", "attrs": {"role": "ceo"}}], "connections": [{"source": "alice rivera", "target": "acme corp", "relation": "works_at", "weight": 0.95}]}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 || len(frag.Connections) != 1 {
		t.Fatalf("got %d entities, %d connections", len(frag.Entities), len(frag.Connections))
	}
	want := graph.FragmentEntity{Name: "alice rivera", Type: "person", Attrs: map[string]string{"role": "ceo"}}
	if !reflect.DeepEqual(frag.Entities[0], want) {
		t.Errorf("entity = %+v, want %+v", frag.Entities[0], want)
	}
	conn := frag.Connections[0]
	if conn.Source != "alice rivera" || conn.Target != "acme corp" || conn.Relation != "works_at" {
		t.Errorf("connection = %+v", conn)
	}
	if conn.Weight != 0.95 {
		t.Errorf("weight = %v, want 0.95", conn.Weight)
	}
	if frag.Remainder != "" {
		t.Errorf("remainder = %q, want empty", frag.Remainder)
	}
}

func TestParseCodeFence(t *testing.T) {
	raw := "```json\n{\"entities\": [{\"name\": \"berlin\", \"type\": \"location\"}], \"connections\": []}\n```"

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 || frag.Entities[0].Name != "berlin" {
		t.Fatalf("entities = %+v", frag.Entities)
	}
}

func TestParseRelationshipsAlias(t *testing.T) {
	raw := `{"entities": [], "relationships": [{"source": "a", "target": "b", "relation_type": "part_of", "weight": 0.8}]}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Connections) != 1 {
		t.Fatalf("connections = %+v", frag.Connections)
	}
	if frag.Connections[0].Relation != "part_of" {
		t.Errorf("relation = %q, want part_of", frag.Connections[0].Relation)
	}
}

func TestParseDescriptionFolding(t *testing.T) {
	raw := `{"entities": [{"name": "acme corp", "type": "organization", "description": "industrial manufacturer"}], "connections": []}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := frag.Entities[0].Attrs["description"]
	if got != "industrial manufacturer" {
		t.Errorf("description attr = %q", got)
	}
}

func TestParseDescriptionDoesNotClobberAttr(t *testing.T) {
	raw := `{"entities": [{"name": "acme corp", "type": "organization", "attrs": {"description": "from attrs"}, "description": "from field"}], "connections": []}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := frag.Entities[0].Attrs["description"]; got != "from attrs" {
		t.Errorf("description attr = %q, want %q", got, "from attrs")
	}
}

func TestParseProseWrapped(t *testing.T) {
	raw := `Sure, here is the extraction you asked for:

{"entities": [{"name": "alice rivera", "type": "person"}], "connections": []}

Let me know if you need anything else!`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 {
		t.Fatalf("entities = %+v", frag.Entities)
	}
	if !strings.Contains(frag.Remainder, "Sure, here is") {
		t.Errorf("remainder should keep leading prose, got %q", frag.Remainder)
	}
	if !strings.Contains(frag.Remainder, "anything else") {
		t.Errorf("remainder should keep trailing prose, got %q", frag.Remainder)
	}
}

func TestParseMultipleObjects(t *testing.T) {
	raw := `{"name": "acme corp", "type": "organization"}
{"source": "acme corp", "target": "berlin", "relation": "located_in"}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 || len(frag.Connections) != 1 {
		t.Fatalf("got %d entities, %d connections", len(frag.Entities), len(frag.Connections))
	}
}

func TestParseBareArray(t *testing.T) {
	raw := `[{"name": "alice rivera", "type": "person"}, {"name": "acme corp", "type": "organization"}]`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 2 {
		t.Fatalf("entities = %+v", frag.Entities)
	}
}

func TestParseAttrValueCoercion(t *testing.T) {
	raw := `{"entities": [{"name": "acme corp", "type": "organization", "attrs": {"founded": 1952, "public": true, "ignored": {"nested": "x"}}}], "connections": []}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	attrs := frag.Entities[0].Attrs
	if attrs["founded"] != "1952" {
		t.Errorf("founded = %q, want 1952", attrs["founded"])
	}
	if attrs["public"] != "true" {
		t.Errorf("public = %q, want true", attrs["public"])
	}
	if _, ok := attrs["ignored"]; ok {
		t.Errorf("nested attr should be dropped, got %q", attrs["ignored"])
	}
}

func TestParseBracesInsideStrings(t *testing.T) {
	raw := `notes before {"entities": [{"name": "spec {draft}", "type": "term", "attrs": {"note": "uses } and { freely"}}], "connections": []} notes after`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 || frag.Entities[0].Name != "spec {draft}" {
		t.Fatalf("entities = %+v", frag.Entities)
	}
}

func TestParseUnusableObjectGoesToRemainder(t *testing.T) {
	raw := `{"name": "alice rivera", "type": "person"} {"flavor": "vanilla"}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 {
		t.Fatalf("entities = %+v", frag.Entities)
	}
	if !strings.Contains(frag.Remainder, "vanilla") {
		t.Errorf("remainder = %q, want the unusable object kept", frag.Remainder)
	}
}

func TestParseNothingRecoverable(t *testing.T) {
	for _, raw := range []string{
		"",
		"   \n  ",
		"I could not find any entities in this text.",
		"{}",
		`{"entities": [], "connections": []}`,
	} {
		_, err := Parse(raw)
		if !errors.Is(err, ErrParse) {
			t.Errorf("Parse(%q) err = %v, want ErrParse", raw, err)
		}
	}
}

func TestParseEmptyObjectIsHonestEmpty(t *testing.T) {
	// A well-formed object with empty arrays is the model saying
	// "nothing found", not a parse failure.
	for _, raw := range []string{"{}", `{"entities": [], "connections": []}`} {
		_, err := Parse(raw)
		if !errors.Is(err, ErrEmpty) {
			t.Errorf("Parse(%q) err = %v, want ErrEmpty", raw, err)
		}
	}
	// Garbage is not an honest empty answer.
	_, err := Parse("total nonsense, no json here")
	if errors.Is(err, ErrEmpty) {
		t.Errorf("garbage should not match ErrEmpty, got %v", err)
	}
}

func TestParseSkipsNamelessEntities(t *testing.T) {
	raw := `{"entities": [{"name": "", "type": "person"}, {"name": "alice rivera", "type": "person"}], "connections": [{"source": "", "target": "x", "relation": "related_to"}]}`

	frag, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frag.Entities) != 1 || frag.Entities[0].Name != "alice rivera" {
		t.Fatalf("entities = %+v", frag.Entities)
	}
	if len(frag.Connections) != 0 {
		t.Fatalf("connections = %+v", frag.Connections)
	}
}

func TestScanObjectsBalanced(t *testing.T) {
	spans := scanObjects(`x {"a": {"b": 1}} y {"c": 2}`)
	if len(spans) != 2 {
		t.Fatalf("spans = %+v, want 2", spans)
	}
	text := `x {"a": {"b": 1}} y {"c": 2}`
	if text[spans[0].start:spans[0].end] != `{"a": {"b": 1}}` {
		t.Errorf("first span = %q", text[spans[0].start:spans[0].end])
	}
	if text[spans[1].start:spans[1].end] != `{"c": 2}` {
		t.Errorf("second span = %q", text[spans[1].start:spans[1].end])
	}
}
