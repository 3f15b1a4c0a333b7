package extract

import (
	"reflect"
	"strings"
	"testing"
)

const excerptSource = `Acme Corp announced record revenue this quarter. The weather in the region was mild.
Alice Rivera joined Acme Corp as chief executive in 2019. Unrelated filler about nothing in particular.
Berlin remains the company's largest office. Acme Corp and Globex discussed a merger in Berlin.`

func TestExcerptsPicksMentioningSentences(t *testing.T) {
	got := Excerpts(excerptSource, []string{"alice rivera"})

	want := []string{"Alice Rivera joined Acme Corp as chief executive in 2019."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Excerpts = %v, want %v", got, want)
	}
}

func TestExcerptsDocumentOrder(t *testing.T) {
	got := Excerpts(excerptSource, []string{"acme corp", "berlin"})
	if len(got) < 2 {
		t.Fatalf("Excerpts = %v, want several sentences", got)
	}
	// The merger sentence mentions both terms and scores highest, but it
	// must still come after earlier kept sentences.
	joined := strings.Join(got, " ")
	first := strings.Index(joined, "record revenue")
	last := strings.Index(joined, "merger")
	if first == -1 || last == -1 || first > last {
		t.Errorf("sentences out of document order: %v", got)
	}
}

func TestExcerptsCaseInsensitive(t *testing.T) {
	got := Excerpts("GLOBEX opened an office.", []string{"Globex"})
	if len(got) != 1 {
		t.Errorf("Excerpts = %v, want one sentence", got)
	}
}

func TestExcerptsNoMatch(t *testing.T) {
	if got := Excerpts(excerptSource, []string{"nonexistent entity"}); got != nil {
		t.Errorf("Excerpts = %v, want nil", got)
	}
}

func TestExcerptsEmptyInputs(t *testing.T) {
	if got := Excerpts("", []string{"x"}); got != nil {
		t.Errorf("empty source: got %v", got)
	}
	if got := Excerpts("some text.", nil); got != nil {
		t.Errorf("no terms: got %v", got)
	}
	if got := Excerpts("some text.", []string{"  "}); got != nil {
		t.Errorf("blank terms: got %v", got)
	}
}

func TestExcerptsBudget(t *testing.T) {
	long := strings.Repeat("acme corp word salad padding text. ", 100)
	got := Excerpts(long, []string{"acme corp"})
	if len(got) == 0 {
		t.Fatal("want at least one excerpt even under budget pressure")
	}
	total := 0
	for _, s := range got {
		total += len(s)
	}
	if total > excerptBudget+200 {
		t.Errorf("total excerpt size %d exceeds budget by too much", total)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two! Three?\nFour")
	want := []string{"One.", "Two!", "Three?", "Four"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences = %v, want %v", got, want)
	}
}
