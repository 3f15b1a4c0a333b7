package repair

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSessionMessagesAlternate(t *testing.T) {
	s := NewSession(4096)
	s.Append("first prompt", "first answer")
	s.Append("second prompt", "second answer")

	msgs := s.Messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	wantRoles := []string{"user", "assistant", "user", "assistant"}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("msg %d role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if msgs[2].Content != "second prompt" || msgs[3].Content != "second answer" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestSessionEvictsOldestFirst(t *testing.T) {
	s := NewSession(60)
	s.Append("prompt-one", "answer-one")     // 20 bytes
	s.Append("prompt-two", "answer-two")     // 40 bytes
	s.Append("prompt-three", "answer-three") // pushes over 60

	exchanges := s.Exchanges()
	for _, ex := range exchanges {
		if ex.Prompt == "prompt-one" {
			t.Fatal("oldest exchange should have been evicted")
		}
	}
	if len(exchanges) == 0 {
		t.Fatal("newest exchange must survive eviction")
	}
	if got := exchanges[len(exchanges)-1].Prompt; got != "prompt-three" {
		t.Errorf("last prompt = %q, want prompt-three", got)
	}
	if s.Size() > 60 {
		t.Errorf("size = %d, want <= 60", s.Size())
	}
}

func TestSessionTruncatesOversizedExchange(t *testing.T) {
	s := NewSession(100)
	s.Append("short", strings.Repeat("x", 500))

	exchanges := s.Exchanges()
	if len(exchanges) != 1 {
		t.Fatalf("exchanges = %d, want 1", len(exchanges))
	}
	if s.Size() > 100 {
		t.Errorf("size = %d, want <= 100", s.Size())
	}
	if exchanges[0].Response == "" {
		t.Error("truncation should keep part of the response")
	}
}

func TestSessionTruncationKeepsValidUTF8(t *testing.T) {
	// Multi-byte runes all the way through, so any byte-offset cut
	// would land mid-rune.
	text := strings.Repeat("héllo wörld — ", 40)
	for budget := 20; budget <= 40; budget++ {
		s := NewSession(budget)
		s.Append(text, text)

		ex := s.Exchanges()[0]
		if !utf8.ValidString(ex.Prompt) || !utf8.ValidString(ex.Response) {
			t.Fatalf("budget %d: truncation produced invalid UTF-8: %q / %q",
				budget, ex.Prompt, ex.Response)
		}
		if s.Size() > budget {
			t.Fatalf("budget %d: size = %d", budget, s.Size())
		}
	}
}

func TestSessionZeroBudgetDisabled(t *testing.T) {
	s := NewSession(0)
	s.Append("prompt", "response")
	if msgs := s.Messages(); msgs != nil {
		t.Errorf("messages = %v, want nil", msgs)
	}
	if s.Size() != 0 {
		t.Errorf("size = %d, want 0", s.Size())
	}
}

func TestSessionExchangesIsCopy(t *testing.T) {
	s := NewSession(4096)
	s.Append("p", "r")
	got := s.Exchanges()
	got[0].Prompt = "mutated"
	if s.Exchanges()[0].Prompt != "p" {
		t.Error("Exchanges must return a copy")
	}
}

func TestRestoreSession(t *testing.T) {
	prior := []Exchange{
		{Prompt: "p1", Response: "r1"},
		{Prompt: "p2", Response: "r2"},
	}
	s := RestoreSession(4096, prior)
	if len(s.Exchanges()) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(s.Exchanges()))
	}
	// Restoring through a smaller budget applies the same eviction.
	small := RestoreSession(5, prior)
	if len(small.Exchanges()) != 1 {
		t.Fatalf("small budget exchanges = %d, want 1", len(small.Exchanges()))
	}
	if small.Exchanges()[0].Prompt != "p2" {
		t.Errorf("survivor = %+v, want the newest", small.Exchanges()[0])
	}
}
