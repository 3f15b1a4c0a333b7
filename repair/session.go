package repair

import (
	"unicode/utf8"

	"github.com/brunobiangulo/graphmend/llm"
)

// Exchange is one prompt/response pair retained for model continuity.
type Exchange struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Session is the append-only conversational memory carried across
// repair passes. It is bounded by a byte budget: when an append pushes
// the total over budget the oldest exchanges are evicted, and a single
// exchange larger than the whole budget is truncated rather than
// silently dropped. Callers receive copies, never the backing slice.
type Session struct {
	budget    int
	exchanges []Exchange
	size      int
}

// NewSession creates a session bounded to budget bytes. A budget of
// zero or less disables memory: appends are accepted and dropped.
func NewSession(budget int) *Session {
	return &Session{budget: budget}
}

// RestoreSession rebuilds a session from persisted exchanges, applying
// the same budget discipline as live appends.
func RestoreSession(budget int, exchanges []Exchange) *Session {
	s := NewSession(budget)
	for _, ex := range exchanges {
		s.Append(ex.Prompt, ex.Response)
	}
	return s
}

// Append records one exchange, evicting from the front until the log
// fits the budget again.
func (s *Session) Append(prompt, response string) {
	if s.budget <= 0 {
		return
	}
	ex := Exchange{Prompt: prompt, Response: response}
	if n := exchangeSize(ex); n > s.budget {
		ex = truncateExchange(ex, s.budget)
	}
	s.exchanges = append(s.exchanges, ex)
	s.size += exchangeSize(ex)
	for s.size > s.budget && len(s.exchanges) > 1 {
		s.size -= exchangeSize(s.exchanges[0])
		s.exchanges = s.exchanges[1:]
	}
}

// Messages renders the log as alternating user/assistant messages for
// the gateway's history slot.
func (s *Session) Messages() []llm.Message {
	if len(s.exchanges) == 0 {
		return nil
	}
	msgs := make([]llm.Message, 0, len(s.exchanges)*2)
	for _, ex := range s.exchanges {
		msgs = append(msgs, llm.Message{Role: "user", Content: ex.Prompt})
		msgs = append(msgs, llm.Message{Role: "assistant", Content: ex.Response})
	}
	return msgs
}

// Exchanges returns a copy of the retained log, oldest first.
func (s *Session) Exchanges() []Exchange {
	out := make([]Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// Size reports the current byte footprint of the log.
func (s *Session) Size() int {
	return s.size
}

func exchangeSize(ex Exchange) int {
	return len(ex.Prompt) + len(ex.Response)
}

// truncateExchange shrinks an oversized exchange to fit budget bytes,
// preferring to keep the response since that is what the model said.
// Cuts land on rune boundaries so the log stays valid UTF-8.
func truncateExchange(ex Exchange, budget int) Exchange {
	half := budget / 2
	if len(ex.Response) > half {
		keep := budget - min(len(ex.Prompt), half)
		if keep < len(ex.Response) {
			ex.Response = cutAtRune(ex.Response, keep)
		}
	}
	if len(ex.Prompt)+len(ex.Response) > budget {
		keep := budget - len(ex.Response)
		if keep < 0 {
			keep = 0
		}
		ex.Prompt = cutAtRune(ex.Prompt, keep)
	}
	return ex
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
