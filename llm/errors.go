package llm

import "errors"

// Gateway failures are classified so the repair loop can tell a transient
// backend problem from a content problem. All three consume retry budget
// when they happen during a repair pass; none is retried here — the
// gateway makes exactly one attempt per call.
var (
	// ErrUnavailable is returned when the backend cannot be reached or
	// answers with a server-side failure status.
	ErrUnavailable = errors.New("llm: backend unavailable")

	// ErrTimeout is returned when no response arrives within the
	// configured timeout.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrMalformedResponse is returned when the backend responds but the
	// body cannot be decoded into a text completion.
	ErrMalformedResponse = errors.New("llm: malformed response")
)
