package graphmend

import "errors"

var (
	// ErrRunNotFound is returned when a run ID does not exist in the store.
	ErrRunNotFound = errors.New("graphmend: run not found")

	// ErrRunFinished is returned when resuming a run that already reached a
	// terminal state.
	ErrRunFinished = errors.New("graphmend: run already finished")

	// ErrEmptyInput is returned when the source text is empty or whitespace.
	ErrEmptyInput = errors.New("graphmend: empty input text")

	// ErrUnsupportedFormat is returned for unrecognized input file formats.
	ErrUnsupportedFormat = errors.New("graphmend: unsupported input format")

	// ErrPersistenceDisabled is returned when a run-store operation is
	// requested on an engine built without a database.
	ErrPersistenceDisabled = errors.New("graphmend: persistence not enabled")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("graphmend: invalid configuration")
)
