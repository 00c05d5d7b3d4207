package generation

import "errors"

var (
	// ErrGenerationFailed wraps every failed completion. The cause stays
	// reachable with errors.Is, including queue.ErrRetriesExhausted.
	ErrGenerationFailed = errors.New("failed to generate content")

	// ErrInvalidConfig is returned by backend constructors.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyResponse is returned when the backend answers with no text.
	ErrEmptyResponse = errors.New("empty response from language model")
)
