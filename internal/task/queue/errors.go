package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is returned when an action is still throttled after
	// MaxRetries attempts. It is distinct from the throttling error itself so
	// callers can back off at a higher level.
	ErrRetriesExhausted = errors.New("max retries reached for rate limit")

	ErrClosed      = errors.New("queue closed")
	ErrNilAction   = errors.New("queue action is nil")
	ErrActionPanic = errors.New("queue action panicked")
)

// Class tells the queue how to treat a failed attempt.
type Class int

const (
	ClassOther Class = iota
	ClassThrottled
)

func (c Class) String() string {
	if c == ClassThrottled {
		return "throttled"
	}
	return "other"
}

// Error is the tagged error actions return to classify a failure.
// Status is the transport status code when one exists (0 otherwise).
type Error struct {
	Class  Class
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Throttled marks err as a "slow down and retry" signal.
func Throttled(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassThrottled, Err: err}
}

// FromStatus classifies err by a transport status code. A status equal to
// throttledStatus yields a throttled error; anything else is passed through
// as ClassOther with the status attached.
func FromStatus(status, throttledStatus int, err error) error {
	if err == nil {
		return nil
	}
	class := ClassOther
	if status != 0 && status == throttledStatus {
		class = ClassThrottled
	}
	return &Error{Class: class, Status: status, Err: err}
}

// WithStatus attaches a transport status code to err without classifying
// it. The queue compares the status with Config.ThrottledStatus.
func WithStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassOther, Status: status, Err: err}
}

// StatusOf returns the status attached to err, or 0.
func StatusOf(err error) int {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Status
	}
	return 0
}

// IsThrottled reports whether err carries the throttled classification
// itself. Status matching happens in the queue.
func IsThrottled(err error) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Class == ClassThrottled
	}
	return false
}
