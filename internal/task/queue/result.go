package queue

import (
	"context"
	"sync"
)

// Result is the handle returned by Submit. It resolves exactly once.
type Result[T any] struct {
	id   string
	done chan struct{}
	once sync.Once

	val T
	err error
}

func newResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

// resolve stores the outcome. Later calls are ignored and report false.
func (r *Result[T]) resolve(v T, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.val = v
		r.err = err
		resolved = true
		close(r.done)
	})
	return resolved
}

// ID is the task id assigned at submission.
func (r *Result[T]) ID() string { return r.id }

// Done is closed once the task has resolved.
func (r *Result[T]) Done() <-chan struct{} { return r.done }

// Wait blocks until the task resolves or ctx ends. When ctx wins, the task
// keeps its place in the queue and still resolves later.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
