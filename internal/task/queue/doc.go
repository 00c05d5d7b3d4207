// Package queue runs calls against a rate-limited API one at a time.
//
// Callers submit actions from any goroutine and get a Result handle back.
// A single drain goroutine executes the backlog in submission order, retries
// actions that report a throttled error with exponential backoff, and waits a
// fixed pacing interval between tasks. Every Result resolves exactly once.
//
// Actions mark an attempt as throttled with Throttled, or attach the
// transport status with WithStatus and let the queue compare it against
// Config.ThrottledStatus, which Apply can change at runtime.
package queue
