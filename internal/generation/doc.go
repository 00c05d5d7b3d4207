// Package generation turns topics into short business insights using a
// text generation backend.
//
// Every backend call goes through the shared queue so the process never has
// more than one request in flight against the rate-limited API. Backends only
// classify errors; the queue owns retries.
package generation
