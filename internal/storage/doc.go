// Package storage persists subscriber settings and the delivery log.
//
// Drivers:
//   - "memory": process-local maps, the default and the test driver
//   - "sqlite": a single SQLite file, schema managed by goose migrations
package storage
