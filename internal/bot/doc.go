// Package bot implements the chat commands and digest delivery.
//
// The Router turns transport updates into replies. Deliverer builds a digest
// from one insight per topic, sends it, and records the attempt.
package bot
