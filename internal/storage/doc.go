// Package storage owns the persisted mapping of user -> subscription
// patterns. Every mutation is synchronously durable before it returns; the
// in-memory view always mirrors the last successfully written state.
package storage
