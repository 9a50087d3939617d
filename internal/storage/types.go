package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrIndexOutOfRange is returned by RemoveByIndex when the per-user index
	// does not exist. It is a user-input error and must never crash the caller.
	ErrIndexOutOfRange = errors.New("index out of range")

	ErrClosed = errors.New("store closed")
)

// Config configures the subscription store.
//
// Driver values:
//   - "file": dependency-free JSON file backend (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Pattern is one subscription pattern: the ordered tokens of a single
// semicolon-delimited "add" argument.
//
// Matching is done against the joined literal text (no tokenization at match
// time); the token boundaries are kept only for display.
type Pattern []string

// ParsePattern splits a raw "add" argument at every semicolon.
func ParsePattern(raw string) Pattern {
	return Pattern(strings.Split(raw, ";"))
}

// MatchText is the literal string a release title is matched against.
// An empty pattern matches every title.
func (p Pattern) MatchText() string { return strings.Join(p, "") }

// Display renders the pattern for "list" replies.
func (p Pattern) Display() string { return strings.Join(p, "\t") }

func (p Pattern) Equal(o Pattern) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Entry is one user's interest in releases whose title contains the pattern.
// Duplicate (user, pattern) entries are permitted and independently removable.
type Entry struct {
	UID     int64   `json:"uid"`
	Pattern Pattern `json:"pat"`
}
