package storage

import (
	"errors"
	"strings"

	"releasebot/pkg/logx"
)

// Store is the subscription store shared by the command path and the
// notification path.
//
// Concurrency contract: many concurrent readers, one exclusive writer; a
// mutating call holds exclusive access for its full duration including the
// disk write, and no reader ever observes a partially written state.
type Store interface {
	// Add appends an entry and persists. On a persistence failure the
	// in-memory state stays consistent with the last successful disk state.
	Add(user int64, pat Pattern) error

	// List returns the user's patterns in insertion order. Never fails.
	List(user int64) []Pattern

	// RemoveByIndex removes the i-th entry of the user's List() view.
	// The index is only stable within one read; when two entries of the same
	// user carry identical pattern text, the first one in global storage
	// order is removed.
	RemoveByIndex(user int64, i int) error

	// RemoveAll removes every entry of the user. A no-op for unknown users.
	RemoveAll(user int64) error

	// MatchingUsers returns the de-duplicated, ascending set of users whose
	// pattern text is a literal substring of title.
	MatchingUsers(title string) []int64

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
