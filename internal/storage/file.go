package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"releasebot/pkg/logx"
)

// fileStore is the default, dependency-free backend: the full entry sequence
// serialized as one JSON array, rewritten wholesale on every mutation.
//
// The rewrite goes through <path>.tmp + rename so a concurrent process crash
// never leaves a torn file behind. An absent file means an empty store.
type fileStore struct {
	log logx.Logger

	mu      sync.RWMutex
	entries []Entry
	path    string
	closed  bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	entries, err := loadEntries(path)
	if err != nil {
		return nil, err
	}

	log.Debug("subscription store opened", logx.String("path", path), logx.Int("entries", len(entries)))
	return &fileStore{log: log, entries: entries, path: path}, nil
}

func loadEntries(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("corrupt store file %s: %w", path, err)
	}
	return entries, nil
}

// persistLocked rewrites the whole store file. Caller holds the write lock.
func (s *fileStore) persistLocked() error {
	b, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	return nil
}

func (s *fileStore) Add(user int64, pat Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.entries = append(s.entries, Entry{UID: user, Pattern: pat})
	if err := s.persistLocked(); err != nil {
		// Roll back so memory keeps mirroring the last good disk state.
		s.entries = s.entries[:len(s.entries)-1]
		return err
	}
	return nil
}

func (s *fileStore) List(user int64) []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Pattern
	for _, e := range s.entries {
		if e.UID == user {
			out = append(out, e.Pattern)
		}
	}
	return out
}

func (s *fileStore) RemoveByIndex(user int64, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	view := make([]int, 0, 8) // global positions of the user's entries
	for gi, e := range s.entries {
		if e.UID == user {
			view = append(view, gi)
		}
	}
	if i < 0 || i >= len(view) {
		return fmt.Errorf("%w: %d (have %d patterns)", ErrIndexOutOfRange, i, len(view))
	}

	// Remove the first global entry equal to (user, pattern). For duplicate
	// pattern text this deliberately picks the earliest stored one.
	target := s.entries[view[i]].Pattern
	gi := view[0]
	for _, pos := range view {
		if s.entries[pos].Pattern.Equal(target) {
			gi = pos
			break
		}
	}

	removed := s.entries[gi]
	s.entries = append(s.entries[:gi], s.entries[gi+1:]...)
	if err := s.persistLocked(); err != nil {
		s.entries = append(s.entries[:gi], append([]Entry{removed}, s.entries[gi:]...)...)
		return err
	}
	return nil
}

func (s *fileStore) RemoveAll(user int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.UID != user {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(s.entries) {
		// Nothing to do; skip the disk rewrite.
		return nil
	}

	prev := s.entries
	s.entries = kept
	if err := s.persistLocked(); err != nil {
		s.entries = prev
		return err
	}
	return nil
}

func (s *fileStore) MatchingUsers(title string) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[int64]struct{}{}
	var out []int64
	for _, e := range s.entries {
		if !strings.Contains(title, e.Pattern.MatchText()) {
			continue
		}
		if _, dup := seen[e.UID]; dup {
			continue
		}
		seen[e.UID] = struct{}{}
		out = append(out, e.UID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
