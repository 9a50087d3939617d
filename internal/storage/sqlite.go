//go:build sqlite
// +build sqlite

package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"releasebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the same observable contract as fileStore; durability and
// reader isolation come from SQLite (WAL) instead of the whole-file rewrite.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate() error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Add(user int64, pat Pattern) error {
	tokens, err := json.Marshal(pat)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO subscriptions(uid, tokens, match_text) VALUES(?,?,?)`,
		user, string(tokens), pat.MatchText(),
	)
	if err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	return nil
}

func (s *sqliteStore) List(user int64) []Pattern {
	rows, err := s.db.Query(`SELECT tokens FROM subscriptions WHERE uid = ? ORDER BY id`, user)
	if err != nil {
		s.log.Error("subscription list query failed", logx.Int64("uid", user), logx.Err(err))
		return nil
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var p Pattern
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *sqliteStore) RemoveByIndex(user int64, i int) error {
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}

	var matchText string
	err := s.db.QueryRow(
		`SELECT match_text FROM subscriptions WHERE uid = ? ORDER BY id LIMIT 1 OFFSET ?`,
		user, i,
	).Scan(&matchText)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	if err != nil {
		return err
	}

	// Same tie-break as the file driver: earliest stored duplicate goes first.
	_, err = s.db.Exec(
		`DELETE FROM subscriptions WHERE id = (
			SELECT MIN(id) FROM subscriptions WHERE uid = ? AND match_text = ?
		)`,
		user, matchText,
	)
	if err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	return nil
}

func (s *sqliteStore) RemoveAll(user int64) error {
	if _, err := s.db.Exec(`DELETE FROM subscriptions WHERE uid = ?`, user); err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	return nil
}

func (s *sqliteStore) MatchingUsers(title string) []int64 {
	rows, err := s.db.Query(
		`SELECT DISTINCT uid FROM subscriptions
		 WHERE match_text = '' OR instr(?, match_text) > 0
		 ORDER BY uid`,
		title,
	)
	if err != nil {
		s.log.Error("subscription match query failed", logx.Err(err))
		return nil
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err == nil {
			out = append(out, uid)
		}
	}
	return out
}
