package feed

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// The cursor file holds a single RFC 1123Z line: the publish time of the most
// recently dispatched release. It is owned solely by the poller.
const cursorFormat = time.RFC1123Z

// cursorBackfill is how far into the past a fresh deployment starts, so the
// first poll doesn't re-deliver the entire feed history.
const cursorBackfill = 4 * time.Hour

// loadCursor reads the cursor file, creating it with a recent-past default
// when absent.
func loadCursor(path string) (time.Time, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		def := time.Now().Add(-cursorBackfill)
		if werr := writeCursor(path, def); werr != nil {
			return time.Time{}, werr
		}
		return def, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	ts, err := time.Parse(cursorFormat, strings.TrimSpace(string(b)))
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt cursor file %s: %w", path, err)
	}
	return ts, nil
}

func writeCursor(path string, ts time.Time) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(ts.Format(cursorFormat)), 0o600); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	return nil
}
