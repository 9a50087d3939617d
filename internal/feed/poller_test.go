package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"releasebot/pkg/logx"
)

func rssBody(items ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>releases</title>`)
	for _, it := range items {
		b.WriteString(it)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func rssItem(title, link string, published time.Time) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><pubDate>%s</pubDate></item>`,
		title, link, published.Format(time.RFC1123Z))
}

func TestCursorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_seen.txt")
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("", 2*3600))

	if err := writeCursor(path, ts); err != nil {
		t.Fatalf("write cursor: %v", err)
	}
	got, err := loadCursor(path)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("cursor changed across round trip: %v vs %v", got, ts)
	}
}

func TestCursorAbsentInitializesRecentPast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_seen.txt")

	before := time.Now()
	got, err := loadCursor(path)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	age := before.Sub(got)
	if age < cursorBackfill-time.Minute || age > cursorBackfill+time.Minute {
		t.Fatalf("default cursor should be ~%v in the past, got %v", cursorBackfill, age)
	}
	// The default must have been persisted so a restart sees the same value.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default cursor not written: %v", err)
	}
}

func TestCursorCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_seen.txt")
	if err := os.WriteFile(path, []byte("not a timestamp"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadCursor(path); err == nil {
		t.Fatal("expected error for corrupt cursor file")
	}
}

func TestValidEntriesSkipsBrokenItems(t *testing.T) {
	now := time.Now()
	items := []*gofeed.Item{
		{Title: "ok", Link: "http://x/1", PublishedParsed: &now},
		{Title: "", Link: "http://x/2", PublishedParsed: &now},
		{Title: "no link", PublishedParsed: &now},
		{Title: "no date", Link: "http://x/3"},
		nil,
	}
	got := validEntries(items, logx.Nop())
	if len(got) != 1 || got[0].Title != "ok" {
		t.Fatalf("expected only the valid item, got %+v", got)
	}
}

func TestNewerThanStrict(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := []Release{
		{Title: "old", PublishedAt: t0.Add(-time.Hour)},
		{Title: "boundary", PublishedAt: t0},
		{Title: "new1", PublishedAt: t0.Add(time.Hour)},
		{Title: "new2", PublishedAt: t0.Add(2 * time.Hour)},
	}
	got := newerThan(entries, t0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries strictly newer than cursor, got %d", len(got))
	}
	for _, e := range got {
		if !e.PublishedAt.After(t0) {
			t.Fatalf("entry %q not strictly newer than cursor", e.Title)
		}
	}
}

func startPoller(t *testing.T, url, cursorPath string, out chan []Release) (context.CancelFunc, chan error) {
	t.Helper()
	p, err := NewPoller(Config{
		URL:          url,
		PollInterval: 50 * time.Millisecond,
		FailInterval: 10 * time.Millisecond,
		CursorPath:   cursorPath,
	}, out, logx.Nop())
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	return cancel, errCh
}

func TestPollerFiltersSortsAndAdvancesCursor(t *testing.T) {
	t0 := time.Now().Truncate(time.Second).Add(-time.Hour)
	body := rssBody(
		rssItem("minus1", "http://x/0", t0.Add(-time.Minute)),
		rssItem("exactly", "http://x/1", t0),
		rssItem("plus1", "http://x/2", t0.Add(time.Minute)),
		rssItem("plus2", "http://x/3", t0.Add(2*time.Minute)),
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cursorPath := filepath.Join(t.TempDir(), "last_seen.txt")
	if err := writeCursor(cursorPath, t0); err != nil {
		t.Fatal(err)
	}

	out := make(chan []Release, 3)
	cancel, errCh := startPoller(t, srv.URL, cursorPath, out)
	defer cancel()

	var batch []Release
	select {
	case batch = <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("no batch forwarded")
	}

	if len(batch) != 2 {
		t.Fatalf("expected batch [plus2 plus1], got %+v", batch)
	}
	if batch[0].Title != "plus2" || batch[1].Title != "plus1" {
		t.Fatalf("batch not sorted most-recent-first: %+v", batch)
	}

	// Cursor file must now hold plus2's publish time.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := loadCursor(cursorPath)
		if err == nil && got.Equal(batch[0].PublishedAt) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor not advanced, have %v want %v", got, batch[0].PublishedAt)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled on shutdown, got %v", err)
	}
}

func TestPollerBacksOffOnZeroValidEntries(t *testing.T) {
	// Items without pubDate fail validation; the whole response counts as a
	// fetch failure, never as "no new entries".
	body := rssBody(`<item><title>broken</title><link>http://x/1</link></item>`)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cursorPath := filepath.Join(t.TempDir(), "last_seen.txt")
	t0 := time.Now().Add(-time.Hour)
	if err := writeCursor(cursorPath, t0); err != nil {
		t.Fatal(err)
	}

	out := make(chan []Release, 3)
	cancel, _ := startPoller(t, srv.URL, cursorPath, out)
	defer cancel()

	deadline := time.Now().Add(5 * time.Second)
	for fetches.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fetches.Load() < 3 {
		t.Fatal("poller did not retry after invalid feed responses")
	}

	select {
	case batch := <-out:
		t.Fatalf("unexpected batch forwarded: %+v", batch)
	default:
	}
	got, err := loadCursor(cursorPath)
	if err != nil || !got.Equal(t0.Truncate(time.Second)) {
		t.Fatalf("cursor must not advance on failure: %v (%v)", got, err)
	}
}

func TestPollerRedeliversWhenCursorNotAdvanced(t *testing.T) {
	t0 := time.Now().Truncate(time.Second).Add(-time.Hour)
	body := rssBody(rssItem("release", "http://x/1", t0.Add(time.Minute)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cursorPath := filepath.Join(t.TempDir(), "last_seen.txt")
	if err := writeCursor(cursorPath, t0); err != nil {
		t.Fatal(err)
	}

	out := make(chan []Release, 3)
	cancel, _ := startPoller(t, srv.URL, cursorPath, out)
	first := <-out
	cancel()

	// Simulate a crash between channel send and cursor write: the cursor file
	// still holds t0, so a restarted poller re-delivers the same batch.
	if err := writeCursor(cursorPath, t0); err != nil {
		t.Fatal(err)
	}
	cancel2, _ := startPoller(t, srv.URL, cursorPath, out)
	defer cancel2()

	select {
	case again := <-out:
		if len(again) != len(first) || again[0].Title != first[0].Title {
			t.Fatalf("redelivered batch differs: %+v vs %+v", again, first)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch not re-delivered after cursor rollback")
	}
}
