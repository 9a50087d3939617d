package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"releasebot/internal/storage"
	"releasebot/internal/transport"
	"releasebot/pkg/logx"
)

type replyRecorder struct {
	mu      sync.Mutex
	replies []string
}

func (r *replyRecorder) Start(ctx context.Context, out chan<- transport.Message) error { return nil }
func (r *replyRecorder) Stop(ctx context.Context) error                                { return nil }

func (r *replyRecorder) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	r.mu.Lock()
	r.replies = append(r.replies, text)
	r.mu.Unlock()
	return nil
}

func newTestRouter(t *testing.T) (*Router, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(st, &replyRecorder{}, nil, logx.Nop()), st
}

func msg(uid int64, text string) transport.Message {
	return transport.Message{ChatID: uid, FromID: uid, Text: text}
}

func TestHelp(t *testing.T) {
	r, _ := newTestRouter(t)
	reply := r.handle(msg(1, "help"))
	if !strings.Contains(reply, "remove index|all") {
		t.Fatalf("unexpected help text: %q", reply)
	}
}

func TestAddAndList(t *testing.T) {
	r, st := newTestRouter(t)

	if reply := r.handle(msg(1, "add One Piece;1080p")); reply != "pattern added" {
		t.Fatalf("unexpected add reply: %q", reply)
	}

	pats := st.List(1)
	if len(pats) != 1 || pats[0].MatchText() != "One Piece1080p" {
		t.Fatalf("pattern not stored as expected: %+v", pats)
	}

	reply := r.handle(msg(1, "list"))
	if !strings.Contains(reply, "0\t\tOne Piece\t1080p") {
		t.Fatalf("unexpected list reply: %q", reply)
	}
}

func TestListEmpty(t *testing.T) {
	r, _ := newTestRouter(t)
	reply := r.handle(msg(1, "list"))
	if !strings.Contains(reply, "no patterns yet") {
		t.Fatalf("unexpected empty list reply: %q", reply)
	}
}

func TestRemoveByIndex(t *testing.T) {
	r, st := newTestRouter(t)
	r.handle(msg(1, "add foo"))
	r.handle(msg(1, "add bar"))

	if reply := r.handle(msg(1, "remove 0")); reply != "successfully removed pattern" {
		t.Fatalf("unexpected remove reply: %q", reply)
	}
	pats := st.List(1)
	if len(pats) != 1 || pats[0].MatchText() != "bar" {
		t.Fatalf("wrong entry removed: %+v", pats)
	}
}

func TestRemoveAll(t *testing.T) {
	r, st := newTestRouter(t)
	r.handle(msg(1, "add foo"))
	r.handle(msg(1, "add bar"))

	if reply := r.handle(msg(1, "remove all")); reply != "successfully removed all patterns" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(st.List(1)) != 0 {
		t.Fatal("entries survived remove all")
	}
}

func TestErrorsBecomeReplies(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		text string
		want string
	}{
		{"remove 5", "an error occurred: index out of range"},
		{"remove x", "an error occurred: invalid index"},
		{"frobnicate", "an error occurred: unknown command"},
		{"Help", "an error occurred: unknown command"}, // keywords are case-sensitive
	}
	for _, tc := range cases {
		reply := r.handle(msg(1, tc.text))
		if !strings.HasPrefix(reply, tc.want) {
			t.Fatalf("command %q: got %q, want prefix %q", tc.text, reply, tc.want)
		}
	}
}

func TestCommandsAreUserScoped(t *testing.T) {
	r, st := newTestRouter(t)
	r.handle(msg(1, "add mine"))
	r.handle(msg(2, "add theirs"))

	r.handle(msg(1, "remove all"))
	if len(st.List(2)) != 1 {
		t.Fatal("user 2's entries were affected by user 1's remove")
	}
}

func TestRunRepliesThroughAdapter(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := &replyRecorder{}
	in := make(chan transport.Message, 1)
	r := New(st, rec, in, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	in <- msg(7, "add Frieren")

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.replies)
		rec.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reply sent")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.replies) != 1 || rec.replies[0] != "pattern added" {
		t.Fatalf("unexpected replies: %v", rec.replies)
	}
}
