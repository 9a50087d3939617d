package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"releasebot/internal/storage"
	"releasebot/internal/transport"
	"releasebot/pkg/logx"
)

const helpText = "Usage:\n" +
	"add pat\t\tchecks new releases for pat and notifies you about them (separate multiple tokens with ';')\n" +
	"list\t\tlists all your patterns with their corresponding index\n" +
	"remove index|all\t\tremoves the pattern at that index or all of them\n" +
	"help\t\tshows this message"

// Router consumes inbound private messages and executes the command surface
// against the subscription store. Every command error becomes a reply to the
// invoking user; nothing a user types can take the process down.
type Router struct {
	store   storage.Store
	adapter transport.Adapter
	in      <-chan transport.Message
	log     logx.Logger
}

func New(store storage.Store, adapter transport.Adapter, in <-chan transport.Message, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{store: store, adapter: adapter, in: in, log: log}
}

func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.in:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			reply := r.handle(msg)
			if reply == "" {
				continue
			}
			err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, reply, &transport.SendOptions{DisablePreview: true})
			if err != nil {
				r.log.Warn("command reply failed",
					logx.Int64("user", msg.FromID), logx.Err(err))
			}
		}
	}
}

// handle executes one command and returns the reply text.
func (r *Router) handle(msg transport.Message) string {
	op, arg := splitCommand(msg.Text)

	var reply string
	var err error
	switch {
	case op == "help":
		reply = helpText
	case op == "add":
		err = r.store.Add(msg.FromID, storage.ParsePattern(arg))
		reply = "pattern added"
	case op == "list":
		reply = r.list(msg.FromID)
	case op == "remove" && arg == "all":
		err = r.store.RemoveAll(msg.FromID)
		reply = "successfully removed all patterns"
	case op == "remove":
		err = r.remove(msg.FromID, arg)
		reply = "successfully removed pattern"
	default:
		err = fmt.Errorf("unknown command %q. Check available commands with `help`", op)
	}

	if err != nil {
		r.log.Debug("command failed",
			logx.Int64("user", msg.FromID), logx.String("op", op), logx.Err(err))
		return "an error occurred: " + err.Error()
	}
	r.log.Debug("command handled", logx.Int64("user", msg.FromID), logx.String("op", op))
	return reply
}

func (r *Router) list(user int64) string {
	pats := r.store.List(user)
	if len(pats) == 0 {
		return "no patterns yet. Add one with `add`."
	}
	var b strings.Builder
	for i, p := range pats {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\t\t%s", i, p.Display())
	}
	return b.String()
}

func (r *Router) remove(user int64, arg string) error {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return fmt.Errorf("invalid index %q", arg)
	}
	return r.store.RemoveByIndex(user, i)
}

// splitCommand splits the message at the first space: case-sensitive keyword,
// then the raw argument (which may itself contain spaces).
func splitCommand(text string) (op, arg string) {
	op, arg, _ = strings.Cut(text, " ")
	return op, arg
}
