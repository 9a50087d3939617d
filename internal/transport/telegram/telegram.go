package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"releasebot/internal/transport"
	"releasebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter drives a Telegram bot via long polling and maps it onto the
// transport.Adapter boundary. Only private text messages from humans are
// forwarded; group chatter and bot messages are ignored.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- transport.Message)

	runMu   sync.Mutex
	running bool

	// dropped counts updates discarded because the consumer was slower than
	// the Telegram poll loop.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		if m.Chat.Type != tele.ChatPrivate || m.Sender.IsBot {
			return nil
		}
		a.forward(transport.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
		})
		return nil
	})
}

func (a *Adapter) forward(msg transport.Message) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Message)
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		n := atomic.AddUint64(&a.dropped, 1)
		a.log.Warn("inbound message dropped (channel full)",
			logx.Int64("from", msg.FromID), logx.Any("total_dropped", n))
	}
}

// Start begins long polling and blocks until ctx is canceled or the poll loop
// dies. An unexpected poll-loop exit is returned as an error so the supervisor
// treats it as fatal.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return errors.New("telegram adapter already started")
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	stopped := make(chan struct{})
	go func() {
		a.bot.Start()
		close(stopped)
	}()

	a.log.Info("telegram adapter started", logx.Duration("poll_timeout", a.cfg.PollTimeout))

	select {
	case <-ctx.Done():
		a.bot.Stop()
		<-stopped
		return ctx.Err()
	case <-stopped:
		return errors.New("telegram poll loop exited")
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.bot.Stop()
	return nil
}

const telegramTextLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		if _, err := a.bot.Send(chat, chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
