package transport

import "context"

// Message is one inbound private text message from a user.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget addresses an outbound message. For private delivery the chat id
// equals the user id.
type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the chat-platform boundary. The core only ever asks it to start
// forwarding inbound private messages and to send text to a chat.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
