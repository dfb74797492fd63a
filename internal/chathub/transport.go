package chathub

import "context"

// Outgoing is one message to send. Locale selects the button labels.
type Outgoing struct {
	ChatID   string
	Locale   string
	Content  Content
	ReplyTo  int
	Keyboard Keyboard
}

// Edit replaces the text (or caption) and inline keyboard of a sent message.
type Edit struct {
	ChatID    string
	MessageID int
	Locale    string
	Content   Content
	Keyboard  Keyboard
}

// Transport delivers messages to chats. Implementations must honor ctx deadlines.
type Transport interface {
	// Send returns the transport id of the delivered message.
	Send(ctx context.Context, out Outgoing) (int, error)
	Edit(ctx context.Context, e Edit) error
	// ClearKeyboard removes the inline keyboard of a sent message.
	ClearKeyboard(ctx context.Context, chatID string, messageID int) error
}
