// Package transport defines the chat-platform boundary: inbound updates and
// the outbound operations the bot needs.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID        int
	ChatID    int64
	FromID    int64
	Username  string
	FirstName string
	Text      string
	Voice     *Voice
	IsGroup   bool
}

// Voice references a platform-hosted audio file.
type Voice struct {
	FileID   string
	Duration int // seconds
	MIME     string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type InlineButton struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Keyboard is a persistent reply keyboard, one slice per row.
	Keyboard [][]string
	Inline   [][]InlineButton
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendText is the plain form used by log sinks and simple replies.
	SendText(ctx context.Context, chatID int64, text string) error
	Send(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	// DownloadFile stores a platform file at dst.
	DownloadFile(ctx context.Context, fileID, dst string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
