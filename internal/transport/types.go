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
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// PhotoID/DocumentID carry the telegram file_id when the operator
	// attaches media (used by template creation).
	PhotoID    string
	DocumentID string
	Caption    string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// AttachmentKind enumerates media a payload can carry.
type AttachmentKind string

const (
	AttachmentNone     AttachmentKind = ""
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
)

// Payload is one rendered broadcast unit: text plus an optional attachment.
type Payload struct {
	Text   string
	Kind   AttachmentKind
	FileID string // opaque platform handle, only meaningful to the adapter
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPayload delivers a broadcast payload (text or media + caption).
	SendPayload(ctx context.Context, to ChatTarget, p Payload) error
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
