package transport

import (
	"context"
	"errors"
)

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
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	Private       bool // direct chat with the bot
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

// Member statuses as reported by MemberStatus. The set mirrors what the
// platform reports; callers should treat unknown values as non-member.
const (
	MemberCreator       = "creator"
	MemberAdministrator = "administrator"
	MemberMember        = "member"
	MemberRestricted    = "restricted"
	MemberLeft          = "left"
	MemberKicked        = "kicked"
)

// Typed delivery errors. Adapters map platform errors onto these so the
// core can classify failures without knowing the platform.
var (
	// ErrBlocked means the recipient has blocked the bot (or never
	// started it). Expected during broadcasts; not worth a retry.
	ErrBlocked = errors.New("recipient blocked the bot")

	// ErrMessageGone means the referenced message no longer exists.
	ErrMessageGone = errors.New("message already gone")
)

// Gateway is the messaging boundary the core talks through.
// Implementations deliver inbound updates on the channel passed to Start
// and must map platform failures onto the typed errors above.
type Gateway interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	MemberStatus(ctx context.Context, chatID, userID int64) (string, error)
}
