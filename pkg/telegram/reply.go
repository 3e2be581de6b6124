package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
)

// maxMessageLength is the Telegram limit for message text, in runes.
const maxMessageLength = 4096

type Messenger interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

// reply grows one Telegram message as deltas arrive. The message is posted on
// the first delta and edited at most once per interval after that.
type reply struct {
	messenger Messenger
	chatID    int64
	replyTo   int
	interval  time.Duration
	now       func() time.Time

	text      strings.Builder
	messageID int
	shown     string
	lastEdit  time.Time
}

func newReply(messenger Messenger, chatID int64, replyTo int, interval time.Duration) *reply {
	return &reply{
		messenger: messenger,
		chatID:    chatID,
		replyTo:   replyTo,
		interval:  interval,
		now:       time.Now,
	}
}

func (r *reply) Delta(ctx context.Context, text string) {
	r.text.WriteString(text)

	if r.messageID != 0 && r.now().Sub(r.lastEdit) < r.interval {
		return
	}
	r.flush(ctx)
}

// Complete shows the full reply.
func (r *reply) Complete(ctx context.Context) {
	r.flush(ctx)
}

// Fail reports err below whatever part of the reply was already shown.
func (r *reply) Fail(ctx context.Context, err error) {
	notice := failureText(err)
	if r.text.Len() > 0 {
		r.text.WriteString("\n\n" + notice)
		r.flush(ctx)
		return
	}
	r.post(ctx, notice)
}

func (r *reply) NoContent(ctx context.Context) {
	r.post(ctx, noContentText)
}

func (r *reply) flush(ctx context.Context) {
	text := truncate(r.text.String())
	if text == "" || text == r.shown {
		return
	}

	if r.messageID == 0 {
		r.post(ctx, text)
		return
	}

	if err := r.messenger.EditText(ctx, r.chatID, r.messageID, text); err != nil {
		slog.WarnContext(ctx, "Updating reply failed", "chat_id", r.chatID, logger.Err(err))
		return
	}
	r.shown = text
	r.lastEdit = r.now()
}

func (r *reply) post(ctx context.Context, text string) {
	id, err := r.messenger.SendText(ctx, r.chatID, r.replyTo, text)
	if err != nil {
		slog.ErrorContext(ctx, "Posting reply failed", "chat_id", r.chatID, logger.Err(err))
		return
	}
	if r.messageID == 0 {
		r.messageID = id
		r.shown = text
		r.lastEdit = r.now()
	}
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLength-1]) + "…"
}

const noContentText = "🤐 No response received. Please try again."

func failureText(err error) string {
	switch domain.ReasonOf(err) {
	case domain.ReasonRateLimited:
		return "⏳ Rate limit exceeded. Please try again later."
	case domain.ReasonQuotaExceeded:
		return "💳 AI credits depleted. Please add credits to continue."
	case domain.ReasonCancelled:
		return "⌛ The reply was interrupted. Please try again."
	}

	switch {
	case errors.Is(err, domain.ErrConversationBusy):
		return "✋ Still answering your previous message."
	case errors.Is(err, domain.ErrValidation):
		return "✏️ Please send a text message."
	case errors.Is(err, domain.ErrNotFound):
		return "🔍 This character is not available."
	case errors.Is(err, domain.ErrStorage):
		return "💾 Could not save the conversation. Please try again."
	default:
		return "⚠️ AI service error. Please try again."
	}
}
