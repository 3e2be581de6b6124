package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
)

type CharacterService interface {
	Get(ctx context.Context, id string) (domain.Persona, error)
}

type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, characterID, userID string) (string, error)
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	Append(ctx context.Context, turn domain.Turn) (domain.Turn, error)
}

type Session interface {
	Send(ctx context.Context, conversationID string, p domain.Persona, text string, cb domain.Callbacks) error
}

// Locker is the per-conversation lock shared with the session.
type Locker interface {
	TryLock(ctx context.Context, key string) (func(), error)
}

type Typer interface {
	StartTyping(ctx context.Context, chatID int64)
}

type Config struct {
	CharacterID  string
	EditInterval time.Duration
}

type handler struct {
	characters    CharacterService
	conversations ConversationStore
	session       Session
	locker        Locker
	messenger     Messenger
	typer         Typer
	cfg           Config
}

func NewHandler(
	characters CharacterService,
	conversations ConversationStore,
	session Session,
	locker Locker,
	messenger Messenger,
	typer Typer,
	cfg Config,
) *handler {
	return &handler{
		characters:    characters,
		conversations: conversations,
		session:       session,
		locker:        locker,
		messenger:     messenger,
		typer:         typer,
		cfg:           cfg,
	}
}

func (h *handler) HandleUpdate(ctx context.Context, update *tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	switch {
	case isCommand(msg.Text):
		h.handleCommand(ctx, msg)
	default:
		h.handleText(ctx, msg)
	}
}

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

func (h *handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := strings.ToLower(strings.TrimSpace(msg.Text))
	cmd = strings.Fields(cmd)[0]
	cmd = strings.Split(cmd, "@")[0]

	switch cmd {
	case "/start":
		h.sendGreeting(ctx, msg)
	default:
		slog.WarnContext(ctx, "Unhandled command", "cmd", cmd)
	}
}

// sendGreeting posts the character's opening line. The line becomes the first
// turn of a new conversation so the model sees it as its own.
func (h *handler) sendGreeting(ctx context.Context, msg *tgbotapi.Message) {
	p, conversationID, err := h.load(ctx, msg.From.ID)
	if err != nil {
		h.reportError(ctx, msg, err)
		return
	}

	greeting := Greeting(p)
	h.storeGreeting(ctx, conversationID, greeting)

	if _, err := h.messenger.SendText(ctx, msg.Chat.ID, 0, greeting); err != nil {
		slog.ErrorContext(ctx, "Sending greeting failed", logger.Err(err))
	}
}

// storeGreeting appends greeting when the conversation is empty. It holds the
// conversation lock so a send in flight cannot interleave; a busy
// conversation already has turns.
func (h *handler) storeGreeting(ctx context.Context, conversationID, greeting string) {
	unlock, err := h.locker.TryLock(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, domain.ErrConversationBusy) {
			slog.WarnContext(ctx, "Locking conversation for greeting failed", logger.Err(err))
		}
		return
	}
	defer unlock()

	turns, err := h.conversations.RecentTurns(ctx, conversationID, 1)
	if err != nil || len(turns) > 0 {
		return
	}
	if _, err := h.conversations.Append(ctx, domain.Turn{
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        greeting,
	}); err != nil {
		slog.WarnContext(ctx, "Saving greeting failed", logger.Err(err))
	}
}

func (h *handler) handleText(ctx context.Context, msg *tgbotapi.Message) {
	p, conversationID, err := h.load(ctx, msg.From.ID)
	if err != nil {
		h.reportError(ctx, msg, err)
		return
	}

	h.typer.StartTyping(ctx, msg.Chat.ID)

	r := newReply(h.messenger, msg.Chat.ID, msg.MessageID, h.cfg.EditInterval)
	err = h.session.Send(ctx, conversationID, p, msg.Text, domain.Callbacks{
		OnDelta:     func(text string) { r.Delta(ctx, text) },
		OnComplete:  func(domain.Turn) { r.Complete(ctx) },
		OnNoContent: func() { r.NoContent(ctx) },
		OnError:     func(err error) { r.Fail(ctx, err) },
	})
	if err != nil {
		slog.WarnContext(ctx, "Reply failed", "conversation_id", conversationID, logger.Err(err))
	}
}

func (h *handler) load(ctx context.Context, telegramUserID int64) (domain.Persona, string, error) {
	p, err := h.characters.Get(ctx, h.cfg.CharacterID)
	if err != nil {
		return domain.Persona{}, "", fmt.Errorf("loading character: %w", err)
	}

	conversationID, err := h.conversations.GetOrCreateConversation(ctx, p.ID, UserID(telegramUserID))
	if err != nil {
		return domain.Persona{}, "", fmt.Errorf("loading conversation: %w", err)
	}

	return p, conversationID, nil
}

func (h *handler) reportError(ctx context.Context, msg *tgbotapi.Message, err error) {
	slog.ErrorContext(ctx, "Handling message failed", logger.Err(err))
	if _, err := h.messenger.SendText(ctx, msg.Chat.ID, msg.MessageID, failureText(err)); err != nil {
		slog.ErrorContext(ctx, "Sending failure notice failed", logger.Err(err))
	}
}

// UserID is the conversation owner id of a Telegram user.
func UserID(telegramUserID int64) string {
	return fmt.Sprintf("tg:%d", telegramUserID)
}

func Greeting(p domain.Persona) string {
	return fmt.Sprintf("Hello! I'm %s. How can I help you today?", p.Name)
}
