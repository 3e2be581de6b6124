package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dskvich/character-chat/pkg/logger"
	"github.com/dskvich/character-chat/pkg/telegram"
)

type Handler interface {
	HandleUpdate(ctx context.Context, update *tgbotapi.Update)
}

type Authenticator interface {
	IsAuthorized(userID string) bool
}

type TelegramClient interface {
	GetUpdates() tgbotapi.UpdatesChannel
	StopUpdates()
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
}

type telegramUpdateListener struct {
	client        TelegramClient
	authenticator Authenticator
	handler       Handler
	wg            sync.WaitGroup
}

func NewTelegramUpdateListener(
	client TelegramClient,
	authenticator Authenticator,
	handler Handler,
) (*telegramUpdateListener, error) {
	return &telegramUpdateListener{
		client:        client,
		authenticator: authenticator,
		handler:       handler,
	}, nil
}

func (t *telegramUpdateListener) Name() string { return "telegram_listener_worker" }

func (t *telegramUpdateListener) Start(ctx context.Context) error {
	slog.Info("Starting worker", "name", t.Name())
	defer slog.Info("Worker stopped", "name", t.Name())

	updates := t.client.GetUpdates()

	for {
		select {
		case <-ctx.Done():
			t.client.StopUpdates()
			t.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				t.wg.Wait()
				return nil
			}
			t.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer t.wg.Done()
				t.processUpdate(ctx, &update)
			}(update)
		}
	}
}

func (t *telegramUpdateListener) processUpdate(ctx context.Context, update *tgbotapi.Update) {
	ctx = logger.ContextWithRequestID(ctx, strconv.Itoa(update.UpdateID))

	if update.Message == nil || update.Message.From == nil {
		slog.DebugContext(ctx, "Skipping update without a message")
		return
	}
	chatID, userID := update.Message.Chat.ID, update.Message.From.ID

	slog.InfoContext(ctx, "Processing update", "chatID", chatID, "userID", userID)

	if !t.authenticator.IsAuthorized(telegram.UserID(userID)) {
		slog.WarnContext(ctx, "Unauthorized access attempt")
		if _, err := t.client.SendText(ctx, chatID, 0, fmt.Sprintf("User ID %d is not authorized", userID)); err != nil {
			slog.ErrorContext(ctx, "Sending unauthorized notice failed", logger.Err(err))
		}
		return
	}

	t.handler.HandleUpdate(ctx, update)
}
