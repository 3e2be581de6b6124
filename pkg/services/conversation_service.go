package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
	"github.com/dskvich/character-chat/pkg/persona"
)

type ConversationStore interface {
	Append(ctx context.Context, turn domain.Turn) (domain.Turn, error)
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

type CompletionStreamer interface {
	Open(ctx context.Context, req domain.CompletionRequest) <-chan domain.StreamEvent
}

type Locker interface {
	TryLock(ctx context.Context, key string) (func(), error)
}

type ConversationConfig struct {
	HistoryLimit int
	// IdleTimeout cancels a reply when the provider sends nothing for this
	// long. Zero disables the watchdog.
	IdleTimeout  time.Duration
	DefaultModel string
}

type conversationService struct {
	store    ConversationStore
	streamer CompletionStreamer
	locker   Locker
	cfg      ConversationConfig
}

func NewConversationService(
	store ConversationStore,
	streamer CompletionStreamer,
	locker Locker,
	cfg ConversationConfig,
) *conversationService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = domain.DefaultHistoryLimit
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = domain.DefaultModel
	}

	return &conversationService{
		store:    store,
		streamer: streamer,
		locker:   locker,
		cfg:      cfg,
	}
}

// Send runs one user message to completion and reports the outcome through
// cb. It returns the error passed to OnError, or nil.
func (s *conversationService) Send(ctx context.Context, conversationID string, p domain.Persona, text string, cb domain.Callbacks) error {
	events, cancel, err := s.Stream(ctx, conversationID, p, text)
	if err != nil {
		cb.Dispatch(domain.SessionEvent{Type: domain.SessionEventError, Err: err})
		return err
	}
	defer cancel()

	var last domain.SessionEvent
	for e := range events {
		cb.Dispatch(e)
		last = e
	}

	return last.Err
}

// Stream starts a send and returns its events: deltas in arrival order, then
// exactly one complete, no_content or error event, after which the channel is
// closed. Empty text and a busy conversation are rejected before anything
// starts. The caller must drain the channel; cancel aborts the reply.
func (s *conversationService) Stream(ctx context.Context, conversationID string, p domain.Persona, text string) (<-chan domain.SessionEvent, context.CancelFunc, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: message is empty", domain.ErrValidation)
	}

	unlock, err := s.locker.TryLock(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationBusy) {
			slog.InfoContext(ctx, "Conversation is busy", "conversation_id", conversationID)
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("acquiring conversation lock: %w", err)
	}

	ctx, cancelCause := context.WithCancelCause(ctx)
	events := make(chan domain.SessionEvent)

	go func() {
		defer close(events)
		defer unlock()
		defer cancelCause(nil)

		terminal := s.run(ctx, cancelCause, conversationID, p, text, events)
		events <- terminal
	}()

	return events, func() { cancelCause(context.Canceled) }, nil
}

func (s *conversationService) run(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	conversationID string,
	p domain.Persona,
	text string,
	events chan<- domain.SessionEvent,
) domain.SessionEvent {
	abort := func(err error) domain.SessionEvent {
		slog.ErrorContext(ctx, "Send failed", "conversation_id", conversationID,
			"reason", domain.ReasonOf(err), logger.Err(err))
		return domain.SessionEvent{Type: domain.SessionEventError, Err: err}
	}
	// fail reports err as a cancellation when the send was cancelled first.
	fail := func(err error) domain.SessionEvent {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrCancelled) {
			err = fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx))
		}
		return abort(err)
	}

	history, err := s.store.RecentTurns(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		return fail(storageError("loading history", err))
	}

	if _, err := s.store.Append(ctx, domain.Turn{
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        text,
	}); err != nil {
		return fail(storageError("saving user turn", err))
	}

	model := p.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}

	req := domain.CompletionRequest{
		Model:        model,
		SystemPrompt: persona.Compile(p),
		History:      history,
		UserText:     text,
	}

	if s.cfg.IdleTimeout > 0 {
		watchdog := time.AfterFunc(s.cfg.IdleTimeout, func() { cancel(domain.ErrIdleTimeout) })
		defer watchdog.Stop()
		req.OnReceive = func(int) { watchdog.Reset(s.cfg.IdleTimeout) }
	}

	slog.DebugContext(ctx, "Requesting completion", "conversation_id", conversationID,
		"model", model, "history", len(history))

	var (
		reply    strings.Builder
		terminal domain.StreamEvent
		dropped  bool
	)
	// The stream is drained to its end even after a cancel.
	for ev := range s.streamer.Open(ctx, req) {
		if ev.Type != domain.StreamEventDelta {
			terminal = ev
			continue
		}
		reply.WriteString(ev.Text)
		if dropped || ctx.Err() != nil {
			dropped = true
			continue
		}
		select {
		case events <- domain.SessionEvent{Type: domain.SessionEventDelta, Text: ev.Text}:
		case <-ctx.Done():
			dropped = true
		}
	}

	// A reply the caller did not fully receive is never committed.
	if dropped {
		return fail(fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx)))
	}

	switch terminal.Type {
	case domain.StreamEventDone:
	case domain.StreamEventFailed:
		return fail(terminal.Err)
	default:
		return fail(fmt.Errorf("%w: stream closed without a terminal event", domain.ErrProvider))
	}

	if reply.Len() == 0 {
		slog.InfoContext(ctx, "Completion was empty", "conversation_id", conversationID)
		return domain.SessionEvent{Type: domain.SessionEventNoContent}
	}

	// Every delta was delivered; a late cancel must not lose the reply.
	turn, err := s.store.Append(context.WithoutCancel(ctx), domain.Turn{
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        reply.String(),
	})
	if err != nil {
		return abort(storageError("saving assistant turn", err))
	}

	slog.InfoContext(ctx, "Send completed", "conversation_id", conversationID, "turn_id", turn.ID)

	return domain.SessionEvent{Type: domain.SessionEventComplete, Turn: turn}
}

func storageError(action string, err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, action, err)
}
