package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dskvich/character-chat/pkg/api/response"
	"github.com/dskvich/character-chat/pkg/auth"
	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
	"github.com/dskvich/character-chat/pkg/render"
)

const (
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 500
)

type conversation struct {
	characters    CharacterService
	conversations ConversationRepository
	session       Session
	writer        response.JSONResponseWriter
}

func NewConversation(characters CharacterService, conversations ConversationRepository, session Session) *conversation {
	return &conversation{
		characters:    characters,
		conversations: conversations,
		session:       session,
	}
}

type startRequest struct {
	CharacterID string `json:"characterId"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type turnView struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Content   string      `json:"content"`
	HTML      string      `json:"html,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Start returns the caller's conversation with a character, creating it on
// first use.
func (h *conversation) Start(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := auth.UserIDFromContext(ctx)

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CharacterID == "" {
		h.writer.WriteErrorResponse(c.Writer, http.StatusBadRequest, "characterId is required")
		return
	}

	if _, err := h.characters.Get(ctx, req.CharacterID); err != nil {
		h.writer.WriteError(c.Writer, err)
		return
	}

	id, err := h.conversations.GetOrCreateConversation(ctx, req.CharacterID, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Starting conversation failed", logger.Err(err))
		h.writer.WriteError(c.Writer, err)
		return
	}

	h.writer.WriteSuccessResponse(c.Writer, http.StatusOK, gin.H{"conversationId": id})
}

func (h *conversation) Turns(c *gin.Context) {
	ctx := c.Request.Context()

	conv, err := h.owned(ctx, c.Param("id"))
	if err != nil {
		h.writer.WriteError(c.Writer, err)
		return
	}

	limit := defaultTranscriptLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxTranscriptLimit {
			h.writer.WriteErrorResponse(c.Writer, http.StatusBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxTranscriptLimit))
			return
		}
	}
	html := c.Query("format") == "html"

	turns, err := h.conversations.RecentTurns(ctx, conv.ID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "Loading transcript failed", logger.Err(err))
		h.writer.WriteError(c.Writer, err)
		return
	}

	views := make([]turnView, 0, len(turns))
	for _, t := range turns {
		v := turnView{ID: t.ID, Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt}
		if html && t.Role == domain.RoleAssistant {
			v.HTML = render.HTML(t.Content)
		}
		views = append(views, v)
	}

	h.writer.WriteSuccessResponse(c.Writer, http.StatusOK, gin.H{"turns": views})
}

// SendMessage streams the character's reply. Failures before the first
// delta are plain JSON errors; later ones arrive as an error event.
func (h *conversation) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writer.WriteErrorResponse(c.Writer, http.StatusBadRequest, "message is required")
		return
	}

	conv, err := h.owned(ctx, c.Param("id"))
	if err != nil {
		h.writer.WriteError(c.Writer, err)
		return
	}

	p, err := h.characters.Get(ctx, conv.CharacterID)
	if err != nil {
		h.writer.WriteError(c.Writer, err)
		return
	}

	events, cancel, err := h.session.Stream(ctx, conv.ID, p, req.Message)
	if err != nil {
		h.writer.WriteError(c.Writer, err)
		return
	}
	defer cancel()

	first, ok := <-events
	if !ok {
		h.writer.WriteErrorResponse(c.Writer, http.StatusInternalServerError, "stream ended without a result")
		return
	}
	if first.Type == domain.SessionEventError {
		for range events {
		}
		h.writer.WriteError(c.Writer, first.Err)
		return
	}

	sse := response.NewSSEWriter(c.Writer)
	sse.WriteHeader()

	broken := false
	write := func(e domain.SessionEvent) {
		if broken {
			return
		}
		if err := sse.WriteEvent(e); err != nil {
			slog.WarnContext(ctx, "Client stopped reading the stream", logger.Err(err))
			broken = true
			cancel()
		}
	}

	write(first)
	for e := range events {
		write(e)
	}
}

// owned loads a conversation of the calling user. Conversations of other
// users are reported as not found. Single-user stores record no owner.
func (h *conversation) owned(ctx context.Context, id string) (domain.Conversation, error) {
	userID, _ := auth.UserIDFromContext(ctx)

	conv, err := h.conversations.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.UserID != "" && conv.UserID != userID {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return conv, nil
}
