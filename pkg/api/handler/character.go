package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dskvich/character-chat/pkg/api/response"
	"github.com/dskvich/character-chat/pkg/auth"
	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
)

type character struct {
	characters CharacterService
	writer     response.JSONResponseWriter
}

func NewCharacter(characters CharacterService) *character {
	return &character{characters: characters}
}

func (h *character) Create(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := auth.UserIDFromContext(ctx)

	var input domain.CharacterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.writer.WriteError(c.Writer, fmt.Errorf("%w: invalid body: %w", domain.ErrValidation, err))
		return
	}

	p, err := h.characters.Create(ctx, userID, input)
	if err != nil {
		slog.WarnContext(ctx, "Creating character failed", logger.Err(err))
		h.writer.WriteError(c.Writer, err)
		return
	}

	h.writer.WriteSuccessResponse(c.Writer, http.StatusCreated, gin.H{"character": p})
}

func (h *character) Get(c *gin.Context) {
	p, err := h.characters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writer.WriteError(c.Writer, err)
		return
	}

	h.writer.WriteSuccessResponse(c.Writer, http.StatusOK, gin.H{"character": p})
}
