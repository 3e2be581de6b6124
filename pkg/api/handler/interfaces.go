package handler

import (
	"context"

	"github.com/dskvich/character-chat/pkg/domain"
)

type CharacterService interface {
	Create(ctx context.Context, userID string, input domain.CharacterInput) (domain.Persona, error)
	Get(ctx context.Context, id string) (domain.Persona, error)
}

type ConversationRepository interface {
	GetOrCreateConversation(ctx context.Context, characterID, userID string) (string, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

type Session interface {
	Stream(ctx context.Context, conversationID string, p domain.Persona, text string) (<-chan domain.SessionEvent, context.CancelFunc, error)
}
