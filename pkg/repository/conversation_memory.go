package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dskvich/character-chat/pkg/domain"
)

type conversationKey struct {
	characterID string
	userID      string
}

type memoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	byKey         map[conversationKey]string
	turns         map[string][]domain.Turn
	now           func() time.Time
}

func NewMemoryConversationRepository() *memoryConversationRepository {
	return &memoryConversationRepository{
		conversations: make(map[string]domain.Conversation),
		byKey:         make(map[conversationKey]string),
		turns:         make(map[string][]domain.Turn),
		now:           time.Now,
	}
}

func (m *memoryConversationRepository) GetOrCreateConversation(_ context.Context, characterID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conversationKey{characterID: characterID, userID: userID}
	if id, ok := m.byKey[key]; ok {
		return id, nil
	}

	conv := domain.Conversation{
		ID:          newID(),
		CharacterID: characterID,
		UserID:      userID,
		CreatedAt:   m.now().UTC(),
	}
	m.conversations[conv.ID] = conv
	m.byKey[key] = conv.ID

	return conv.ID, nil
}

func (m *memoryConversationRepository) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return conv, nil
}

func (m *memoryConversationRepository) Append(_ context.Context, turn domain.Turn) (domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[turn.ConversationID]; !ok {
		return domain.Turn{}, fmt.Errorf("%w: conversation %s: %w", domain.ErrStorage, turn.ConversationID, domain.ErrNotFound)
	}

	turn = stamp(turn, m.now)
	m.turns[turn.ConversationID] = append(m.turns[turn.ConversationID], turn)

	return turn, nil
}

func (m *memoryConversationRepository) RecentTurns(_ context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return tail(m.turns[conversationID], limit), nil
}

// tail copies the last limit turns so callers never share the backing array.
func tail(turns []domain.Turn, limit int) []domain.Turn {
	if limit <= 0 {
		return []domain.Turn{}
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out
}
