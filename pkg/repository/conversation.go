package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dskvich/character-chat/pkg/domain"
)

type conversationRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewConversationRepository stores conversations in the messages and
// conversations tables. Queries are portable between Postgres and SQLite.
func NewConversationRepository(db *sql.DB) *conversationRepository {
	return &conversationRepository{db: db, now: time.Now}
}

func (r *conversationRepository) GetOrCreateConversation(ctx context.Context, characterID, userID string) (string, error) {
	const insert = `
		INSERT INTO conversations (id, character_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (character_id, user_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, insert, newID(), characterID, userID, r.now().UnixMicro()); err != nil {
		return "", fmt.Errorf("%w: creating conversation: %w", domain.ErrStorage, err)
	}

	const query = `
		SELECT id
		FROM conversations
		WHERE character_id = $1 AND user_id = $2
	`

	var id string
	if err := r.db.QueryRowContext(ctx, query, characterID, userID).Scan(&id); err != nil {
		return "", fmt.Errorf("%w: fetching conversation: %w", domain.ErrStorage, err)
	}

	return id, nil
}

func (r *conversationRepository) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	const query = `
		SELECT id, character_id, user_id, created_at
		FROM conversations
		WHERE id = $1
	`

	var (
		conv      domain.Conversation
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.CharacterID, &conv.UserID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("%w: fetching conversation: %w", domain.ErrStorage, err)
	}
	conv.CreatedAt = time.UnixMicro(createdAt).UTC()

	return conv, nil
}

// Append inserts the turn only if its conversation exists, in one statement.
func (r *conversationRepository) Append(ctx context.Context, turn domain.Turn) (domain.Turn, error) {
	const query = `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS TEXT), CAST($5 AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $2)
	`

	turn = stamp(turn, r.now)

	res, err := r.db.ExecContext(ctx, query,
		turn.ID, turn.ConversationID, string(turn.Role), turn.Content, turn.CreatedAt.UnixMicro())
	if err != nil {
		return domain.Turn{}, fmt.Errorf("%w: appending turn: %w", domain.ErrStorage, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.Turn{}, fmt.Errorf("%w: appending turn: %w", domain.ErrStorage, err)
	}
	if n == 0 {
		return domain.Turn{}, fmt.Errorf("%w: conversation %s: %w", domain.ErrStorage, turn.ConversationID, domain.ErrNotFound)
	}

	return turn, nil
}

func (r *conversationRepository) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return []domain.Turn{}, nil
	}

	const query = `
		SELECT id, conversation_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching recent turns: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	turns := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var (
			turn      domain.Turn
			role      string
			createdAt int64
		)
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scanning turn: %w", domain.ErrStorage, err)
		}
		turn.Role = domain.Role(role)
		turn.CreatedAt = time.UnixMicro(createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating turns: %w", domain.ErrStorage, err)
	}

	return turns, nil
}

// newID returns a time-ordered UUIDv7, monotonic within the process.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// stamp fills in the ID and creation time of a turn that has none.
func stamp(turn domain.Turn, now func() time.Time) domain.Turn {
	if turn.ID == "" {
		turn.ID = newID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now().UTC().Truncate(time.Microsecond)
	}
	return turn
}
