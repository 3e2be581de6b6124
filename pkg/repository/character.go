package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dskvich/character-chat/pkg/domain"
)

type characterRepository struct {
	db *sql.DB
}

func NewCharacterRepository(db *sql.DB) *characterRepository {
	return &characterRepository{db: db}
}

func (c *characterRepository) Save(ctx context.Context, p domain.Persona) (domain.Persona, error) {
	const query = `
		INSERT INTO characters (id, user_id, name, description, category, tags, creativity, emotion, memory,
			ai_model, avatar, image_url, system_prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}

	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("encoding tags: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Name, p.Description, p.Category, string(tags), p.Creativity, p.Emotion, p.ContextAwareness,
		p.Model, p.Avatar, p.ImageURL, p.SystemPrompt, p.CreatedAt.UnixMicro())
	if err != nil {
		return domain.Persona{}, fmt.Errorf("%w: saving character: %w", domain.ErrStorage, err)
	}

	return p, nil
}

func (c *characterRepository) GetByID(ctx context.Context, id string) (domain.Persona, error) {
	const query = `
		SELECT id, user_id, name, description, category, tags, creativity, emotion, memory,
			ai_model, avatar, image_url, system_prompt, created_at
		FROM characters
		WHERE id = $1
	`

	var (
		p         domain.Persona
		tags      string
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Description, &p.Category, &tags, &p.Creativity, &p.Emotion, &p.ContextAwareness,
		&p.Model, &p.Avatar, &p.ImageURL, &p.SystemPrompt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Persona{}, fmt.Errorf("character %s: %w", id, domain.ErrNotFound)
		}
		return domain.Persona{}, fmt.Errorf("%w: fetching character: %w", domain.ErrStorage, err)
	}

	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return domain.Persona{}, fmt.Errorf("%w: decoding tags: %w", domain.ErrStorage, err)
	}
	p.CreatedAt = time.UnixMicro(createdAt).UTC()

	return p, nil
}
