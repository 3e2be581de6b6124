package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/persona"
)

const (
	minNameLength        = 3
	maxNameLength        = 50
	minDescriptionLength = 20
	maxDescriptionLength = 500
	maxTags              = 5
)

type CharacterRepository interface {
	Save(ctx context.Context, p domain.Persona) (domain.Persona, error)
	GetByID(ctx context.Context, id string) (domain.Persona, error)
}

type characterService struct {
	repo CharacterRepository
}

func NewCharacterService(repo CharacterRepository) *characterService {
	return &characterService{repo: repo}
}

// Create validates input, compiles the system prompt and stores the character
// on behalf of userID.
func (c *characterService) Create(ctx context.Context, userID string, input domain.CharacterInput) (domain.Persona, error) {
	p, err := buildPersona(userID, input)
	if err != nil {
		return domain.Persona{}, err
	}

	p.SystemPrompt = persona.Compile(p)

	saved, err := c.repo.Save(ctx, p)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("creating character: %w", err)
	}

	slog.InfoContext(ctx, "Character created", "character_id", saved.ID, "user_id", userID, "model", saved.Model)

	return saved, nil
}

func (c *characterService) Get(ctx context.Context, id string) (domain.Persona, error) {
	return c.repo.GetByID(ctx, id)
}

func buildPersona(userID string, input domain.CharacterInput) (domain.Persona, error) {
	var errs *multierror.Error

	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)
	avatar := strings.TrimSpace(input.Avatar)
	category := strings.TrimSpace(input.Category)

	if name == "" || description == "" || avatar == "" || category == "" {
		return domain.Persona{}, fmt.Errorf("%w: missing required fields", domain.ErrValidation)
	}

	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		errs = multierror.Append(errs, fmt.Errorf("name must be %d-%d characters", minNameLength, maxNameLength))
	}
	if n := utf8.RuneCountInString(description); n < minDescriptionLength || n > maxDescriptionLength {
		errs = multierror.Append(errs, fmt.Errorf("description must be %d-%d characters", minDescriptionLength, maxDescriptionLength))
	}

	tags := lo.Uniq(lo.FilterMap(input.Tags, func(tag string, _ int) (string, bool) {
		tag = strings.TrimSpace(tag)
		return tag, tag != ""
	}))
	if len(tags) > maxTags {
		errs = multierror.Append(errs, fmt.Errorf("at most %d tags are allowed", maxTags))
	}

	creativity, err := slider("creativity", input.Creativity)
	errs = multierror.Append(errs, err)
	emotion, err := slider("emotion", input.Emotion)
	errs = multierror.Append(errs, err)
	memory, err := slider("memory", input.Memory)
	errs = multierror.Append(errs, err)

	if err := errs.ErrorOrNil(); err != nil {
		errs.ErrorFormat = joinErrors
		return domain.Persona{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	return domain.Persona{
		UserID:           userID,
		Name:             name,
		Description:      description,
		Category:         category,
		Tags:             tags,
		Creativity:       creativity,
		Emotion:          emotion,
		ContextAwareness: memory,
		Model:            lo.Ternary(strings.TrimSpace(input.AIModel) == "", domain.DefaultCharacterModel, strings.TrimSpace(input.AIModel)),
		Avatar:           avatar,
		ImageURL:         strings.TrimSpace(input.ImageURL),
	}, nil
}

func slider(name string, v *int) (int, error) {
	if v == nil {
		return domain.DefaultSlider, nil
	}
	if *v < domain.MinSlider || *v > domain.MaxSlider {
		return 0, fmt.Errorf("%s must be between %d and %d", name, domain.MinSlider, domain.MaxSlider)
	}
	return *v, nil
}

func joinErrors(errs []error) string {
	return strings.Join(lo.Map(errs, func(err error, _ int) string { return err.Error() }), "; ")
}
