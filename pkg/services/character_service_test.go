package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/persona"
)

type memoryCharacters struct {
	saved map[string]domain.Persona
	err   error
}

func (m *memoryCharacters) Save(_ context.Context, p domain.Persona) (domain.Persona, error) {
	if m.err != nil {
		return domain.Persona{}, m.err
	}
	if m.saved == nil {
		m.saved = make(map[string]domain.Persona)
	}
	p.ID = "char-" + p.Name
	m.saved[p.ID] = p
	return p, nil
}

func (m *memoryCharacters) GetByID(_ context.Context, id string) (domain.Persona, error) {
	p, ok := m.saved[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	return p, nil
}

func intPtr(v int) *int { return &v }

func validInput() domain.CharacterInput {
	return domain.CharacterInput{
		Name:        "Sage",
		Description: "A wise old wizard who answers in riddles.",
		Avatar:      "🧙",
		Category:    "Fantasy",
		Tags:        []string{"wise", "cryptic"},
		Creativity:  intPtr(85),
		Emotion:     intPtr(20),
	}
}

func TestCreateCharacter(t *testing.T) {
	repo := &memoryCharacters{}
	svc := NewCharacterService(repo)

	p, err := svc.Create(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if p.UserID != "user-1" || p.Creativity != 85 || p.Emotion != 20 || p.ContextAwareness != domain.DefaultSlider {
		t.Fatalf("persona = %+v", p)
	}
	if p.Model != domain.DefaultCharacterModel {
		t.Fatalf("model = %q", p.Model)
	}
	if p.SystemPrompt != persona.Compile(p) {
		t.Fatalf("system prompt = %q", p.SystemPrompt)
	}
	if !strings.HasPrefix(p.SystemPrompt, "You are Sage, a fantasy character.") {
		t.Fatalf("system prompt = %q", p.SystemPrompt)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil || got.Name != "Sage" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}

func TestCreateCharacterKeepsRequestedModel(t *testing.T) {
	input := validInput()
	input.AIModel = "gpt-4o"

	p, err := NewCharacterService(&memoryCharacters{}).Create(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Model != "gpt-4o" {
		t.Fatalf("model = %q", p.Model)
	}
}

func TestCreateCharacterValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(in *domain.CharacterInput)
	}{
		{"missing name", func(in *domain.CharacterInput) { in.Name = "  " }},
		{"missing avatar", func(in *domain.CharacterInput) { in.Avatar = "" }},
		{"missing category", func(in *domain.CharacterInput) { in.Category = "" }},
		{"short name", func(in *domain.CharacterInput) { in.Name = "Al" }},
		{"long name", func(in *domain.CharacterInput) { in.Name = strings.Repeat("a", 51) }},
		{"short description", func(in *domain.CharacterInput) { in.Description = "too short" }},
		{"long description", func(in *domain.CharacterInput) { in.Description = strings.Repeat("d", 501) }},
		{"too many tags", func(in *domain.CharacterInput) { in.Tags = []string{"a", "b", "c", "d", "e", "f"} }},
		{"creativity above range", func(in *domain.CharacterInput) { in.Creativity = intPtr(101) }},
		{"memory below range", func(in *domain.CharacterInput) { in.Memory = intPtr(-1) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			repo := &memoryCharacters{}
			input := validInput()
			test.modify(&input)

			_, err := NewCharacterService(repo).Create(context.Background(), "user-1", input)

			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v", err)
			}
			if len(repo.saved) != 0 {
				t.Fatal("invalid character was saved")
			}
		})
	}
}

func TestCreateCharacterCountsRunes(t *testing.T) {
	input := validInput()
	input.Name = "Лис"
	input.Description = strings.Repeat("ё", 20)

	if _, err := NewCharacterService(&memoryCharacters{}).Create(context.Background(), "user-1", input); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestCreateCharacterReportsAllProblems(t *testing.T) {
	input := validInput()
	input.Name = "Al"
	input.Emotion = intPtr(200)

	_, err := NewCharacterService(&memoryCharacters{}).Create(context.Background(), "user-1", input)

	if !strings.Contains(err.Error(), "name") || !strings.Contains(err.Error(), "emotion") {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateCharacterStorageFailure(t *testing.T) {
	repo := &memoryCharacters{err: domain.ErrStorage}

	_, err := NewCharacterService(repo).Create(context.Background(), "user-1", validInput())

	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("err = %v", err)
	}
}
