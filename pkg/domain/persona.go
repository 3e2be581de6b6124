package domain

import "time"

const (
	MinSlider     = 0
	MaxSlider     = 100
	DefaultSlider = 50
)

// Persona is the immutable configuration of a character.
type Persona struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Tags             []string  `json:"tags"`
	Creativity       int       `json:"creativity"`
	Emotion          int       `json:"emotion"`
	ContextAwareness int       `json:"memory"`
	Model            string    `json:"ai_model,omitempty"`
	Avatar           string    `json:"avatar,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	SystemPrompt     string    `json:"system_prompt"`
	CreatedAt        time.Time `json:"created_at"`
}

// CharacterInput is the payload accepted at character creation. Sliders are
// pointers so that a missing value can fall back to DefaultSlider.
type CharacterInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Avatar      string   `json:"avatar"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Creativity  *int     `json:"creativity"`
	Emotion     *int     `json:"emotion"`
	Memory      *int     `json:"memory"`
	AIModel     string   `json:"aiModel"`
	ImageURL    string   `json:"imageUrl"`
}
