package domain

import "time"

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultCharacterModel = "google/gemini-2.5-flash"

	DefaultHistoryLimit = 20
	DefaultIdleTimeout  = 30 * time.Second
)
