package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dskvich/character-chat/pkg/domain"
)

// TranscriptEntry is the persisted form of a turn in a local transcript.
type TranscriptEntry struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Role      domain.Role `json:"role"`
	Timestamp time.Time   `json:"timestamp"`
}

// MarshalTranscript serializes turns as [{id, content, role, timestamp}, ...].
func MarshalTranscript(turns []domain.Turn) ([]byte, error) {
	entries := make([]TranscriptEntry, len(turns))
	for i, t := range turns {
		entries[i] = TranscriptEntry{ID: t.ID, Content: t.Content, Role: t.Role, Timestamp: t.CreatedAt}
	}
	return json.Marshal(entries)
}

// UnmarshalTranscript is the inverse of MarshalTranscript. The conversation id
// is not part of the persisted form and is supplied by the caller.
func UnmarshalTranscript(data []byte, conversationID string) ([]domain.Turn, error) {
	var entries []TranscriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}

	turns := make([]domain.Turn, len(entries))
	for i, e := range entries {
		turns[i] = domain.Turn{
			ID:             e.ID,
			ConversationID: conversationID,
			Role:           e.Role,
			Content:        e.Content,
			CreatedAt:      e.Timestamp,
		}
	}
	return turns, nil
}

// localHistoryRepository keeps one transcript file per character, for a
// single local user. The conversation id is the character id.
type localHistoryRepository struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewLocalHistoryRepository(dir string) (*localHistoryRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	return &localHistoryRepository{dir: dir, now: time.Now}, nil
}

func (l *localHistoryRepository) path(characterID string) (string, error) {
	if characterID == "" || characterID != filepath.Base(characterID) || strings.HasPrefix(characterID, ".") {
		return "", fmt.Errorf("%w: invalid character id %q", domain.ErrStorage, characterID)
	}
	return filepath.Join(l.dir, "chat_"+characterID+".json"), nil
}

func (l *localHistoryRepository) GetOrCreateConversation(_ context.Context, characterID, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.path(characterID)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(p, []byte("[]")); err != nil {
			return "", fmt.Errorf("%w: creating transcript: %w", domain.ErrStorage, err)
		}
	} else if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	return characterID, nil
}

func (l *localHistoryRepository) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	p, err := l.path(id)
	if err != nil {
		return domain.Conversation{}, err
	}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	return domain.Conversation{ID: id, CharacterID: id, CreatedAt: info.ModTime().UTC()}, nil
}

func (l *localHistoryRepository) Append(_ context.Context, turn domain.Turn) (domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	turns, err := l.load(turn.ConversationID)
	if err != nil {
		return domain.Turn{}, err
	}

	turn = stamp(turn, l.now)
	data, err := MarshalTranscript(append(turns, turn))
	if err != nil {
		return domain.Turn{}, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	p, _ := l.path(turn.ConversationID)
	if err := writeFileAtomic(p, data); err != nil {
		return domain.Turn{}, fmt.Errorf("%w: writing transcript: %w", domain.ErrStorage, err)
	}

	return turn, nil
}

func (l *localHistoryRepository) RecentTurns(_ context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	turns, err := l.load(conversationID)
	if err != nil {
		return nil, err
	}
	return tail(turns, limit), nil
}

func (l *localHistoryRepository) load(conversationID string) ([]domain.Turn, error) {
	p, err := l.path(conversationID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: conversation %s: %w", domain.ErrStorage, conversationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading transcript: %w", domain.ErrStorage, err)
	}

	turns, err := UnmarshalTranscript(data, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return turns, nil
}

// writeFileAtomic replaces path so readers see either the old or the new
// content, never a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
