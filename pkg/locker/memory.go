// Package locker provides the per-conversation exclusive flag that keeps a
// conversation to one in-flight send.
package locker

import (
	"context"
	"sync"

	"github.com/dskvich/character-chat/pkg/domain"
)

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[string]struct{})}
}

// TryLock never waits. It returns domain.ErrConversationBusy when key is
// already held. The returned unlock is safe to call more than once.
func (m *memoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil, domain.ErrConversationBusy
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}
