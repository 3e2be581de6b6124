package locker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dskvich/character-chat/pkg/domain"
	"github.com/dskvich/character-chat/pkg/logger"
)

const (
	keyPrefix  = "conversation-lock:"
	DefaultTTL = 2 * time.Minute
)

// releaseScript deletes the lock only if it still carries our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only while it still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisLocker shares the busy flag between instances. ttl bounds how long
// a crashed instance can keep a conversation locked; a live holder refreshes
// the expiry every ttl/3 until it unlocks.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *redisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisLocker{rdb: rdb, ttl: ttl}
}

func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *redisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring lock: %w", domain.ErrStorage, err)
	}
	if !ok {
		return nil, domain.ErrConversationBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.refresh(keyPrefix+key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// The caller's context may already be cancelled at this point.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, r.rdb, []string{keyPrefix + key}, token).Err(); err != nil {
				slog.Error("releasing conversation lock", "key", key, logger.Err(err))
			}
		})
	}, nil
}

func (r *redisLocker) refresh(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			kept, err := refreshScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int()
			cancel()

			switch {
			case err != nil:
				slog.Error("refreshing conversation lock", "key", key, logger.Err(err))
			case kept == 0:
				slog.Warn("conversation lock was lost", "key", key)
				return
			}
		}
	}
}
