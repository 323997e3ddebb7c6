package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-ledger/internal/config"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

const retryInterval = 25 * time.Millisecond

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose TTL ran out cannot drop a lock someone else took since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ElementLock serializes redeems of one floor element across replicas.
type ElementLock struct {
	Client *redis.Client
	TTL    time.Duration
	Wait   time.Duration
	Logger *logger.Logger
}

func NewElementLock(client *redis.Client, cfg config.RedisConfig, log *logger.Logger) *ElementLock {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ElementLock{
		Client: client,
		TTL:    ttl,
		Wait:   cfg.LockWait,
		Logger: log,
	}
}

// Lease is a held element lock.
type Lease struct {
	lock  *ElementLock
	key   string
	token string
}

func lockKey(eventID, elementID string) string {
	return fmt.Sprintf("element_lock:%s:%s", eventID, elementID)
}

// Acquire takes the element lock, polling until Wait has passed. A lock still
// held after that fails with ErrContention.
func (l *ElementLock) Acquire(ctx context.Context, eventID, elementID string) (*Lease, error) {
	key := lockKey(eventID, elementID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.Wait)

	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock element %s: %w", elementID, err)
		}
		if ok {
			return &Lease{lock: l, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			l.Logger.Warn("REDIS", fmt.Sprintf("Gave up waiting for %s after %s", key, l.Wait))
			return nil, models.ErrContention
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release drops the lock if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, le.lock.Client, []string{le.key}, le.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("unlock %s: %w", le.key, err)
	}
	return nil
}
