// Package lock provides a Redis-backed mutual exclusion lock shared by every
// process that signs with the same account.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Manager acquires locks with SET NX and a TTL, and releases them only if
// the stored token is still ours.
type Manager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Manager{rdb: rdb, unlock: redis.NewScript(unlockLua)}, nil
}

func (m *Manager) Close() error {
	return m.rdb.Close()
}

// SignerKey is the lock name serializing batches for one signing account.
func SignerKey(signer common.Address) string {
	return "lpexec:signer:" + strings.ToLower(signer.Hex())
}

func redisKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for key or returns ErrLockHeld. The returned
// release function may be called more than once.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	token := uuid.NewString()
	rk := redisKey(key)

	ok, err := m.rdb.SetNX(ctx, rk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.unlock.Run(releaseCtx, m.rdb, []string{rk}, token).Err()
		})
	}
	return release, nil
}
