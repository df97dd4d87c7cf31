package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultPollInterval = 20 * time.Millisecond
	releaseTimeout      = 2 * time.Second
)

// RedisLocker takes one SETNX key per order. The TTL frees locks whose
// holder died; release only deletes a key that still carries our token.
type RedisLocker struct {
	client       *redis.Client
	script       *redis.Script
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:       client,
		script:       redis.NewScript(releaseScript),
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// Lock acquires the keys in the order given, waiting until each is free or
// ctx ends. On failure every key already taken is released.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys, err := uniqueKeys(keys)
	if err != nil {
		return nil, err
	}

	releases := make([]func(), 0, len(keys))
	for _, key := range keys {
		release, err := l.acquire(ctx, orderKey(key))
		if err != nil {
			releaseAll(releases)()
			return nil, fmt.Errorf("lock order %s: %w", key, err)
		}
		releases = append(releases, release)
	}
	return releaseAll(releases), nil
}

func (l *RedisLocker) acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("setnx: %w", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release runs detached from the caller's context so a cancelled request
// still frees its lock.
func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("failed to release order lock, it will expire",
			"key", key,
			"ttl", l.ttl,
			"error", err,
		)
	}
}
