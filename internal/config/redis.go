package config

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Second

// RedisOptions creates go-redis client options from RedisConfig.
func (c RedisConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// LockTTLOrDefault is how long an order lock survives a crashed holder.
func (c RedisConfig) LockTTLOrDefault() time.Duration {
	if c.LockTTL <= 0 {
		return defaultLockTTL
	}
	return c.LockTTL
}

// ChannelOrDefault is the Pub/Sub channel outbox events are published on.
func (c RedisConfig) ChannelOrDefault() string {
	if c.Channel == "" {
		return "pos.payments.events"
	}
	return c.Channel
}
