package claim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer guards a message against concurrent handling by another replica
type Claimer interface {
	// Acquire returns true if the caller may handle the message
	Acquire(ctx context.Context, account, hash string) bool
	Release(ctx context.Context, account, hash string)
	Close() error
}

// NopClaimer grants every claim
type NopClaimer struct{}

func (NopClaimer) Acquire(context.Context, string, string) bool { return true }
func (NopClaimer) Release(context.Context, string, string)      {}
func (NopClaimer) Close() error                                 { return nil }

// RedisClaimer holds claims as SETNX keys with a TTL
type RedisClaimer struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisClaimer connects to the Redis instance at url (redis://...)
func NewRedisClaimer(url string, ttl time.Duration, logger *slog.Logger) (*RedisClaimer, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &RedisClaimer{
		rdb:    redis.NewClient(opts),
		ttl:    ttl,
		logger: logger.With("component", "claim"),
	}, nil
}

func claimKey(account, hash string) string {
	return fmt.Sprintf("mailmind:claim:%s:%s", account, hash)
}

// Acquire sets the claim key if absent. When Redis is unavailable the
// claim is granted; the dedup store still prevents double records.
func (c *RedisClaimer) Acquire(ctx context.Context, account, hash string) bool {
	key := claimKey(account, hash)

	ok, err := c.rdb.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		c.logger.Warn("claim check failed, allowing processing", "account", account, "key", key, "error", err)
		return true
	}
	if !ok {
		c.logger.Debug("message claimed elsewhere", "account", account, "key", key)
	}
	return ok
}

// Release drops the claim so the message can be retried
func (c *RedisClaimer) Release(ctx context.Context, account, hash string) {
	if err := c.rdb.Del(ctx, claimKey(account, hash)).Err(); err != nil {
		c.logger.Warn("failed to release claim", "account", account, "error", err)
	}
}

// Close closes the Redis client
func (c *RedisClaimer) Close() error {
	return c.rdb.Close()
}
