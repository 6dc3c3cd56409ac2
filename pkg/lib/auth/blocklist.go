package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blockedKeyPrefix = "auth:blocked:"

// BlockChecker answers "is this caller blocked".
type BlockChecker interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
}

// RedisBlockList reads the user-block cache maintained by the identity service.
type RedisBlockList struct {
	client *redis.Client
}

func NewRedisBlockList(addr, password string, db int) *RedisBlockList {
	return &RedisBlockList{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisBlockListWithClient wraps an existing client.
func NewRedisBlockListWithClient(client *redis.Client) *RedisBlockList {
	return &RedisBlockList{client: client}
}

func (b *RedisBlockList) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cannot ping redis: %w", err)
	}
	return nil
}

func (b *RedisBlockList) Stop(ctx context.Context) error {
	return b.client.Close()
}

func (b *RedisBlockList) IsBlocked(ctx context.Context, userID string) (bool, error) {
	n, err := b.client.Exists(ctx, blockedKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("cannot check block list: %w", err)
	}
	return n > 0, nil
}

// Block marks a user as blocked for ttl (zero keeps it until Unblock).
func (b *RedisBlockList) Block(ctx context.Context, userID string, ttl time.Duration) error {
	if err := b.client.Set(ctx, blockedKeyPrefix+userID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("cannot block user: %w", err)
	}
	return nil
}

func (b *RedisBlockList) Unblock(ctx context.Context, userID string) error {
	if err := b.client.Del(ctx, blockedKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("cannot unblock user: %w", err)
	}
	return nil
}

// NoBlockList never blocks. Used when no Redis is configured.
type NoBlockList struct{}

func (NoBlockList) IsBlocked(context.Context, string) (bool, error) { return false, nil }
