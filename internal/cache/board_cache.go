package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BoardCache invalidates the cached read view of a board after its state
// changes. The page-rendering side owns the cached value; this service only
// ever deletes it.
type BoardCache interface {
	Invalidate(ctx context.Context, boardID string) error
}

func boardKey(boardID string) string {
	return fmt.Sprintf("board:v1:%s", boardID)
}

// RedisBoardCache is the production implementation.
type RedisBoardCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient builds a redis client and verifies connectivity.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        50,
		MinIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func NewRedisBoardCache(client *redis.Client, logger *zap.Logger) *RedisBoardCache {
	return &RedisBoardCache{client: client, logger: logger}
}

func (c *RedisBoardCache) Invalidate(ctx context.Context, boardID string) error {
	if err := c.client.Del(ctx, boardKey(boardID)).Err(); err != nil {
		return fmt.Errorf("invalidate board %s: %w", boardID, err)
	}
	c.logger.Debug("board cache invalidated", zap.String("board_id", boardID))
	return nil
}

// NoopBoardCache is used when no redis address is configured.
type NoopBoardCache struct{}

func (NoopBoardCache) Invalidate(context.Context, string) error { return nil }
