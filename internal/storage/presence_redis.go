package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPresence keeps public room connected sets in Redis sets so every
// server process sees the same presence count.
type RedisPresence struct {
	Redis  *redis.Client
	Prefix string
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{Redis: rdb, Prefix: "chat:presence:"}
}

func (p *RedisPresence) key(roomID string) string {
	return p.Prefix + roomID
}

func (p *RedisPresence) AddConnected(ctx context.Context, roomID, accountID string) (bool, error) {
	n, err := p.Redis.SAdd(ctx, p.key(roomID), accountID).Result()
	if err != nil {
		return false, fmt.Errorf("redis connect %s to room %s: %w", accountID, roomID, err)
	}
	return n > 0, nil
}

func (p *RedisPresence) RemoveConnected(ctx context.Context, roomID, accountID string) (bool, error) {
	n, err := p.Redis.SRem(ctx, p.key(roomID), accountID).Result()
	if err != nil {
		return false, fmt.Errorf("redis disconnect %s from room %s: %w", accountID, roomID, err)
	}
	return n > 0, nil
}

func (p *RedisPresence) CountConnected(ctx context.Context, roomID string) (int, error) {
	n, err := p.Redis.SCard(ctx, p.key(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count room %s: %w", roomID, err)
	}
	return int(n), nil
}
