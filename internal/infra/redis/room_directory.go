package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-bingo/internal/domain"
)

// RoomDirectory publishes room codes so peers can join by code instead of
// address: SET room:{code} {host:port} EX ttl. The host refreshes the TTL
// while the room is open.
type RoomDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomDirectory(client *redis.Client, ttl time.Duration) *RoomDirectory {
	return &RoomDirectory{client: client, ttl: ttl}
}

func (d *RoomDirectory) Publish(ctx context.Context, code, addr string) error {
	if err := d.client.Set(ctx, d.key(code), addr, d.ttl).Err(); err != nil {
		return fmt.Errorf("publish room %s: %w", code, err)
	}
	return nil
}

func (d *RoomDirectory) Resolve(ctx context.Context, code string) (string, error) {
	addr, err := d.client.Get(ctx, d.key(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve room %s: %w", code, err)
	}
	return addr, nil
}

func (d *RoomDirectory) Touch(ctx context.Context, code string) error {
	ok, err := d.client.Expire(ctx, d.key(code), d.ttl).Result()
	if err != nil {
		return fmt.Errorf("touch room %s: %w", code, err)
	}
	if !ok {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (d *RoomDirectory) Remove(ctx context.Context, code string) error {
	return d.client.Del(ctx, d.key(code)).Err()
}

func (d *RoomDirectory) key(code string) string {
	return "room:" + code
}
