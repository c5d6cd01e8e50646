package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-checkout/internal/domain"
)

type redisRepo struct {
	client *redis.Client
}

// NewRedis stores each session under its own key with the session TTL.
func NewRedis(client *redis.Client) Repository {
	return &redisRepo{client: client}
}

func (r *redisRepo) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKey(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *redisRepo) Get(ctx context.Context, id string) (*Record, error) {
	key := redisKey(id)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	out := &Record{ID: id, Data: data}
	if ttl, err := r.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		out.ExpiresAt = time.Now().Add(ttl)
	}
	return out, nil
}

func (r *redisRepo) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func redisKey(id string) string {
	return fmt.Sprintf("checkout:session:%s", id)
}
