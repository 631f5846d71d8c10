package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"

	// InProgressExpiry is short so a crashed worker does not block redelivery.
	InProgressExpiry = 30 * time.Second
	CompletedExpiry  = 24 * time.Hour
)

// ErrInProgress is returned when another worker holds the key.
var ErrInProgress = errors.New("event already in progress")

// IdempotencyStore guards a unit of work by key.
type IdempotencyStore interface {
	// Begin returns (true, nil) when the key was already completed, ErrInProgress
	// when another caller holds it, and (false, nil) when the caller now owns it.
	Begin(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	// Release drops an in-progress marker so the work can be retried.
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client        redis.UniversalClient
	prefix        string
	completedTTL  time.Duration
	inProgressTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, completedTTL time.Duration) *RedisStore {
	if completedTTL <= 0 {
		completedTTL = CompletedExpiry
	}
	return &RedisStore{
		client:        client,
		prefix:        prefix,
		completedTTL:  completedTTL,
		inProgressTTL: InProgressExpiry,
	}
}

func (r *RedisStore) key(k string) string {
	return fmt.Sprintf("%s:%s", r.prefix, k)
}

func (r *RedisStore) Begin(ctx context.Context, key string) (bool, error) {
	k := r.key(key)

	status, err := r.client.Get(ctx, k).Result()
	if err == nil && status == StatusCompleted {
		return true, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis GET error: %w", err)
	}

	// SET NX so only one caller wins the key.
	set, err := r.client.SetNX(ctx, k, StatusInProgress, r.inProgressTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	if !set {
		status, err := r.client.Get(ctx, k).Result()
		if err == nil && status == StatusCompleted {
			return true, nil
		}
		return false, ErrInProgress
	}
	return false, nil
}

func (r *RedisStore) Complete(ctx context.Context, key string) error {
	return r.client.Set(ctx, r.key(key), StatusCompleted, r.completedTTL).Err()
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
