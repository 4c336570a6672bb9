// Package cache provides a Redis-backed cache of assembled progress
// snapshots. It is optional: the engine works identically without it, the
// cache only shortcuts repeated progress reads between mutations.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillforge/skillforge-training/internal/training"
)

var ErrCacheMiss = errors.New("cache miss")

// ProgressCache implements training.SnapshotCache.
type ProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(ctx context.Context, addr, password string, ttl time.Duration) (*ProgressCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ProgressCache{client: client, ttl: ttl}, nil
}

func key(enrollmentID string) string { return "progress:" + enrollmentID }

func (c *ProgressCache) Get(ctx context.Context, enrollmentID string) (*training.TrainingProgress, error) {
	data, err := c.client.Get(ctx, key(enrollmentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var p training.TrainingProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *ProgressCache) Set(ctx context.Context, enrollmentID string, p *training.TrainingProgress) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(enrollmentID), data, c.ttl).Err()
}

func (c *ProgressCache) Invalidate(ctx context.Context, enrollmentID string) error {
	return c.client.Del(ctx, key(enrollmentID)).Err()
}

func (c *ProgressCache) Close() error { return c.client.Close() }
