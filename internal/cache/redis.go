package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// namespace prefixes every key so a shared Redis can host other tenants.
const namespace = "marketfetch:"

// RedisStore is the shared external Store. TTLs are enforced by Redis itself
// via per-key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection before use.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logrus.WithField("addr", addr).Info("connected to redis cache")
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, namespace+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return b, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, namespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear drops all namespaced keys, scanning rather than FLUSHDB so other
// tenants of the instance are untouched.
func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, namespace+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			logrus.WithError(err).Warnf("failed to delete cache key %s", iter.Val())
		}
	}
	return iter.Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
