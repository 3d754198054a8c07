// Package cache stores query classifications in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"smart-router/internal/config"
	"smart-router/internal/models"
)

const keyPrefix = "smart-router:classification:"

// Redis memoises classifications keyed by a digest of the query text.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the configured Redis server and verifies it answers.
func NewRedis(ctx context.Context, cfg config.CacheConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	c, err := newRedis(ctx, client, cfg.TTL)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

func newRedis(ctx context.Context, client *redis.Client, ttl time.Duration) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", client.Options().Addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Key returns the Redis key used for query.
func Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached classification for query, if any.
func (r *Redis) Get(ctx context.Context, query string) (models.Classification, bool, error) {
	val, err := r.client.Get(ctx, Key(query)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}

	classification := models.Classification(val)
	if !classification.Valid() {
		return "", false, fmt.Errorf("invalid cached classification %q", val)
	}
	return classification, true, nil
}

// Set stores the classification for query with the configured TTL.
func (r *Redis) Set(ctx context.Context, query string, c models.Classification) error {
	if err := r.client.Set(ctx, Key(query), c.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	log.Debug().Str("classification", c.String()).Dur("ttl", r.ttl).Msg("classification cached")
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
