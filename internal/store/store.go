// Package store is the Shared State Store (component G): a uniform
// key-value + list + hash + sorted-set + pub/sub abstraction backed by
// Redis, passed directly into every other component the way the teacher
// passes its *redis.Client into services and brokers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store embeds the Redis client so callers get every native atomic
// operation (list push/pop, hash field ops, sorted-set range removal,
// pub/sub, Lua scripts, pipelines) without an extra indirection layer.
type Store struct {
	*redis.Client
}

func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	// A command that fails on a retriable error (connection reset,
	// timeout, temporary unavailability) is retried exactly once after
	// a short backoff before go-redis gives up and returns the error
	// that call sites wrap as apperrors.StoreUnavailable; this is the
	// one retry that propagation rule allows, not the client's default
	// of three.
	opts.MaxRetries = 1
	opts.MinRetryBackoff = 20 * time.Millisecond
	opts.MaxRetryBackoff = 100 * time.Millisecond

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client}, nil
}

func (s *Store) Close() error {
	return s.Client.Close()
}
