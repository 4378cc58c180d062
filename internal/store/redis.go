package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPrefs is a Preferences backed by plain Redis strings, for hosts that
// share one queue slot across processes.
type RedisPrefs struct {
	client *redis.Client
	prefix string
}

// NewRedisPrefs wraps an existing client. Keys are stored as prefix+key.
func NewRedisPrefs(client *redis.Client, prefix string) *RedisPrefs {
	return &RedisPrefs{client: client, prefix: prefix}
}

// NewRedisPrefsFromURL connects to redisURL and checks the connection.
func NewRedisPrefsFromURL(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisPrefs, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opt.PoolSize = 4
	opt.MinIdleConns = 1
	opt.PoolTimeout = 30 * time.Second

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("redis queue store connected", "component", "store", "addr", opt.Addr)
	return &RedisPrefs{client: client, prefix: "rapport:"}, nil
}

func (p *RedisPrefs) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := p.client.Get(ctx, p.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *RedisPrefs) SetString(ctx context.Context, key, value string) error {
	return p.client.Set(ctx, p.prefix+key, value, 0).Err()
}

// Close closes the Redis client connection.
func (p *RedisPrefs) Close() error {
	return p.client.Close()
}

var _ Preferences = (*RedisPrefs)(nil)
