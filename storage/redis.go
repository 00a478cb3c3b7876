package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/trust"
)

// RedisBackend keeps trust records in a Redis hash (field = peer id hex,
// value = record JSON) and the sealed identity under its own key.
type RedisBackend struct {
	client *redis.Client
	prefix string
	logger *logrus.Entry
}

// NewRedisBackend connects to redisURL (redis://...) and pings it. All keys
// are placed under prefix.
func NewRedisBackend(ctx context.Context, redisURL, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBackendFromClient(ctx, redis.NewClient(opts), prefix)
}

// NewRedisBackendFromClient wraps an existing client. The backend owns the
// client and closes it on Close.
func NewRedisBackendFromClient(ctx context.Context, client *redis.Client, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		prefix = "otter"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		logger: logrus.WithFields(logrus.Fields{"component": "redis_backend", "prefix": prefix}),
	}, nil
}

func (b *RedisBackend) trustKey() string    { return b.prefix + ":trust" }
func (b *RedisBackend) identityKey() string { return b.prefix + ":identity" }

func (b *RedisBackend) SaveRecord(ctx context.Context, r *trust.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := b.client.HSet(ctx, b.trustKey(), r.PeerID.String(), data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// LoadRecords reads every record. A record that fails to decode, or whose
// hash field does not match its PeerID, fails the whole load.
func (b *RedisBackend) LoadRecords(ctx context.Context) ([]*trust.Record, error) {
	values, err := b.client.HGetAll(ctx, b.trustKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	out := make([]*trust.Record, 0, len(values))
	for field, data := range values {
		r, err := decodeRecord(field, []byte(data))
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"function": "LoadRecords",
				"field":    field,
				"error":    err.Error(),
			}).Error("Undecodable trust record")
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *RedisBackend) SaveIdentity(ctx context.Context, sealed []byte) error {
	if err := b.client.Set(ctx, b.identityKey(), sealed, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) LoadIdentity(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.identityKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
