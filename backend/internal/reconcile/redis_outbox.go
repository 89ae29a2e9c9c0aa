package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"matchmaker/backend/pkg/logger"
)

// RedisOutbox keeps the repair queue in a Redis list so queued repairs survive
// a restart of the service
type RedisOutbox struct {
	rdb    *goredis.Client
	key    string
	logger *zap.Logger
}

// NewRedisOutbox connects to addr and pings it
func NewRedisOutbox(ctx context.Context, addr, key string) (*RedisOutbox, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisOutboxFromClient(rdb, key), nil
}

// NewRedisOutboxFromClient wraps an existing client
func NewRedisOutboxFromClient(rdb *goredis.Client, key string) *RedisOutbox {
	return &RedisOutbox{
		rdb:    rdb,
		key:    key,
		logger: logger.Component("reconcile"),
	}
}

// Enqueue implements Outbox
func (o *RedisOutbox) Enqueue(ctx context.Context, entry Entry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return o.rdb.RPush(ctx, o.key, raw).Err()
}

// Dequeue implements Outbox. Undecodable entries are logged and dropped.
func (o *RedisOutbox) Dequeue(ctx context.Context, max int) ([]Entry, error) {
	if max <= 0 {
		return nil, nil
	}
	raws, err := o.rdb.LPopCount(ctx, o.key, max).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			o.logger.Warn("Dropping malformed outbox entry", zap.String("raw", raw), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Len implements Outbox
func (o *RedisOutbox) Len(ctx context.Context) (int64, error) {
	return o.rdb.LLen(ctx, o.key).Result()
}

// Close closes the underlying client
func (o *RedisOutbox) Close() error {
	return o.rdb.Close()
}
