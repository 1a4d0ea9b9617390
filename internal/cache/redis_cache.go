package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pdv/backend/internal/domain"
)

const (
	reportKeyPrefix     = "pdv:report:"
	reportGenerationKey = "pdv:report:generation"
)

// RedisReportCache keys entries by a generation counter. Invalidate bumps the
// counter, so stale entries are never read again and simply expire.
type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) key(ctx context.Context, q domain.ReportQuery) (string, error) {
	generation, err := c.client.Get(ctx, reportGenerationKey).Result()
	if errors.Is(err, redis.Nil) {
		generation = "0"
	} else if err != nil {
		return "", err
	}
	return reportKeyPrefix + generation + ":" + QueryKey(q), nil
}

func (c *RedisReportCache) Get(ctx context.Context, q domain.ReportQuery) (Lookup, error) {
	key, err := c.key(ctx, q)
	if err != nil {
		return Lookup{}, err
	}
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Lookup{Slot: key}, nil
	}
	if err != nil {
		return Lookup{}, err
	}

	var summary domain.Summary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return Lookup{Slot: key}, err
	}
	return Lookup{Summary: &summary, Hit: true, Slot: key}, nil
}

// Set writes to the slot handed out by Get. Keys carry the generation, so a
// slot from before an Invalidate is never read again.
func (c *RedisReportCache) Set(ctx context.Context, slot string, value *domain.Summary, ttl time.Duration) error {
	if value == nil || slot == "" {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, slot, payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, reportGenerationKey).Err()
}
