package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markjakearzadon/payentry-bot/internal/models"
)

// RateCache keeps the last fetched rate snapshot.
type RateCache interface {
	Load(ctx context.Context) (models.RateSnapshot, bool, error)
	Save(ctx context.Context, snap models.RateSnapshot) error
}

// MemoryRateCache holds the snapshot in process.
type MemoryRateCache struct {
	mu   sync.RWMutex
	snap models.RateSnapshot
	set  bool
}

func NewMemoryRateCache() *MemoryRateCache {
	return &MemoryRateCache{}
}

func (c *MemoryRateCache) Load(context.Context) (models.RateSnapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.set, nil
}

func (c *MemoryRateCache) Save(_ context.Context, snap models.RateSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap, c.set = snap, true
	return nil
}

// RedisRateCache shares the snapshot between bot replicas.
type RedisRateCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

const defaultRatesKey = "paybot:rates:EUR"

// NewRedisRateCache stores the snapshot under key, expiring it after ttl.
func NewRedisRateCache(client *redis.Client, key string, ttl time.Duration) *RedisRateCache {
	if key == "" {
		key = defaultRatesKey
	}
	return &RedisRateCache{client: client, key: key, ttl: ttl}
}

func (c *RedisRateCache) Load(ctx context.Context) (models.RateSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RateSnapshot{}, false, nil
	}
	if err != nil {
		return models.RateSnapshot{}, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}

	var snap models.RateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.RateSnapshot{}, false, fmt.Errorf("decode cached rates: %w", err)
	}
	return snap, true, nil
}

func (c *RedisRateCache) Save(ctx context.Context, snap models.RateSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode rates: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}

// ConnectRedis accepts a redis:// URL or a host:port address and pings the server.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
