// Package cache keeps short-lived copies of read API responses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"OminisNode/internal/metrics"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes a cached value into dest. A miss is ErrMiss.
func GetJSON(ctx context.Context, c Cache, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return nil
}

func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "ominis:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, prefix: cfg.Prefix}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("cache get: %w", err)
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Nop never stores anything; every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error { return nil }

// Memory is a process-local cache with per-entry expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	value   []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		delete(m.entries, key)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
