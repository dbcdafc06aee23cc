package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sdn-stats/internal/metrics"
	"sdn-stats/internal/models"
)

// ErrMiss is returned when no sample is cached for a subject.
var ErrMiss = errors.New("cache miss")

// RedisCache keeps the latest accepted sample per subject
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and checks the connection
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisCache(client, ttl), nil
}

func newRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// LatestKey is the key holding the latest sample of a device or port.
func LatestKey(s models.Sample) string {
	if s.Port != "" {
		return latestPortKey(s.Subject, s.Port)
	}
	return latestDeviceKey(s.Subject)
}

func latestDeviceKey(ip string) string {
	return fmt.Sprintf("latest:device:%s", ip)
}

func latestPortKey(ip, port string) string {
	return fmt.Sprintf("latest:port:%s:%s", ip, port)
}

// StoreLatest overwrites the latest sample of its subject.
func (r *RedisCache) StoreLatest(ctx context.Context, s models.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	if err := r.client.Set(ctx, LatestKey(s), data, r.ttl).Err(); err != nil {
		metrics.RedisOperations.WithLabelValues("store_latest", "error").Inc()
		return fmt.Errorf("failed to store latest sample: %w", err)
	}
	metrics.RedisOperations.WithLabelValues("store_latest", "success").Inc()
	return nil
}

// GetLatest returns the latest sample of the device at ip.
func (r *RedisCache) GetLatest(ctx context.Context, ip string) (*models.Sample, error) {
	return r.get(ctx, latestDeviceKey(ip))
}

// GetLatestPort returns the latest sample of one port on the device at ip.
func (r *RedisCache) GetLatestPort(ctx context.Context, ip, port string) (*models.Sample, error) {
	return r.get(ctx, latestPortKey(ip, port))
}

func (r *RedisCache) get(ctx context.Context, key string) (*models.Sample, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.RedisOperations.WithLabelValues("get_latest", "miss").Inc()
		return nil, ErrMiss
	}
	if err != nil {
		metrics.RedisOperations.WithLabelValues("get_latest", "error").Inc()
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	metrics.RedisOperations.WithLabelValues("get_latest", "success").Inc()

	var s models.Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return &s, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping checks that Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats returns connection pool statistics
func (r *RedisCache) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
