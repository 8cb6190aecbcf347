package security

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
)

// RedisStore is a Store backed by Redis so that sessions, revocations, CSRF
// tokens and rate-limit counters are shared by every instance. Expiry is
// delegated to Redis key TTLs.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore wraps an already connected client. namespace is prepended to
// every key and may be empty.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

// DialRedis connects to addr and pings it before returning.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string { return s.namespace + k }

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	k := s.key(key)
	pipe := s.client.WithContext(ctx).TxPipeline()
	pipe.Set(k, value, 0)
	pipe.ExpireAt(k, expiresAt)
	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	ok, err := s.client.WithContext(ctx).SetNX(s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	k := s.key(key)
	pipe := s.client.WithContext(ctx).Pipeline()
	get := pipe.Get(k)
	ttl := pipe.PTTL(k)
	_, err := pipe.Exec()
	if err == redis.Nil || get.Err() == redis.Nil {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	b, err := get.Bytes()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	var expiresAt time.Time
	if d := ttl.Val(); d > 0 {
		expiresAt = time.Now().Add(d)
	}
	return b, expiresAt, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.WithContext(ctx).Del(s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	c := s.client.WithContext(ctx)
	k := s.key(key)
	n, err := c.Incr(k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 {
		if err := c.PExpire(k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		return n, now.Add(window), nil
	}
	ttl, err := c.PTTL(k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	// a counter left without a TTL would never reset
	if ttl < 0 {
		if err := c.PExpire(k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		ttl = window
	}
	return n, now.Add(ttl), nil
}

// Sweep is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) Sweep(ctx context.Context, prefix string, now time.Time) (int, error) {
	return 0, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping() bool {
	return s.client.Ping().Err() == nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
