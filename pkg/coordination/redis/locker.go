package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"refreshd/pkg/coordination"
)

// DefaultLockKey is the Redis key guarding the refresh sequence.
const DefaultLockKey = "refreshd:lock:refresh"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockerConfig holds Redis lock configuration
type LockerConfig struct {
	Addr         string
	Key          string
	TTL          time.Duration // must exceed the longest refresh
	PollInterval time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultLockerConfig returns defaults sized for a refresh bounded by a
// five minute exporter timeout plus git network time.
func DefaultLockerConfig(addr string) LockerConfig {
	return LockerConfig{
		Addr:         addr,
		Key:          DefaultLockKey,
		TTL:          15 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisLocker implements coordination.Locker with SET NX PX and a
// compare-and-delete release.
type RedisLocker struct {
	client *redis.Client
	cfg    LockerConfig
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(cfg LockerConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     4,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLockerWithClient(client, cfg), nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client, cfg LockerConfig) *RedisLocker {
	if cfg.Key == "" {
		cfg.Key = DefaultLockKey
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg}
}

func (r *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, r.cfg.Key, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire redis lock %s: %w", r.cfg.Key, err)
		}
		if ok {
			return r.releaser(token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisLocker) releaser(token string) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{r.cfg.Key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release redis lock %s: %w", r.cfg.Key, err)
		}
		if n == 0 {
			return coordination.ErrLockLost
		}
		return nil
	}
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}
