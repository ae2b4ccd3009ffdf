// Package redisstate implements state.KVBackend over Redis, the fabric's
// hot tier (spec §4.5). Failures are routed through a circuit breaker so a
// string of backend timeouts fails fast instead of piling up bounded
// retries on every call (spec §7's Backend-unavailable policy).
package redisstate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"goa.design/clue/health"

	"github.com/execfabric/fabric/runtime/state"
)

// Options configures a Backend.
type Options struct {
	// Redis is the connection used for all operations. Required.
	Redis *redis.Client
	// BreakerName identifies the breaker in logs/metrics. Defaults to "redisstate".
	BreakerName string
	// MaxConsecutiveFailures trips the breaker open. Defaults to 5.
	MaxConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	// Defaults to 30s.
	OpenTimeout time.Duration
}

// Backend wraps a Redis client behind a circuit breaker.
type Backend struct {
	redis   *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewBackend constructs a Backend. opts.Redis is required.
func NewBackend(opts Options) (*Backend, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.BreakerName
	if name == "" {
		name = "redisstate"
	}
	maxFailures := opts.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := opts.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return &Backend{redis: opts.Redis, breaker: breaker}, nil
}

// Name identifies this backend for health.Pinger.
func (b *Backend) Name() string { return "redisstate" }

// Ping implements health.Pinger.
func (b *Backend) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.redis.Set(ctx, key, value, ttl).Err()
	})
	return err
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		val, err := b.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.redis.Del(ctx, key).Err()
	})
	return err
}

func (b *Backend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		var keys []string
		iter := b.redis.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return keys, iter.Err()
	})
	if err != nil {
		return nil, err
	}
	keys, _ := v.([]string)
	return keys, nil
}

var (
	_ state.KVBackend = (*Backend)(nil)
	_ health.Pinger   = (*Backend)(nil)
)
