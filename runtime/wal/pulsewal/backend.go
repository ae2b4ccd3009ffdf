// Package pulse implements wal.Backend over Redis Streams, which is the
// technology goa.design/pulse itself wraps. The WAL's operations map onto
// Redis Streams primitives one-to-one (spec §4.6: append≈XADD, range
// read≈XRANGE, create-consumer-group≈XGROUP CREATE,
// read-from-group≈XREADGROUP, acknowledge≈XACK), so this backend talks to
// go-redis directly rather than through Pulse's higher-level stream/sink
// abstraction — that abstraction is reused instead for the Transactional
// Outbox's event-bus publish step (runtime/outbox/pulsepublisher), where its
// envelope/consumer-group model is the natural fit.
package pulse

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/execfabric/fabric/runtime/wal"
)

// Backend implements wal.Backend over a Redis connection.
type Backend struct {
	redis *redis.Client
}

// NewBackend constructs a Backend. redisClient must be non-nil.
func NewBackend(redisClient *redis.Client) (*Backend, error) {
	if redisClient == nil {
		return nil, errors.New("redis client is required")
	}
	return &Backend{redis: redisClient}, nil
}

// Name and Ping implement goa.design/clue/health.Pinger so this backend can
// be included in the process health checker alongside the other adapters.
func (b *Backend) Name() string { return "wal-redis" }

func (b *Backend) Ping(ctx context.Context) error {
	return b.redis.Ping(ctx).Err()
}

func (b *Backend) Add(ctx context.Context, partition string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := b.redis.XAdd(ctx, &redis.XAddArgs{Stream: partition, Values: values}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *Backend) Range(ctx context.Context, partition string, limit int) ([]wal.RawEntry, error) {
	if limit <= 0 {
		limit = 10000
	}
	msgs, err := b.redis.XRangeN(ctx, partition, "-", "+", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	return toRawEntries(msgs), nil
}

func (b *Backend) CreateGroup(ctx context.Context, partition, group string) error {
	err := b.redis.XGroupCreateMkStream(ctx, partition, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (b *Backend) ReadGroup(ctx context.Context, partition, group, consumer string, count int, block time.Duration) ([]wal.RawEntry, error) {
	res, err := b.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{partition, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toRawEntries(res[0].Messages), nil
}

func (b *Backend) Ack(ctx context.Context, partition, group string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.redis.XAck(ctx, partition, group, ids...).Err()
}

func toRawEntries(msgs []redis.XMessage) []wal.RawEntry {
	out := make([]wal.RawEntry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		out = append(out, wal.RawEntry{ID: m.ID, Fields: fields})
	}
	return out
}

var _ wal.Backend = (*Backend)(nil)
