package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// payloadField is the single field every stream entry carries.
const payloadField = "data"

// StreamBus implements domain.Bus using Redis Streams: XADD for appends,
// consumer groups with XREADGROUP/XACK for exclusive delivery, and the Redis
// server's TIME command as the shared monotonic wall-clock.
type StreamBus struct {
	rdb *redis.Client
}

// NewStreamBus creates a StreamBus backed by the given Client.
func NewStreamBus(c *Client) *StreamBus {
	return &StreamBus{rdb: c.Underlying()}
}

// Append appends a payload to a stream using XADD with an approximate MAXLEN
// of 10,000 entries for automatic trimming.
func (b *StreamBus) Append(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			payloadField: payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group with MKSTREAM semantics. Creating a
// group that already exists is not an error, so startup is idempotent.
func (b *StreamBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup reads up to count new entries for the consumer within the group,
// blocking up to block when none are available. It returns an empty slice
// (not an error) on a blocking timeout.
func (b *StreamBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamEntry, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}

	results, err := b.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read group %s on %s: %w", group, stream, err)
	}

	var entries []domain.StreamEntry
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values[payloadField]
			if !ok {
				continue
			}

			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			entries = append(entries, domain.StreamEntry{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}

	return entries, nil
}

// Ack acknowledges delivered entries so they leave the group's pending list.
func (b *StreamBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s on %s: %w", group, stream, err)
	}
	return nil
}

// Now returns the Redis server's wall-clock in milliseconds since epoch. All
// core timestamps come from here so stale-book checks hold across
// clock-skewed processes.
func (b *StreamBus) Now(ctx context.Context) (int64, error) {
	t, err := b.rdb.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: time: %w", err)
	}
	return t.UnixMilli(), nil
}

// Compile-time interface check.
var _ domain.Bus = (*StreamBus)(nil)
