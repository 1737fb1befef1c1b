package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// QuoteView implements domain.QuoteView over the plain keys written by the
// market-data adapters.
//
// Key schema:
//
//	quote:{venue}:{instrumentId} - JSON {bid, ask, ts}, TTL ~30s
//	meta:{venue}:symbols         - JSON array of native symbol strings, TTL ~600s
type QuoteView struct {
	rdb *redis.Client
}

// NewQuoteView creates a QuoteView backed by the given Client.
func NewQuoteView(c *Client) *QuoteView {
	return &QuoteView{rdb: c.Underlying()}
}

// Symbols returns the venue's published symbol list. It returns
// domain.ErrNotFound when the meta key is absent or expired.
func (qv *QuoteView) Symbols(ctx context.Context, venue string) ([]string, error) {
	data, err := qv.rdb.Get(ctx, domain.SymbolsKey(venue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get symbols %s: %w", venue, err)
	}

	var symbols []string
	if err := json.Unmarshal(data, &symbols); err != nil {
		return nil, fmt.Errorf("redis: unmarshal symbols %s: %w", venue, err)
	}
	return symbols, nil
}

// Quotes batch-fetches snapshots for the given keys in a single MGET. Keys
// that are missing, expired, or unparseable are absent from the result; a
// parse failure never fails the whole batch.
func (qv *QuoteView) Quotes(ctx context.Context, keys []domain.QuoteKey) (map[domain.QuoteKey]domain.QuoteSnapshot, error) {
	if len(keys) == 0 {
		return map[domain.QuoteKey]domain.QuoteSnapshot{}, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = domain.QuoteViewKey(k.Venue, k.InstrumentID)
	}

	values, err := qv.rdb.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget %d quotes: %w", len(keys), err)
	}

	out := make(map[domain.QuoteKey]domain.QuoteSnapshot, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var snap domain.QuoteSnapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil {
			continue
		}
		snap.Venue = keys[i].Venue
		snap.InstrumentID = keys[i].InstrumentID
		out[keys[i]] = snap
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.QuoteView = (*QuoteView)(nil)
