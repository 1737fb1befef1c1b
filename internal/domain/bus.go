package domain

import (
	"context"
	"time"
)

// Stream names shared by all components.
const (
	StreamOpportunities = "arb.opportunities"
	StreamScannerToRisk = "scanner.to.risk"
	StreamApproved      = "arb.approved"
	StreamOrders        = "orders.new"
	StreamFills         = "orders.fills"
	StreamTrades        = "arb.trades"
)

// Consumer group names.
const (
	GroupRisk      = "risk"
	GroupExecutor  = "executor"
	GroupSim       = "sim"
	GroupAssembler = "asm"
	GroupPersister = "persist"
	GroupTail      = "tail"
)

// Key-value key builders.
func QuoteViewKey(venue, instrumentID string) string { return "quote:" + venue + ":" + instrumentID }
func SymbolsKey(venue string) string                 { return "meta:" + venue + ":symbols" }

// Toggle keys.
const (
	KeyAutoTrade = "toggles:autoTrade"
	KeyMode      = "toggles:mode"
)

// StreamEntry is a single entry read from a stream. Payload is the JSON body
// of the entry's single "data" field.
type StreamEntry struct {
	ID      string
	Payload []byte
}

// Bus hides the append-only log behind a small interface so the backend
// (a Redis-Streams-shaped store in production) is replaceable.
//
// Within a consumer group each entry is delivered to exactly one consumer
// until acknowledged. Now returns the bus's monotonic wall-clock in
// milliseconds since epoch; all core timestamps must come from it so that
// stale-data checks remain valid across clock-skewed processes.
type Bus interface {
	Append(ctx context.Context, stream string, payload []byte) error
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]StreamEntry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Now(ctx context.Context) (int64, error)
}

// QuoteView is the key-value projection of the latest top-of-book per
// (venue, instrument), maintained by the external market-data adapters.
type QuoteView interface {
	// Symbols returns the tradable symbol list published by the venue's
	// adapter, or ErrNotFound when the meta key is absent or expired.
	Symbols(ctx context.Context, venue string) ([]string, error)

	// Quotes batch-fetches snapshots for the given keys in a single
	// round trip. Missing or unparseable entries are absent from the result.
	Quotes(ctx context.Context, keys []QuoteKey) (map[QuoteKey]QuoteSnapshot, error)
}

// ToggleStore reads and writes the execution toggles.
type ToggleStore interface {
	Read(ctx context.Context) (Toggles, error)
	SetAutoTrade(ctx context.Context, on bool) error
	SetMode(ctx context.Context, mode string) error
}
