package domain

import (
	"context"
	"io"
)

// TradeStore persists completed trades for accounting and the ops API.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
	// ListBefore returns trades with ts strictly before the cutoff
	// (milliseconds since epoch), oldest first.
	ListBefore(ctx context.Context, beforeMs int64) ([]Trade, error)
	// DeleteBefore removes trades with ts strictly before the cutoff and
	// returns the number of rows removed.
	DeleteBefore(ctx context.Context, beforeMs int64) (int64, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
