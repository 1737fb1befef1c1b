package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Legs are stored
// as a JSONB column so the fill payloads round-trip unchanged.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert persists one trade.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	legs, err := json.Marshal(t.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade legs: %w", err)
	}

	const query = `
		INSERT INTO trades (ts, mode, source, taken, approved, realized_pnl, legs)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, query,
		t.Ts, t.Mode, t.Source, t.Taken, t.Approved, t.RealizedPnl, legs,
	); err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var legs []byte
		if err := rows.Scan(&t.Ts, &t.Mode, &t.Source, &t.Taken, &t.Approved, &t.RealizedPnl, &legs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(legs, &t.Legs); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

const tradeSelectCols = `ts, mode, source, taken, approved, realized_pnl, legs`

// ListRecent returns the most recent trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+tradeSelectCols+" FROM trades ORDER BY ts DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades with ts strictly before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, beforeMs int64) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+tradeSelectCols+" FROM trades WHERE ts < $1 ORDER BY ts ASC", beforeMs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %d: %w", beforeMs, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before %d: %w", beforeMs, err)
	}
	return trades, nil
}

// DeleteBefore removes trades with ts strictly before the cutoff.
func (s *TradeStore) DeleteBefore(ctx context.Context, beforeMs int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM trades WHERE ts < $1", beforeMs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %d: %w", beforeMs, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
