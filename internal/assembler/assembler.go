// Package assembler independently reconstructs trades from fills by
// correlation id. It is the redundant consumer path used when the executor
// runs in pass-through modes: no positivity filter is applied, and the result
// is the unfiltered record used by downstream accounting.
package assembler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/metrics"
)

const (
	readBlock   = time.Second
	readCount   = 50
	readBackoff = 300 * time.Millisecond
)

// pendingTrade accumulates fills for one corrId until both sides are present.
type pendingTrade struct {
	Legs []domain.FillPayload
	Ts   int64
	Mode string
}

// Assembler consumes orders.fills (group asm), joins fills into trades, and
// republishes them on arb.trades with persistence. Fills may arrive in any
// order; the join does not assume per-leg ordering.
type Assembler struct {
	bus      domain.Bus
	store    domain.TradeStore
	consumer string
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingTrade
}

// New creates an Assembler. store may be nil when persistence is disabled
// (the paper mode without Postgres).
func New(bus domain.Bus, store domain.TradeStore, consumer string, logger *slog.Logger) *Assembler {
	return &Assembler{
		bus:      bus,
		store:    store,
		consumer: consumer,
		logger:   logger.With(slog.String("component", "assembler")),
		pending:  make(map[string]*pendingTrade),
	}
}

// Run drives the consume loop until the context is cancelled. Acks happen
// after processing each fill regardless of join outcome.
func (a *Assembler) Run(ctx context.Context) error {
	if err := a.bus.EnsureGroup(ctx, domain.StreamFills, domain.GroupAssembler); err != nil {
		return err
	}

	a.logger.Info("trade assembler started")
	defer a.logger.Info("trade assembler stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := a.bus.ReadGroup(ctx, domain.StreamFills, domain.GroupAssembler, a.consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("bus read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			a.process(ctx, entry)
			if err := a.bus.Ack(ctx, domain.StreamFills, domain.GroupAssembler, entry.ID); err != nil {
				a.logger.Warn("ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Assembler) process(ctx context.Context, entry domain.StreamEntry) {
	var fill domain.Fill
	if err := json.Unmarshal(entry.Payload, &fill); err != nil {
		metrics.ParseErrors.WithLabelValues("assembler").Inc()
		a.logger.Warn("fill parse failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
		return
	}
	p := fill.Payload

	a.mu.Lock()
	pt, ok := a.pending[p.CorrID]
	if !ok {
		pt = &pendingTrade{Ts: fill.Ts, Mode: p.Mode}
		a.pending[p.CorrID] = pt
	}
	pt.Legs = append(pt.Legs, p)

	buy, sell, complete := joinSides(pt.Legs)
	if !complete {
		a.mu.Unlock()
		return
	}
	delete(a.pending, p.CorrID)
	legs := pt.Legs
	ts, mode := pt.Ts, pt.Mode
	a.mu.Unlock()

	size := buy.FilledSize
	if sell.FilledSize < size {
		size = sell.FilledSize
	}
	pnl := (sell.Px - buy.Px) * size

	if mode == "" {
		mode = domain.ModePaper
	}
	trade := domain.Trade{
		Ts:          ts,
		Mode:        mode,
		Legs:        legs,
		RealizedPnl: pnl,
		Source:      domain.SourceAssembler,
	}

	if a.store != nil {
		if err := a.store.Insert(ctx, trade); err != nil {
			a.logger.Warn("trade persist failed", slog.String("corr_id", p.CorrID), slog.String("error", err.Error()))
		}
	}

	data, err := json.Marshal(trade)
	if err != nil {
		a.logger.Warn("trade marshal failed", slog.String("corr_id", p.CorrID), slog.String("error", err.Error()))
		return
	}
	if err := a.bus.Append(ctx, domain.StreamTrades, data); err != nil {
		metrics.BusWriteErrors.WithLabelValues("assembler").Inc()
		a.logger.Warn("trade append failed", slog.String("corr_id", p.CorrID), slog.String("error", err.Error()))
		return
	}

	metrics.TradesEmitted.WithLabelValues(domain.SourceAssembler).Inc()
	a.logger.Info("trade assembled",
		slog.String("corr_id", p.CorrID),
		slog.Float64("realized_pnl", pnl),
		slog.Int("legs", len(legs)),
	)
}

// joinSides reports whether the accumulated legs contain at least two fills
// with one BUY and one SELL, returning the first of each.
func joinSides(legs []domain.FillPayload) (buy, sell *domain.FillPayload, ok bool) {
	if len(legs) < 2 {
		return nil, nil, false
	}
	for i := range legs {
		switch legs[i].Side {
		case domain.SideBuy:
			if buy == nil {
				buy = &legs[i]
			}
		case domain.SideSell:
			if sell == nil {
				sell = &legs[i]
			}
		}
	}
	return buy, sell, buy != nil && sell != nil
}

// PendingSize reports the pending-table size. Used by tests.
func (a *Assembler) PendingSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
