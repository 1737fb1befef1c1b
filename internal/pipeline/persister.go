// Package pipeline carries the durable side of the trade stream: a persister
// that lands executor trades in PostgreSQL and an archiver that moves aged
// rows to cold storage.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/metrics"
)

const (
	readBlock   = time.Second
	readCount   = 50
	readBackoff = 300 * time.Millisecond
)

// Persister consumes arb.trades (group persist) and inserts executor-sourced
// trades into the trade store. Assembler-sourced trades are skipped: the
// assembler persists its own output before republishing, and persisting them
// again here would double-count.
type Persister struct {
	bus      domain.Bus
	store    domain.TradeStore
	consumer string
	logger   *slog.Logger
}

// NewPersister creates a Persister reading as the given consumer name.
func NewPersister(bus domain.Bus, store domain.TradeStore, consumer string, logger *slog.Logger) *Persister {
	return &Persister{
		bus:      bus,
		store:    store,
		consumer: consumer,
		logger:   logger.With(slog.String("component", "persister")),
	}
}

// Run drives the consume loop until the context is cancelled. Every entry is
// acknowledged; a failed insert is logged and dropped rather than blocking
// the group.
func (p *Persister) Run(ctx context.Context) error {
	if err := p.bus.EnsureGroup(ctx, domain.StreamTrades, domain.GroupPersister); err != nil {
		return err
	}

	p.logger.Info("trade persister started")
	defer p.logger.Info("trade persister stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := p.bus.ReadGroup(ctx, domain.StreamTrades, domain.GroupPersister, p.consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("bus read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			p.process(ctx, entry)
			if err := p.bus.Ack(ctx, domain.StreamTrades, domain.GroupPersister, entry.ID); err != nil {
				p.logger.Warn("ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Persister) process(ctx context.Context, entry domain.StreamEntry) {
	var trade domain.Trade
	if err := json.Unmarshal(entry.Payload, &trade); err != nil {
		metrics.ParseErrors.WithLabelValues("persister").Inc()
		p.logger.Warn("trade parse failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
		return
	}
	if trade.Source != domain.SourceExecutor {
		return
	}
	if err := p.store.Insert(ctx, trade); err != nil {
		p.logger.Warn("trade persist failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
	}
}
