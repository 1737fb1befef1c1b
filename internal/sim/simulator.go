// Package sim is the stand-in venue: it consumes orders and returns
// deterministic full fills, making the executor state machine exercisable
// end-to-end without modeling venue liquidity.
package sim

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/metrics"
)

const (
	readBlock   = time.Second
	readCount   = 50
	readBackoff = 300 * time.Millisecond
)

// Simulator consumes orders.new (group sim) and emits one full fill per
// order on orders.fills.
type Simulator struct {
	bus      domain.Bus
	consumer string
	logger   *slog.Logger
}

// New creates a Simulator reading as the given consumer name.
func New(bus domain.Bus, consumer string, logger *slog.Logger) *Simulator {
	return &Simulator{
		bus:      bus,
		consumer: consumer,
		logger:   logger.With(slog.String("component", "sim")),
	}
}

// Run drives the consume loop until the context is cancelled. Every order is
// acknowledged, parse failures included.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.bus.EnsureGroup(ctx, domain.StreamOrders, domain.GroupSim); err != nil {
		return err
	}

	s.logger.Info("order simulator started")
	defer s.logger.Info("order simulator stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := s.bus.ReadGroup(ctx, domain.StreamOrders, domain.GroupSim, s.consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("bus read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			s.process(ctx, entry)
			if err := s.bus.Ack(ctx, domain.StreamOrders, domain.GroupSim, entry.ID); err != nil {
				s.logger.Warn("ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

// process turns one order into its fill: px = estPx, filledSize =
// requestedSize = size, mode carried through.
func (s *Simulator) process(ctx context.Context, entry domain.StreamEntry) {
	var order domain.Order
	if err := json.Unmarshal(entry.Payload, &order); err != nil {
		metrics.ParseErrors.WithLabelValues("sim").Inc()
		s.logger.Warn("order parse failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
		return
	}

	now, err := s.bus.Now(ctx)
	if err != nil {
		s.logger.Warn("bus clock read failed", slog.String("error", err.Error()))
		return
	}

	p := order.Payload
	fill := domain.Fill{
		ID:   uuid.New().String(),
		Ts:   now,
		Type: domain.TypeOrderFill,
		Payload: domain.FillPayload{
			CorrID:        p.CorrID,
			LegIndex:      p.LegIndex,
			Venue:         p.Venue,
			InstrumentID:  p.InstrumentID,
			Side:          p.Side,
			Px:            p.EstPx,
			RequestedSize: p.Size,
			FilledSize:    p.Size,
			Mode:          p.Mode,
		},
	}

	data, err := json.Marshal(fill)
	if err != nil {
		s.logger.Warn("fill marshal failed", slog.String("corr_id", p.CorrID), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Append(ctx, domain.StreamFills, data); err != nil {
		metrics.BusWriteErrors.WithLabelValues("sim").Inc()
		s.logger.Warn("fill append failed",
			slog.String("corr_id", p.CorrID),
			slog.Int("leg_index", p.LegIndex),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.SimFills.Inc()
	s.logger.Debug("fill emitted",
		slog.String("corr_id", p.CorrID),
		slog.Int("leg_index", p.LegIndex),
		slog.Float64("px", p.EstPx),
	)
}
