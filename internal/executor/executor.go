// Package executor drives the per-opportunity multi-leg state machine: it
// consumes opportunities from the toggle-selected input stream, sequences IOC
// orders protective-leg-first, joins the resulting fills, and emits completed
// trades.
package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/metrics"
)

const (
	readBlock   = time.Second
	readCount   = 10
	readBackoff = 300 * time.Millisecond
)

// SelectStream maps the toggles to the executor's input stream: auto-trade
// reads the pre-risk stream directly, otherwise only opportunities that
// passed review on arb.approved are executed.
func SelectStream(t domain.Toggles) string {
	if t.AutoTrade {
		return domain.StreamOpportunities
	}
	return domain.StreamApproved
}

// Executor owns the in-process inflight table keyed by corrId. State is
// guarded by a single mutex shared by the opportunity loop, the fill loop,
// the toggle watcher, and the TTL sweep.
type Executor struct {
	bus     domain.Bus
	toggles domain.ToggleStore
	cfg     config.ExecutorConfig
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]*inflightEntry
	cur      domain.Toggles
}

// New creates an Executor. The configured auto_trade and trade_mode seed the
// toggle state until the first successful store read.
func New(bus domain.Bus, toggles domain.ToggleStore, cfg config.ExecutorConfig, logger *slog.Logger) *Executor {
	return &Executor{
		bus:      bus,
		toggles:  toggles,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		inflight: make(map[string]*inflightEntry),
		cur: domain.Toggles{
			AutoTrade: cfg.AutoTrade,
			Mode:      cfg.TradeMode,
		},
	}
}

// Run starts the consumer loops and blocks until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for _, stream := range []string{domain.StreamOpportunities, domain.StreamApproved, domain.StreamFills} {
		if err := e.bus.EnsureGroup(ctx, stream, domain.GroupExecutor); err != nil {
			return err
		}
	}

	// Pick up live toggle state before the first read so the stream
	// selection does not flap on startup.
	if t, err := e.toggles.Read(ctx); err == nil {
		e.mu.Lock()
		e.cur = t
		e.mu.Unlock()
	}

	e.logger.Info("executor started",
		slog.Bool("auto_trade", e.currentToggles().AutoTrade),
		slog.String("stream", SelectStream(e.currentToggles())),
	)
	defer e.logger.Info("executor stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.toggleLoop(ctx) })
	g.Go(func() error { return e.opportunityLoop(ctx) })
	g.Go(func() error { return e.fillLoop(ctx) })
	g.Go(func() error { return e.sweepLoop(ctx) })
	return g.Wait()
}

func (e *Executor) currentToggles() domain.Toggles {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// toggleLoop refreshes the toggles on a short cadence. A read failure keeps
// the last-known value. The falling edge of autoTrade flushes the inflight
// table so pausing execution never leaves half-opened positions tracked.
func (e *Executor) toggleLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(e.cfg.ToggleRefreshMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		t, err := e.toggles.Read(ctx)
		if err != nil {
			e.logger.Warn("toggle read failed", slog.String("error", err.Error()))
			continue
		}

		e.mu.Lock()
		prev := e.cur
		e.cur = t
		var flushed int
		if prev.AutoTrade && !t.AutoTrade {
			flushed = len(e.inflight)
			for range e.inflight {
				metrics.ExecutorAborts.WithLabelValues("toggle_flush").Inc()
			}
			e.inflight = make(map[string]*inflightEntry)
		}
		e.mu.Unlock()

		if prev != t {
			e.logger.Info("toggles changed",
				slog.Bool("auto_trade", t.AutoTrade),
				slog.String("mode", t.Mode),
				slog.String("stream", SelectStream(t)),
				slog.Int("inflight_flushed", flushed),
			)
		}
	}
}

// opportunityLoop consumes from the toggle-selected stream. Only one stream
// is read at a time; a toggle change redirects the next read rather than
// racing two subscriptions.
func (e *Executor) opportunityLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stream := SelectStream(e.currentToggles())
		entries, err := e.bus.ReadGroup(ctx, stream, domain.GroupExecutor, e.cfg.Consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("opportunity read failed", slog.String("stream", stream), slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			e.handleOpportunity(ctx, entry)
			if err := e.bus.Ack(ctx, stream, domain.GroupExecutor, entry.ID); err != nil {
				e.logger.Warn("opportunity ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

// handleOpportunity admits one opportunity into the inflight table and sends
// its protective leg. Parse failures are acknowledged by the caller and
// dropped here.
func (e *Executor) handleOpportunity(ctx context.Context, entry domain.StreamEntry) {
	var opp domain.Opportunity
	if err := json.Unmarshal(entry.Payload, &opp); err != nil {
		metrics.ParseErrors.WithLabelValues("executor").Inc()
		e.logger.Warn("opportunity parse failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
		return
	}

	legs := ProtectiveFirst(opp.Payload.Legs)
	if len(legs) == 0 {
		return
	}

	now, err := e.bus.Now(ctx)
	if err != nil {
		e.logger.Warn("bus clock read failed", slog.String("error", err.Error()))
		return
	}

	corrID := uuid.New().String()
	ent := &inflightEntry{
		Opp:       opp,
		Legs:      legs,
		Fills:     make([]*domain.FillPayload, len(legs)),
		StartedTs: now,
	}

	e.mu.Lock()
	e.inflight[corrID] = ent
	e.mu.Unlock()

	e.logger.Info("opportunity accepted",
		slog.String("id", opp.ID),
		slog.String("corr_id", corrID),
		slog.Int("legs", len(legs)),
		slog.Bool("approved", opp.Approved),
	)

	// IOC orders are never retried: a failed send leaves the entry for the
	// TTL sweep rather than replaying the order.
	e.sendOrder(ctx, corrID, 0, ent)
}

// sendOrder emits the IOC order for one leg on orders.new.
func (e *Executor) sendOrder(ctx context.Context, corrID string, legIndex int, ent *inflightEntry) {
	now, err := e.bus.Now(ctx)
	if err != nil {
		e.logger.Warn("bus clock read failed", slog.String("error", err.Error()))
		return
	}

	leg := ent.Legs[legIndex]
	order := domain.Order{
		ID:   uuid.New().String(),
		Ts:   now,
		Type: domain.TypeOrderNew,
		Payload: domain.OrderPayload{
			CorrID:       corrID,
			LegIndex:     legIndex,
			TIF:          domain.TIFIOC,
			Venue:        leg.Venue,
			InstrumentID: leg.InstrumentID,
			Side:         leg.Side,
			EstPx:        leg.EstPx,
			Size:         leg.Size,
			FeeBps:       leg.FeeBps,
			Mode:         domain.TradeModeFor(ent.Opp.Payload.Paper),
		},
	}

	data, err := json.Marshal(order)
	if err != nil {
		e.logger.Warn("order marshal failed", slog.String("corr_id", corrID), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Append(ctx, domain.StreamOrders, data); err != nil {
		metrics.BusWriteErrors.WithLabelValues("executor").Inc()
		e.logger.Warn("order append failed",
			slog.String("corr_id", corrID),
			slog.Int("leg_index", legIndex),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.ExecutorOrders.Inc()
	e.logger.Debug("order sent",
		slog.String("corr_id", corrID),
		slog.Int("leg_index", legIndex),
		slog.String("side", string(leg.Side)),
		slog.String("venue", leg.Venue),
	)
}

// fillLoop consumes fills and advances the state machine. Every fill is
// acknowledged; fills with no matching inflight entry (a race after a toggle
// flush or TTL eviction) are dropped after acknowledgement.
func (e *Executor) fillLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := e.bus.ReadGroup(ctx, domain.StreamFills, domain.GroupExecutor, e.cfg.Consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("fill read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			e.handleFill(ctx, entry)
			if err := e.bus.Ack(ctx, domain.StreamFills, domain.GroupExecutor, entry.ID); err != nil {
				e.logger.Warn("fill ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Executor) handleFill(ctx context.Context, entry domain.StreamEntry) {
	var fill domain.Fill
	if err := json.Unmarshal(entry.Payload, &fill); err != nil {
		metrics.ParseErrors.WithLabelValues("executor").Inc()
		e.logger.Warn("fill parse failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
		return
	}
	p := fill.Payload

	e.mu.Lock()
	ent, ok := e.inflight[p.CorrID]
	if !ok {
		e.mu.Unlock()
		metrics.OrphanFills.Inc()
		e.logger.Debug("fill without inflight entry dropped", slog.String("corr_id", p.CorrID))
		return
	}
	if p.LegIndex < 0 || p.LegIndex >= len(ent.Fills) {
		e.mu.Unlock()
		metrics.ParseErrors.WithLabelValues("executor").Inc()
		e.logger.Warn("fill leg index out of range",
			slog.String("corr_id", p.CorrID),
			slog.Int("leg_index", p.LegIndex),
		)
		return
	}
	ent.Fills[p.LegIndex] = &p

	switch {
	case p.LegIndex == 0 && p.FilledSize <= 0:
		// Protective leg did not fill: abandon without exposure.
		delete(e.inflight, p.CorrID)
		e.mu.Unlock()
		metrics.ExecutorAborts.WithLabelValues("zero_fill").Inc()
		e.logger.Info("protective leg unfilled, aborted", slog.String("corr_id", p.CorrID))

	case p.LegIndex == ent.terminalIndex():
		delete(e.inflight, p.CorrID)
		e.mu.Unlock()
		e.emitTrade(ctx, p.CorrID, ent)

	default:
		next := p.LegIndex + 1
		e.mu.Unlock()
		e.sendOrder(ctx, p.CorrID, next, ent)
	}
}

// emitTrade computes the realized PnL at the terminal fill and emits a trade
// when it strictly exceeds the configured floor. A trade below the floor is
// discarded silently; the fill stays acknowledged.
func (e *Executor) emitTrade(ctx context.Context, corrID string, ent *inflightEntry) {
	pnl := ent.realizedPnl()
	if pnl <= e.cfg.MinRealizedPnl {
		e.logger.Debug("trade below pnl floor discarded",
			slog.String("corr_id", corrID),
			slog.Float64("realized_pnl", pnl),
		)
		return
	}

	now, err := e.bus.Now(ctx)
	if err != nil {
		e.logger.Warn("bus clock read failed", slog.String("error", err.Error()))
		return
	}

	trade := domain.Trade{
		Ts:          now,
		Mode:        domain.TradeModeFor(ent.Opp.Payload.Paper),
		Legs:        ent.filledLegs(),
		RealizedPnl: pnl,
		Taken:       true,
		Approved:    ent.Opp.Approved,
		Source:      domain.SourceExecutor,
	}

	data, err := json.Marshal(trade)
	if err != nil {
		e.logger.Warn("trade marshal failed", slog.String("corr_id", corrID), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Append(ctx, domain.StreamTrades, data); err != nil {
		metrics.BusWriteErrors.WithLabelValues("executor").Inc()
		e.logger.Warn("trade append failed", slog.String("corr_id", corrID), slog.String("error", err.Error()))
		return
	}

	metrics.TradesEmitted.WithLabelValues(domain.SourceExecutor).Inc()
	e.logger.Info("trade emitted",
		slog.String("corr_id", corrID),
		slog.Float64("realized_pnl", pnl),
		slog.String("mode", trade.Mode),
		slog.Bool("approved", trade.Approved),
	)
}

// sweepLoop evicts inflight entries whose terminal fill never arrived, so a
// lost fill cannot grow the table unboundedly.
func (e *Executor) sweepLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.InflightTTLMs/2) * time.Millisecond
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now, err := e.bus.Now(ctx)
		if err != nil {
			continue
		}

		e.mu.Lock()
		for corrID, ent := range e.inflight {
			if now-ent.StartedTs > e.cfg.InflightTTLMs {
				delete(e.inflight, corrID)
				metrics.ExecutorAborts.WithLabelValues("ttl_evicted").Inc()
				e.logger.Warn("inflight entry evicted",
					slog.String("corr_id", corrID),
					slog.Int64("age_ms", now-ent.StartedTs),
				)
			}
		}
		e.mu.Unlock()
	}
}

// InflightSize reports the current inflight table size. Used by tests.
func (e *Executor) InflightSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}
