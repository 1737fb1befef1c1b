// Package risk applies the policy gate to candidate opportunities and
// re-publishes approved copies.
package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/metrics"
)

// Rejection reason tags.
const (
	ReasonPaperNotAllowed = "paper_mode_not_allowed"
	ReasonMissingSide     = "missing_side"
	ReasonSizeCap         = "size_exceeds_cap"
	ReasonEdgeBelowMin    = "edge_below_threshold"
	ReasonNetBelowMin     = "net_below_threshold"
)

// readBlock and readCount match the consumer-group discipline on
// scanner.to.risk.
const (
	readBlock = time.Second
	readCount = 50
)

// readBackoff is the pause after a transient bus read failure.
const readBackoff = 300 * time.Millisecond

// Decision is the tagged outcome of a policy evaluation. Reason is empty
// when Approve is true.
type Decision struct {
	Approve          bool
	Reason           string
	NetBps           float64
	TotalFeesLikeBps float64
}

// Evaluate applies the policy to one opportunity. Checks run in a fixed
// order; the first failure wins.
func Evaluate(cfg config.RiskConfig, opp domain.Opportunity) Decision {
	if opp.Payload.Paper && !cfg.AllowPaperOnly {
		return Decision{Reason: ReasonPaperNotAllowed}
	}

	buy, sell, haveBoth := opp.Payload.BuySellLegs()
	if cfg.RequireBothSides && !haveBoth {
		return Decision{Reason: ReasonMissingSide}
	}

	if total := opp.Payload.TotalSize(); total > 0 && cfg.MaxTotalSize > 0 && total > cfg.MaxTotalSize {
		return Decision{Reason: ReasonSizeCap}
	}

	grossBps := opp.Payload.EdgeBps
	if grossBps == 0 && haveBoth {
		grossBps, _, _ = domain.GrossBps(buy.EstPx, sell.EstPx)
	}
	if grossBps < cfg.EdgeMinBps {
		return Decision{Reason: ReasonEdgeBelowMin}
	}

	feesLike := opp.Payload.CostBps()
	netBps := grossBps - feesLike
	if netBps < cfg.NetMinBps {
		return Decision{Reason: ReasonNetBelowMin, NetBps: netBps, TotalFeesLikeBps: feesLike}
	}

	return Decision{Approve: true, NetBps: netBps, TotalFeesLikeBps: feesLike}
}

// Engine consumes candidate opportunities from scanner.to.risk (group risk)
// and re-publishes approved ones on arb.approved.
type Engine struct {
	bus      domain.Bus
	cfg      config.RiskConfig
	consumer string
	logger   *slog.Logger
}

// New creates a risk Engine reading as the given consumer name.
func New(bus domain.Bus, cfg config.RiskConfig, consumer string, logger *slog.Logger) *Engine {
	return &Engine{
		bus:      bus,
		cfg:      cfg,
		consumer: consumer,
		logger:   logger.With(slog.String("component", "risk")),
	}
}

// Run drives the consume loop until the context is cancelled. Every consumed
// entry is acknowledged whether approved, rejected, or unparseable, so a
// poison message never blocks the group.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.bus.EnsureGroup(ctx, domain.StreamScannerToRisk, domain.GroupRisk); err != nil {
		return err
	}

	e.logger.Info("risk engine started",
		slog.Float64("edge_min_bps", e.cfg.EdgeMinBps),
		slog.Float64("net_min_bps", e.cfg.NetMinBps),
	)
	defer e.logger.Info("risk engine stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := e.bus.ReadGroup(ctx, domain.StreamScannerToRisk, domain.GroupRisk, e.consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("bus read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			e.process(ctx, entry)
			if err := e.bus.Ack(ctx, domain.StreamScannerToRisk, domain.GroupRisk, entry.ID); err != nil {
				e.logger.Warn("ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) process(ctx context.Context, entry domain.StreamEntry) {
	var opp domain.Opportunity
	if err := json.Unmarshal(entry.Payload, &opp); err != nil {
		metrics.ParseErrors.WithLabelValues("risk").Inc()
		e.logger.Warn("opportunity parse failed",
			slog.String("entry", entry.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	decision := Evaluate(e.cfg, opp)
	if !decision.Approve {
		metrics.RiskRejected.WithLabelValues(decision.Reason).Inc()
		e.logger.Debug("opportunity rejected",
			slog.String("id", opp.ID),
			slog.String("reason", decision.Reason),
		)
		return
	}

	opp.Approved = true
	opp.Risk = &domain.RiskBlock{
		NetBps:           decision.NetBps,
		TotalFeesLikeBps: decision.TotalFeesLikeBps,
		EdgeMinBps:       e.cfg.EdgeMinBps,
		NetMinBps:        e.cfg.NetMinBps,
		MaxTotalSize:     e.cfg.MaxTotalSize,
	}

	data, err := json.Marshal(opp)
	if err != nil {
		e.logger.Warn("approved opportunity marshal failed", slog.String("id", opp.ID), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Append(ctx, domain.StreamApproved, data); err != nil {
		metrics.BusWriteErrors.WithLabelValues("risk").Inc()
		e.logger.Warn("approved opportunity append failed",
			slog.String("id", opp.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.RiskApproved.Inc()
	e.logger.Info("opportunity approved",
		slog.String("id", opp.ID),
		slog.Float64("net_bps", decision.NetBps),
	)
}
