// Package scanner polls the quote view on a fixed cadence, computes
// cross-venue edges over the discovered symbol universe, and appends
// qualifying opportunities to the bus.
package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/metrics"
)

// Scanner produces Opportunity entries describing profitable round trips
// across two venues. Quote parse errors, missing sides, stale books, and
// universe absence increment drop counters but never abort the scan loop.
type Scanner struct {
	bus     domain.Bus
	quotes  domain.QuoteView
	cfg     config.ScannerConfig
	logger  *slog.Logger
	limiter *TokenBucket

	pairs          []symbolPair
	lastDiscoverMs int64
}

// New creates a Scanner. cfg must name exactly two venues.
func New(bus domain.Bus, quotes domain.QuoteView, cfg config.ScannerConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		bus:     bus,
		quotes:  quotes,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scanner")),
		limiter: NewTokenBucket(cfg.EmitRatePerSec, cfg.EmitBurst),
	}
}

// Run drives the scan loop until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started",
		slog.String("venue_a", s.cfg.Venues[0]),
		slog.String("venue_b", s.cfg.Venues[1]),
		slog.Int64("interval_ms", s.cfg.IntervalMs),
		slog.Bool("options", s.cfg.Options),
	)
	defer s.logger.Info("scanner stopped")

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanTick(ctx)
		}
	}
}

// scanTick runs one scan pass: refresh the universe when due, batch-fetch all
// quotes in a single multi-get, and evaluate both directional paths per
// symbol.
func (s *Scanner) scanTick(ctx context.Context) {
	tNow, err := s.bus.Now(ctx)
	if err != nil {
		s.logger.Warn("bus clock read failed", slog.String("error", err.Error()))
		return
	}

	if s.lastDiscoverMs == 0 || tNow-s.lastDiscoverMs >= s.cfg.DiscoverEverySec*1000 {
		s.pairs = s.discoverUniverse(ctx)
		s.lastDiscoverMs = tNow
	}
	if len(s.pairs) == 0 {
		metrics.ScannerDrops.WithLabelValues("no_universe").Inc()
		return
	}

	venueA, venueB := s.cfg.Venues[0], s.cfg.Venues[1]
	keys := make([]domain.QuoteKey, 0, 2*len(s.pairs))
	for _, p := range s.pairs {
		keys = append(keys,
			domain.QuoteKey{Venue: venueA, InstrumentID: p.NativeA},
			domain.QuoteKey{Venue: venueB, InstrumentID: p.NativeB},
		)
	}

	quotes, err := s.quotes.Quotes(ctx, keys)
	if err != nil {
		s.logger.Warn("quote fetch failed", slog.String("error", err.Error()))
		return
	}

	for _, p := range s.pairs {
		qA, okA := quotes[domain.QuoteKey{Venue: venueA, InstrumentID: p.NativeA}]
		qB, okB := quotes[domain.QuoteKey{Venue: venueB, InstrumentID: p.NativeB}]
		if !okA || !okB {
			metrics.ScannerDrops.WithLabelValues("missing_quote").Inc()
			continue
		}
		if tNow-qA.Ts > s.cfg.MaxBookAgeMs || tNow-qB.Ts > s.cfg.MaxBookAgeMs {
			metrics.ScannerDrops.WithLabelValues("stale_book").Inc()
			continue
		}

		// Path A: BUY on venue A at its ask, SELL on venue B at its bid.
		s.tryEmit(ctx, tNow, p.EmitID, venueA, qA.Ask, venueB, qB.Bid)
		// Path B: the reverse direction.
		s.tryEmit(ctx, tNow, p.EmitID, venueB, qB.Ask, venueA, qA.Bid)
	}
}

// tryEmit evaluates one directional path and appends an Opportunity when it
// clears every admission threshold and the rate limiter.
func (s *Scanner) tryEmit(ctx context.Context, tNow int64, instrumentID, buyVenue string, buyPx float64, sellVenue string, sellPx float64) {
	if buyPx <= 0 || sellPx <= 0 {
		metrics.ScannerDrops.WithLabelValues("missing_side").Inc()
		return
	}

	grossBps, mid, abs := domain.GrossBps(buyPx, sellPx)
	feesBps := s.cfg.TakerBps[buyVenue] + s.cfg.TakerBps[sellVenue]
	netBps := grossBps - (feesBps + (s.cfg.SlippageFrac+s.cfg.BorrowFrac)*10000)

	if grossBps < s.cfg.MinGrossBps || netBps < s.cfg.MinNetBps ||
		abs < s.cfg.MinAbsSpread || mid < s.cfg.MinNotional {
		return
	}

	if !s.limiter.Allow() {
		metrics.ScannerDrops.WithLabelValues("rate_limited").Inc()
		return
	}

	opp := domain.Opportunity{
		ID: uuid.New().String(),
		Ts: tNow,
		Payload: domain.OpportunityPayload{
			Paper:   s.cfg.Paper,
			EdgeBps: grossBps,
			Legs: []domain.Leg{
				{
					Venue:        buyVenue,
					InstrumentID: instrumentID,
					Side:         domain.SideBuy,
					EstPx:        buyPx,
					Size:         s.cfg.SizePerLeg,
					FeeBps:       s.takerFee(buyVenue),
				},
				{
					Venue:        sellVenue,
					InstrumentID: instrumentID,
					Side:         domain.SideSell,
					EstPx:        sellPx,
					Size:         s.cfg.SizePerLeg,
					FeeBps:       s.takerFee(sellVenue),
				},
			},
			Costs: &domain.Costs{
				Fees:     feesBps / 10000,
				Slippage: s.cfg.SlippageFrac,
				Borrow:   s.cfg.BorrowFrac,
			},
		},
	}

	data, err := json.Marshal(opp)
	if err != nil {
		s.logger.Warn("opportunity marshal failed", slog.String("error", err.Error()))
		return
	}

	for _, stream := range s.outputStreams() {
		if err := s.bus.Append(ctx, stream, data); err != nil {
			metrics.BusWriteErrors.WithLabelValues("scanner").Inc()
			s.logger.Warn("opportunity append failed",
				slog.String("stream", stream),
				slog.String("error", err.Error()),
			)
		}
	}
	metrics.ScannerEmitted.Inc()

	s.logger.Debug("opportunity emitted",
		slog.String("id", opp.ID),
		slog.String("instrument", instrumentID),
		slog.String("buy_venue", buyVenue),
		slog.String("sell_venue", sellVenue),
		slog.Float64("gross_bps", grossBps),
		slog.Float64("net_bps", netBps),
	)
}

func (s *Scanner) takerFee(venue string) *float64 {
	if fee, ok := s.cfg.TakerBps[venue]; ok {
		return &fee
	}
	return nil
}

func (s *Scanner) outputStreams() []string {
	streams := []string{s.cfg.EmitStream}
	if s.cfg.RiskStream != "" && s.cfg.RiskStream != s.cfg.EmitStream {
		streams = append(streams, s.cfg.RiskStream)
	}
	return streams
}
