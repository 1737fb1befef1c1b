package scanner

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/crossarb/internal/bus/memory"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() config.ScannerConfig {
	return config.ScannerConfig{
		Venues:           []string{"binance", "bybit"},
		IntervalMs:       100,
		MaxSymbols:       10,
		DiscoverEverySec: 3600,
		MinGrossBps:      10,
		MinNetBps:        2,
		MaxBookAgeMs:     60_000,
		EmitRatePerSec:   1000,
		EmitBurst:        1000,
		SizePerLeg:       1,
		Paper:            true,
		EmitStream:       domain.StreamOpportunities,
		RiskStream:       domain.StreamScannerToRisk,
	}
}

func seedQuotes(m *memory.Memory, symbol string, binance, bybit domain.QuoteSnapshot) {
	now, _ := m.Now(context.Background())
	if binance.Ts == 0 {
		binance.Ts = now
	}
	if bybit.Ts == 0 {
		bybit.Ts = now
	}
	m.SetSymbols("binance", []string{symbol}, time.Minute)
	m.SetSymbols("bybit", []string{symbol}, time.Minute)
	m.SetQuote("binance", symbol, binance, time.Minute)
	m.SetQuote("bybit", symbol, bybit, time.Minute)
}

func decodeOpps(t *testing.T, entries []domain.StreamEntry) []domain.Opportunity {
	t.Helper()
	out := make([]domain.Opportunity, 0, len(entries))
	for _, e := range entries {
		var opp domain.Opportunity
		if err := json.Unmarshal(e.Payload, &opp); err != nil {
			t.Fatalf("unmarshal opportunity: %v", err)
		}
		out = append(out, opp)
	}
	return out
}

func TestScanTickEmitsProfitablePath(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	seedQuotes(m, "BTCUSDT",
		domain.QuoteSnapshot{Bid: 99.9, Ask: 100},
		domain.QuoteSnapshot{Bid: 101, Ask: 101.1},
	)

	s := New(m, m, baseConfig(), testLogger())
	s.scanTick(ctx)

	opps := decodeOpps(t, m.Entries(domain.StreamOpportunities))
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1 (only the buy-binance path is profitable)", len(opps))
	}

	opp := opps[0]
	if !opp.Payload.Paper {
		t.Error("paper flag must carry through")
	}
	buy, sell, ok := opp.Payload.BuySellLegs()
	if !ok {
		t.Fatal("emitted opportunity must have both sides")
	}
	if buy.Venue != "binance" || buy.EstPx != 100 {
		t.Errorf("buy leg = %+v, want binance at ask 100", buy)
	}
	if sell.Venue != "bybit" || sell.EstPx != 101 {
		t.Errorf("sell leg = %+v, want bybit at bid 101", sell)
	}

	// The risk stream receives a second copy of the same opportunity.
	riskOpps := decodeOpps(t, m.Entries(domain.StreamScannerToRisk))
	if len(riskOpps) != 1 || riskOpps[0].ID != opp.ID {
		t.Error("risk stream copy missing or mismatched")
	}
}

func TestScanTickPathSymmetry(t *testing.T) {
	// Swapping venue quotes must flip which path qualifies and produce the
	// same edge magnitude.
	ctx := context.Background()
	cfg := baseConfig()

	emit := func(q1, q2 domain.QuoteSnapshot) domain.Opportunity {
		m := memory.New(domain.Toggles{Mode: domain.ModePaper})
		seedQuotes(m, "BTCUSDT", q1, q2)
		s := New(m, m, cfg, testLogger())
		s.scanTick(ctx)
		opps := decodeOpps(t, m.Entries(domain.StreamOpportunities))
		if len(opps) != 1 {
			t.Fatalf("got %d opportunities, want 1", len(opps))
		}
		return opps[0]
	}

	cheap := domain.QuoteSnapshot{Bid: 99.9, Ask: 100}
	rich := domain.QuoteSnapshot{Bid: 101, Ask: 101.1}

	a := emit(cheap, rich)
	b := emit(rich, cheap)

	if a.Payload.EdgeBps != b.Payload.EdgeBps {
		t.Errorf("edge magnitudes differ: %v vs %v", a.Payload.EdgeBps, b.Payload.EdgeBps)
	}
	buyA, _, _ := a.Payload.BuySellLegs()
	buyB, _, _ := b.Payload.BuySellLegs()
	if buyA.Venue == buyB.Venue {
		t.Error("buy venue should flip when the quotes swap")
	}
}

func TestScanTickStaleBookDropped(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	now, _ := m.Now(ctx)
	seedQuotes(m, "BTCUSDT",
		domain.QuoteSnapshot{Bid: 99.9, Ask: 100, Ts: now - 120_000},
		domain.QuoteSnapshot{Bid: 101, Ask: 101.1},
	)

	s := New(m, m, baseConfig(), testLogger())
	s.scanTick(ctx)

	if got := len(m.Entries(domain.StreamOpportunities)); got != 0 {
		t.Errorf("stale book emitted %d opportunities, want 0", got)
	}
}

func TestScanTickGrossThresholdInclusive(t *testing.T) {
	// buy at 99.5, sell at 100.5: mid=100, gross=100 bps exactly.
	ctx := context.Background()
	cfg := baseConfig()
	cfg.MinGrossBps = 100
	cfg.MinNetBps = 0

	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	seedQuotes(m, "BTCUSDT",
		domain.QuoteSnapshot{Bid: 99, Ask: 99.5},
		domain.QuoteSnapshot{Bid: 100.5, Ask: 101},
	)
	s := New(m, m, cfg, testLogger())
	s.scanTick(ctx)
	if got := len(m.Entries(domain.StreamOpportunities)); got != 1 {
		t.Errorf("edge exactly at threshold emitted %d, want 1 (inclusive >=)", got)
	}

	cfg.MinGrossBps = 100.01
	m2 := memory.New(domain.Toggles{Mode: domain.ModePaper})
	seedQuotes(m2, "BTCUSDT",
		domain.QuoteSnapshot{Bid: 99, Ask: 99.5},
		domain.QuoteSnapshot{Bid: 100.5, Ask: 101},
	)
	s2 := New(m2, m2, cfg, testLogger())
	s2.scanTick(ctx)
	if got := len(m2.Entries(domain.StreamOpportunities)); got != 0 {
		t.Errorf("edge below threshold emitted %d, want 0", got)
	}
}

func TestScanTickTakerFeesReduceNet(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.MinGrossBps = 10
	cfg.MinNetBps = 90
	// gross is ~99.5 bps; 20 bps of taker fees pull net under the floor.
	cfg.TakerBps = map[string]float64{"binance": 10, "bybit": 10}

	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	seedQuotes(m, "BTCUSDT",
		domain.QuoteSnapshot{Bid: 99.9, Ask: 100},
		domain.QuoteSnapshot{Bid: 101, Ask: 101.1},
	)
	s := New(m, m, cfg, testLogger())
	s.scanTick(ctx)
	if got := len(m.Entries(domain.StreamOpportunities)); got != 0 {
		t.Errorf("net below floor emitted %d, want 0", got)
	}
}

func TestScanTickRateLimiterDrops(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.EmitRatePerSec = 1
	cfg.EmitBurst = 1

	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	now, _ := m.Now(ctx)
	m.SetSymbols("binance", []string{"AAAUSDT", "BBBUSDT"}, time.Minute)
	m.SetSymbols("bybit", []string{"AAAUSDT", "BBBUSDT"}, time.Minute)
	for _, sym := range []string{"AAAUSDT", "BBBUSDT"} {
		m.SetQuote("binance", sym, domain.QuoteSnapshot{Bid: 99.9, Ask: 100, Ts: now}, time.Minute)
		m.SetQuote("bybit", sym, domain.QuoteSnapshot{Bid: 101, Ask: 101.1, Ts: now}, time.Minute)
	}

	s := New(m, m, cfg, testLogger())
	s.scanTick(ctx)

	if got := len(m.Entries(domain.StreamOpportunities)); got != 1 {
		t.Errorf("rate-limited tick emitted %d, want 1", got)
	}
}

func TestScanTickEmptyUniverseDoesNothing(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	// Only one venue publishes symbols.
	m.SetSymbols("binance", []string{"BTCUSDT"}, time.Minute)

	s := New(m, m, baseConfig(), testLogger())
	s.scanTick(ctx)

	if got := len(m.Entries(domain.StreamOpportunities)); got != 0 {
		t.Errorf("empty universe emitted %d, want 0", got)
	}
}

func TestScanTickOptionsCanonicalEmission(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Options = true

	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	now, _ := m.Now(ctx)
	m.SetSymbols("binance", []string{"BTC-240927-19000-C"}, time.Minute)
	m.SetSymbols("bybit", []string{"BTC-27SEP24-19000-C"}, time.Minute)
	m.SetQuote("binance", "BTC-240927-19000-C", domain.QuoteSnapshot{Bid: 99.9, Ask: 100, Ts: now}, time.Minute)
	m.SetQuote("bybit", "BTC-27SEP24-19000-C", domain.QuoteSnapshot{Bid: 101, Ask: 101.1, Ts: now}, time.Minute)

	s := New(m, m, cfg, testLogger())
	s.scanTick(ctx)

	opps := decodeOpps(t, m.Entries(domain.StreamOpportunities))
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	for _, leg := range opps[0].Payload.Legs {
		if leg.InstrumentID != "BTC-2024-09-27-19000-C" {
			t.Errorf("leg instrument = %q, want canonical id", leg.InstrumentID)
		}
	}
}
