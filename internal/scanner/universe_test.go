package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/crossarb/internal/bus/memory"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestIntersectNative(t *testing.T) {
	pairs := intersectNative(
		[]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		[]string{"ETHUSDT", "BTCUSDT", "XRPUSDT"},
	)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	for _, p := range pairs {
		if p.NativeA != p.NativeB || p.NativeA != p.EmitID {
			t.Errorf("native intersection must keep ids identical: %+v", p)
		}
	}
}

func TestIntersectCanonical(t *testing.T) {
	pairs := intersectCanonical(
		[]string{"BTC-240927-19000-C", "BTC-240927-20000-C", "BTCUSDT"},
		[]string{"BTC-27SEP24-19000-C", "ETH-27SEP24-3500-C"},
	)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	p := pairs[0]
	if p.NativeA != "BTC-240927-19000-C" {
		t.Errorf("NativeA = %q", p.NativeA)
	}
	if p.NativeB != "BTC-27SEP24-19000-C" {
		t.Errorf("NativeB = %q", p.NativeB)
	}
	if p.EmitID != "BTC-2024-09-27-19000-C" {
		t.Errorf("EmitID = %q, want canonical form", p.EmitID)
	}
}

func TestDiscoverUniverseCapAndOrder(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	syms := []string{"DDD", "AAA", "CCC", "BBB"}
	m.SetSymbols("binance", syms, time.Minute)
	m.SetSymbols("bybit", syms, time.Minute)

	cfg := config.ScannerConfig{
		Venues:     []string{"binance", "bybit"},
		MaxSymbols: 2,
	}
	s := New(m, m, cfg, testLogger())

	pairs := s.discoverUniverse(ctx)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want cap of 2", len(pairs))
	}
	if pairs[0].EmitID != "AAA" || pairs[1].EmitID != "BBB" {
		t.Errorf("universe not sorted before capping: %+v", pairs)
	}
}

func TestDiscoverUniverseEmptySide(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})
	m.SetSymbols("binance", []string{"BTCUSDT"}, time.Minute)

	cfg := config.ScannerConfig{Venues: []string{"binance", "bybit"}, MaxSymbols: 10}
	s := New(m, m, cfg, testLogger())

	if pairs := s.discoverUniverse(ctx); len(pairs) != 0 {
		t.Errorf("one-sided discovery yielded %d pairs, want 0", len(pairs))
	}
}
