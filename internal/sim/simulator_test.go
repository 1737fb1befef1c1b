package sim

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/crossarb/internal/bus/memory"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runSim(t *testing.T, m *memory.Memory, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(m, "sim-test", testLogger())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx); close(done) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatal("condition not reached before deadline")
}

func TestSimulatorEmitsFullFill(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})

	order := domain.Order{
		ID:   "ord-1",
		Ts:   1710000000000,
		Type: domain.TypeOrderNew,
		Payload: domain.OrderPayload{
			CorrID:       "corr-1",
			LegIndex:     0,
			TIF:          domain.TIFIOC,
			Venue:        "bybit",
			InstrumentID: "BTCUSDT",
			Side:         domain.SideSell,
			EstPx:        101,
			Size:         2,
			Mode:         domain.ModePaper,
		},
	}
	data, _ := json.Marshal(order)
	if err := m.Append(ctx, domain.StreamOrders, data); err != nil {
		t.Fatal(err)
	}

	runSim(t, m, func() bool {
		return len(m.Entries(domain.StreamFills)) == 1 &&
			m.PendingCount(domain.StreamOrders, domain.GroupSim) == 0
	})

	var fill domain.Fill
	if err := json.Unmarshal(m.Entries(domain.StreamFills)[0].Payload, &fill); err != nil {
		t.Fatal(err)
	}
	p := fill.Payload
	if p.CorrID != "corr-1" || p.LegIndex != 0 {
		t.Errorf("correlation not carried: %+v", p)
	}
	if p.Px != 101 {
		t.Errorf("px = %v, want estPx 101", p.Px)
	}
	if p.RequestedSize != 2 || p.FilledSize != 2 {
		t.Errorf("sizes = (%v, %v), want full fill of 2", p.RequestedSize, p.FilledSize)
	}
	if p.Venue != "bybit" || p.Side != domain.SideSell || p.Mode != domain.ModePaper {
		t.Errorf("fields not copied: %+v", p)
	}
	if fill.Type != domain.TypeOrderFill {
		t.Errorf("type = %q, want %q", fill.Type, domain.TypeOrderFill)
	}
}

func TestSimulatorAcksPoisonOrders(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})

	if err := m.Append(ctx, domain.StreamOrders, []byte("nope")); err != nil {
		t.Fatal(err)
	}
	// A valid order after the poison one marks the end of processing.
	order := domain.Order{
		ID:   "ord-2",
		Type: domain.TypeOrderNew,
		Payload: domain.OrderPayload{
			CorrID: "corr-2", Venue: "binance", InstrumentID: "BTCUSDT",
			Side: domain.SideBuy, EstPx: 100, Size: 1,
		},
	}
	data, _ := json.Marshal(order)
	if err := m.Append(ctx, domain.StreamOrders, data); err != nil {
		t.Fatal(err)
	}

	runSim(t, m, func() bool {
		return len(m.Entries(domain.StreamFills)) == 1 &&
			m.PendingCount(domain.StreamOrders, domain.GroupSim) == 0
	})

	var fill domain.Fill
	if err := json.Unmarshal(m.Entries(domain.StreamFills)[0].Payload, &fill); err != nil {
		t.Fatal(err)
	}
	if fill.Payload.CorrID != "corr-2" {
		t.Errorf("poison order produced a fill: %+v", fill.Payload)
	}
}
