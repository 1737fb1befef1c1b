package executor

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

func execConfig(autoTrade bool) config.ExecutorConfig {
	return config.ExecutorConfig{
		MinRealizedPnl:  0,
		InflightTTLMs:   60_000,
		ToggleRefreshMs: 20,
		Consumer:        "exec-test",
		AutoTrade:       autoTrade,
		TradeMode:       domain.ModePaper,
	}
}

func twoLegOpportunity(approved bool) domain.Opportunity {
	return domain.Opportunity{
		ID:       "opp-1",
		Ts:       1710000000000,
		Approved: approved,
		Payload: domain.OpportunityPayload{
			Paper:   true,
			EdgeBps: 250,
			Legs: []domain.Leg{
				{Venue: "binance", InstrumentID: "BTCUSDT", Side: domain.SideBuy, EstPx: 100, Size: 1},
				{Venue: "bybit", InstrumentID: "BTCUSDT", Side: domain.SideSell, EstPx: 101, Size: 1},
			},
		},
	}
}

// startExecutor runs an Executor against the memory bus and returns a stop
// function that cancels it and waits for shutdown.
func startExecutor(t *testing.T, m *memory.Memory, cfg config.ExecutorConfig) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := New(m, m, cfg, testLogger())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeOrders(t *testing.T, m *memory.Memory) []domain.Order {
	t.Helper()
	entries := m.Entries(domain.StreamOrders)
	out := make([]domain.Order, 0, len(entries))
	for _, e := range entries {
		var o domain.Order
		if err := json.Unmarshal(e.Payload, &o); err != nil {
			t.Fatalf("unmarshal order: %v", err)
		}
		out = append(out, o)
	}
	return out
}

func appendFill(t *testing.T, m *memory.Memory, order domain.Order, filledSize float64) {
	t.Helper()
	p := order.Payload
	fill := domain.Fill{
		ID:   "fill-" + order.ID,
		Ts:   order.Ts + 1,
		Type: domain.TypeOrderFill,
		Payload: domain.FillPayload{
			CorrID:        p.CorrID,
			LegIndex:      p.LegIndex,
			Venue:         p.Venue,
			InstrumentID:  p.InstrumentID,
			Side:          p.Side,
			Px:            p.EstPx,
			RequestedSize: p.Size,
			FilledSize:    filledSize,
			Mode:          p.Mode,
		},
	}
	data, _ := json.Marshal(fill)
	if err := m.Append(context.Background(), domain.StreamFills, data); err != nil {
		t.Fatal(err)
	}
}

func TestHappyPathThroughApprovedStream(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{AutoTrade: false, Mode: domain.ModePaper})

	data, _ := json.Marshal(twoLegOpportunity(true))
	if err := m.Append(ctx, domain.StreamApproved, data); err != nil {
		t.Fatal(err)
	}

	startExecutor(t, m, execConfig(false))

	// Protective ordering: the SELL leg goes out first.
	waitFor(t, "first order", func() bool { return len(m.Entries(domain.StreamOrders)) == 1 })
	orders := decodeOrders(t, m)
	if orders[0].Payload.Side != domain.SideSell || orders[0].Payload.LegIndex != 0 {
		t.Fatalf("first order = %+v, want SELL at leg 0", orders[0].Payload)
	}
	if orders[0].Payload.TIF != domain.TIFIOC {
		t.Errorf("tif = %q, want IOC", orders[0].Payload.TIF)
	}

	appendFill(t, m, orders[0], 1)

	waitFor(t, "second order", func() bool { return len(m.Entries(domain.StreamOrders)) == 2 })
	orders = decodeOrders(t, m)
	if orders[1].Payload.Side != domain.SideBuy || orders[1].Payload.LegIndex != 1 {
		t.Fatalf("second order = %+v, want BUY at leg 1", orders[1].Payload)
	}
	if orders[1].Payload.CorrID != orders[0].Payload.CorrID {
		t.Error("legs must share a correlation id")
	}

	appendFill(t, m, orders[1], 1)

	waitFor(t, "trade", func() bool { return len(m.Entries(domain.StreamTrades)) == 1 })
	var trade domain.Trade
	if err := json.Unmarshal(m.Entries(domain.StreamTrades)[0].Payload, &trade); err != nil {
		t.Fatal(err)
	}
	if trade.RealizedPnl != 1.0 {
		t.Errorf("realizedPnl = %v, want 1.0", trade.RealizedPnl)
	}
	if trade.Mode != domain.ModePaper || !trade.Taken || !trade.Approved || trade.Source != domain.SourceExecutor {
		t.Errorf("trade metadata wrong: %+v", trade)
	}
}

func TestZeroFillAbortsWithoutTrade(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{AutoTrade: false, Mode: domain.ModePaper})

	data, _ := json.Marshal(twoLegOpportunity(true))
	if err := m.Append(ctx, domain.StreamApproved, data); err != nil {
		t.Fatal(err)
	}

	e := New(m, m, execConfig(false), testLogger())
	ctx2, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = e.Run(ctx2); close(done) }()
	defer func() { cancel(); <-done }()

	waitFor(t, "first order", func() bool { return len(m.Entries(domain.StreamOrders)) == 1 })
	orders := decodeOrders(t, m)
	appendFill(t, m, orders[0], 0)

	waitFor(t, "inflight cleanup", func() bool { return e.InflightSize() == 0 })

	// No leg-1 order and no trade may follow the zero fill.
	time.Sleep(50 * time.Millisecond)
	if got := len(m.Entries(domain.StreamOrders)); got != 1 {
		t.Errorf("orders = %d, want 1 (no second leg after zero fill)", got)
	}
	if got := len(m.Entries(domain.StreamTrades)); got != 0 {
		t.Errorf("trades = %d, want 0", got)
	}
	if got := m.PendingCount(domain.StreamFills, domain.GroupExecutor); got != 0 {
		t.Errorf("fill left pending = %d, want 0", got)
	}
}

func TestToggleFlipFlushesInflight(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{AutoTrade: true, Mode: domain.ModePaper})

	data, _ := json.Marshal(twoLegOpportunity(false))
	if err := m.Append(ctx, domain.StreamOpportunities, data); err != nil {
		t.Fatal(err)
	}

	e := New(m, m, execConfig(true), testLogger())
	ctx2, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = e.Run(ctx2); close(done) }()
	defer func() { cancel(); <-done }()

	waitFor(t, "first order", func() bool { return len(m.Entries(domain.StreamOrders)) == 1 })
	if e.InflightSize() != 1 {
		t.Fatalf("inflight = %d, want 1", e.InflightSize())
	}

	// Flip the toggle before the fill arrives; the flush clears the entry.
	if err := m.SetAutoTrade(ctx, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "inflight flush", func() bool { return e.InflightSize() == 0 })

	// The late fill finds no inflight entry: acknowledged, dropped.
	orders := decodeOrders(t, m)
	appendFill(t, m, orders[0], 1)
	waitFor(t, "fill ack", func() bool {
		return len(m.Entries(domain.StreamFills)) == 1 &&
			m.PendingCount(domain.StreamFills, domain.GroupExecutor) == 0
	})

	time.Sleep(50 * time.Millisecond)
	if got := len(m.Entries(domain.StreamOrders)); got != 1 {
		t.Errorf("orders after toggle flush = %d, want 1", got)
	}
	if got := len(m.Entries(domain.StreamTrades)); got != 0 {
		t.Errorf("trades after toggle flush = %d, want 0", got)
	}
}

func TestSingleLegTradeOnFirstFill(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{AutoTrade: false, Mode: domain.ModePaper})

	opp := twoLegOpportunity(true)
	opp.Payload.Legs = opp.Payload.Legs[1:] // SELL leg only
	data, _ := json.Marshal(opp)
	if err := m.Append(ctx, domain.StreamApproved, data); err != nil {
		t.Fatal(err)
	}

	startExecutor(t, m, execConfig(false))

	waitFor(t, "order", func() bool { return len(m.Entries(domain.StreamOrders)) == 1 })
	orders := decodeOrders(t, m)
	appendFill(t, m, orders[0], 1)

	waitFor(t, "trade", func() bool { return len(m.Entries(domain.StreamTrades)) == 1 })
	var trade domain.Trade
	if err := json.Unmarshal(m.Entries(domain.StreamTrades)[0].Payload, &trade); err != nil {
		t.Fatal(err)
	}
	if trade.RealizedPnl != 101.0 {
		t.Errorf("realizedPnl = %v, want 101 (one sell fill, no costs)", trade.RealizedPnl)
	}
}

func TestPnlFloorSuppressesTrade(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{AutoTrade: false, Mode: domain.ModePaper})

	data, _ := json.Marshal(twoLegOpportunity(true))
	if err := m.Append(ctx, domain.StreamApproved, data); err != nil {
		t.Fatal(err)
	}

	cfg := execConfig(false)
	cfg.MinRealizedPnl = 5 // pnl of 1.0 must not clear this floor

	e := New(m, m, cfg, testLogger())
	ctx2, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = e.Run(ctx2); close(done) }()
	defer func() { cancel(); <-done }()

	waitFor(t, "first order", func() bool { return len(m.Entries(domain.StreamOrders)) == 1 })
	appendFill(t, m, decodeOrders(t, m)[0], 1)
	waitFor(t, "second order", func() bool { return len(m.Entries(domain.StreamOrders)) == 2 })
	appendFill(t, m, decodeOrders(t, m)[1], 1)

	waitFor(t, "inflight cleanup", func() bool { return e.InflightSize() == 0 })
	time.Sleep(50 * time.Millisecond)
	if got := len(m.Entries(domain.StreamTrades)); got != 0 {
		t.Errorf("trades = %d, want 0 (below pnl floor)", got)
	}
}

func TestInflightTTLEviction(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{AutoTrade: false, Mode: domain.ModePaper})

	data, _ := json.Marshal(twoLegOpportunity(true))
	if err := m.Append(ctx, domain.StreamApproved, data); err != nil {
		t.Fatal(err)
	}

	cfg := execConfig(false)
	cfg.InflightTTLMs = 200 // sweep runs at the 1s minimum interval

	e := New(m, m, cfg, testLogger())
	ctx2, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = e.Run(ctx2); close(done) }()
	defer func() { cancel(); <-done }()

	waitFor(t, "first order", func() bool { return len(m.Entries(domain.StreamOrders)) == 1 })
	if e.InflightSize() != 1 {
		t.Fatalf("inflight = %d, want 1", e.InflightSize())
	}

	// No fill ever arrives; the sweep evicts the entry.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && e.InflightSize() != 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if e.InflightSize() != 0 {
		t.Error("inflight entry not evicted after TTL")
	}
}

func TestSelectStream(t *testing.T) {
	if got := SelectStream(domain.Toggles{AutoTrade: true}); got != domain.StreamOpportunities {
		t.Errorf("auto-trade selection = %q, want pre-risk stream", got)
	}
	if got := SelectStream(domain.Toggles{AutoTrade: false}); got != domain.StreamApproved {
		t.Errorf("manual selection = %q, want approved stream", got)
	}
}
