package risk

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

func fptr(v float64) *float64 { return &v }

func policy() config.RiskConfig {
	return config.RiskConfig{
		EdgeMinBps:       20,
		NetMinBps:        5,
		MaxTotalSize:     10,
		RequireBothSides: true,
		AllowPaperOnly:   true,
	}
}

func candidate() domain.Opportunity {
	return domain.Opportunity{
		ID: "opp-1",
		Ts: 1710000000000,
		Payload: domain.OpportunityPayload{
			Paper:   true,
			EdgeBps: 50,
			Legs: []domain.Leg{
				{Venue: "binance", InstrumentID: "BTCUSDT", Side: domain.SideBuy, EstPx: 100, Size: 1, FeeBps: fptr(7.5)},
				{Venue: "bybit", InstrumentID: "BTCUSDT", Side: domain.SideSell, EstPx: 101, Size: 1, FeeBps: fptr(10)},
			},
		},
	}
}

func TestEvaluateApproves(t *testing.T) {
	d := Evaluate(policy(), candidate())
	if !d.Approve {
		t.Fatalf("expected approval, got reason %q", d.Reason)
	}
	if d.TotalFeesLikeBps != 17.5 {
		t.Errorf("TotalFeesLikeBps = %v, want 17.5", d.TotalFeesLikeBps)
	}
	if d.NetBps != 32.5 {
		t.Errorf("NetBps = %v, want 32.5", d.NetBps)
	}
}

func TestEvaluateRejectionReasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.RiskConfig, *domain.Opportunity)
		want   string
	}{
		{
			"paper_not_allowed",
			func(cfg *config.RiskConfig, opp *domain.Opportunity) { cfg.AllowPaperOnly = false },
			ReasonPaperNotAllowed,
		},
		{
			"missing_side",
			func(cfg *config.RiskConfig, opp *domain.Opportunity) {
				opp.Payload.Legs = opp.Payload.Legs[:1]
			},
			ReasonMissingSide,
		},
		{
			"size_cap",
			func(cfg *config.RiskConfig, opp *domain.Opportunity) {
				opp.Payload.Legs[0].Size = 6
				opp.Payload.Legs[1].Size = 6
			},
			ReasonSizeCap,
		},
		{
			"edge_below_threshold",
			func(cfg *config.RiskConfig, opp *domain.Opportunity) { opp.Payload.EdgeBps = 5 },
			ReasonEdgeBelowMin,
		},
		{
			"net_below_threshold",
			func(cfg *config.RiskConfig, opp *domain.Opportunity) {
				opp.Payload.Legs[0].FeeBps = fptr(30)
				opp.Payload.Legs[1].FeeBps = fptr(30)
			},
			ReasonNetBelowMin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := policy()
			opp := candidate()
			tt.mutate(&cfg, &opp)
			d := Evaluate(cfg, opp)
			if d.Approve {
				t.Fatal("expected rejection")
			}
			if d.Reason != tt.want {
				t.Errorf("reason = %q, want %q", d.Reason, tt.want)
			}
		})
	}
}

func TestEvaluateEdgeThresholdInclusive(t *testing.T) {
	cfg := policy()
	cfg.NetMinBps = 0
	opp := candidate()
	opp.Payload.EdgeBps = cfg.EdgeMinBps
	if d := Evaluate(cfg, opp); !d.Approve {
		t.Errorf("edge exactly at threshold should approve, got %q", d.Reason)
	}
}

func TestEvaluateSizesOptional(t *testing.T) {
	cfg := policy()
	opp := candidate()
	opp.Payload.Legs[0].Size = 0
	opp.Payload.Legs[1].Size = 0
	if d := Evaluate(cfg, opp); !d.Approve {
		t.Errorf("cap must not apply when sizes are absent, got %q", d.Reason)
	}
}

// runEngine drives the engine until cond holds or the deadline passes.
func runEngine(t *testing.T, m *memory.Memory, cfg config.RiskConfig, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(m, cfg, "risk-test", testLogger())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

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

func TestEngineApprovesAndRepublishes(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})

	data, _ := json.Marshal(candidate())
	if err := m.Append(ctx, domain.StreamScannerToRisk, data); err != nil {
		t.Fatal(err)
	}

	runEngine(t, m, policy(), func() bool {
		return len(m.Entries(domain.StreamApproved)) == 1 &&
			m.PendingCount(domain.StreamScannerToRisk, domain.GroupRisk) == 0
	})

	var approved domain.Opportunity
	if err := json.Unmarshal(m.Entries(domain.StreamApproved)[0].Payload, &approved); err != nil {
		t.Fatal(err)
	}
	if !approved.Approved {
		t.Error("approved flag not set")
	}
	if approved.ID != "opp-1" {
		t.Errorf("id = %q, want opp-1", approved.ID)
	}
	if approved.Risk == nil {
		t.Fatal("risk block missing")
	}
	if approved.Risk.NetBps != 32.5 || approved.Risk.EdgeMinBps != 20 {
		t.Errorf("risk block wrong: %+v", approved.Risk)
	}
	if got := m.PendingCount(domain.StreamScannerToRisk, domain.GroupRisk); got != 0 {
		t.Errorf("pending after processing = %d, want 0", got)
	}
}

func TestEngineRejectsWithoutRepublish(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})

	rejected := candidate()
	rejected.ID = "opp-rejected"
	rejected.Payload.EdgeBps = 5
	data, _ := json.Marshal(rejected)
	if err := m.Append(ctx, domain.StreamScannerToRisk, data); err != nil {
		t.Fatal(err)
	}

	// A second, approvable opportunity marks the end of processing: stream
	// order guarantees the rejection was handled first.
	sentinel := candidate()
	sentinel.ID = "opp-sentinel"
	data, _ = json.Marshal(sentinel)
	if err := m.Append(ctx, domain.StreamScannerToRisk, data); err != nil {
		t.Fatal(err)
	}

	runEngine(t, m, policy(), func() bool {
		return len(m.Entries(domain.StreamApproved)) == 1 &&
			m.PendingCount(domain.StreamScannerToRisk, domain.GroupRisk) == 0
	})

	var approved domain.Opportunity
	if err := json.Unmarshal(m.Entries(domain.StreamApproved)[0].Payload, &approved); err != nil {
		t.Fatal(err)
	}
	if approved.ID != "opp-sentinel" {
		t.Errorf("approved id = %q; the rejected opportunity must not be republished", approved.ID)
	}
	if got := m.PendingCount(domain.StreamScannerToRisk, domain.GroupRisk); got != 0 {
		t.Errorf("pending after processing = %d, want 0 (rejections are acknowledged)", got)
	}
}

func TestEngineAcksPoisonMessages(t *testing.T) {
	ctx := context.Background()
	m := memory.New(domain.Toggles{Mode: domain.ModePaper})

	if err := m.Append(ctx, domain.StreamScannerToRisk, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	sentinel := candidate()
	sentinel.ID = "opp-after-poison"
	data, _ := json.Marshal(sentinel)
	if err := m.Append(ctx, domain.StreamScannerToRisk, data); err != nil {
		t.Fatal(err)
	}

	runEngine(t, m, policy(), func() bool {
		return len(m.Entries(domain.StreamApproved)) == 1 &&
			m.PendingCount(domain.StreamScannerToRisk, domain.GroupRisk) == 0
	})
}
