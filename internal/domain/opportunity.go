package domain

// Side indicates whether a leg buys or sells.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Leg is one side of a multi-venue round trip. Legs are immutable inside an
// Opportunity; the executor reorders them but never rewrites their fields.
type Leg struct {
	Venue        string   `json:"exchange"`
	InstrumentID string   `json:"instrumentId"`
	Side         Side     `json:"side"`
	EstPx        float64  `json:"estPx"`
	Size         float64  `json:"size"`
	FeeBps       *float64 `json:"feeBps,omitempty"`
}

// Costs carries optional per-opportunity cost estimates. Each field is a
// fraction of notional (0.001 = 10 bps), not bps.
type Costs struct {
	Fees     float64 `json:"fees,omitempty"`
	Slippage float64 `json:"slippage,omitempty"`
	Borrow   float64 `json:"borrow,omitempty"`
}

// OpportunityPayload is the inner body of an Opportunity envelope.
type OpportunityPayload struct {
	Paper   bool    `json:"paper"`
	EdgeBps float64 `json:"edgeBps"`
	Legs    []Leg   `json:"legs"`
	Costs   *Costs  `json:"costs,omitempty"`
}

// RiskBlock records the risk engine's computed values and the policy that was
// active when the opportunity was approved.
type RiskBlock struct {
	NetBps           float64 `json:"netBps"`
	TotalFeesLikeBps float64 `json:"totalFeesLikeBps"`
	EdgeMinBps       float64 `json:"edgeMinBps"`
	NetMinBps        float64 `json:"netMinBps"`
	MaxTotalSize     float64 `json:"maxTotalSize"`
}

// Opportunity is a candidate cross-venue round trip emitted by the scanner.
// The risk engine re-emits an approved copy with Approved=true and Risk set.
type Opportunity struct {
	ID       string             `json:"id"`
	Ts       int64              `json:"ts"`
	Approved bool               `json:"approved,omitempty"`
	Risk     *RiskBlock         `json:"risk,omitempty"`
	Payload  OpportunityPayload `json:"payload"`
}

// BuySellLegs returns the first BUY leg and the first SELL leg, or ok=false
// when either side is missing.
func (p OpportunityPayload) BuySellLegs() (buy, sell *Leg, ok bool) {
	for i := range p.Legs {
		switch p.Legs[i].Side {
		case SideBuy:
			if buy == nil {
				buy = &p.Legs[i]
			}
		case SideSell:
			if sell == nil {
				sell = &p.Legs[i]
			}
		}
	}
	return buy, sell, buy != nil && sell != nil
}

// TotalSize sums the leg sizes. Legs without a size contribute zero.
func (p OpportunityPayload) TotalSize() float64 {
	var total float64
	for _, l := range p.Legs {
		total += l.Size
	}
	return total
}

// FeesBps returns the fee component of the edge in bps: the sum of per-leg
// feeBps when any leg provides one, otherwise costs.fees converted to bps.
func (p OpportunityPayload) FeesBps() float64 {
	var sum float64
	var havePerLeg bool
	for _, l := range p.Legs {
		if l.FeeBps != nil {
			sum += *l.FeeBps
			havePerLeg = true
		}
	}
	if havePerLeg {
		return sum
	}
	if p.Costs != nil {
		return p.Costs.Fees * 10000
	}
	return 0
}

// CostBps returns the total fees-like bps deducted from the gross edge:
// FeesBps plus the slippage and borrow fractions converted to bps.
func (p OpportunityPayload) CostBps() float64 {
	bps := p.FeesBps()
	if p.Costs != nil {
		bps += (p.Costs.Slippage + p.Costs.Borrow) * 10000
	}
	return bps
}

// GrossBps computes the gross edge of buying at buyPx and selling at sellPx,
// in bps of the mid price. It also returns the mid and the absolute spread.
func GrossBps(buyPx, sellPx float64) (grossBps, mid, abs float64) {
	mid = (buyPx + sellPx) / 2
	if mid == 0 {
		return 0, 0, 0
	}
	abs = sellPx - buyPx
	grossBps = abs / mid * 10000
	return grossBps, mid, abs
}
