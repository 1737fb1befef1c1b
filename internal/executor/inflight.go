package executor

import (
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// inflightEntry tracks one opportunity between its first order and the
// terminal fill. Fills is indexed by legIndex in the protective-first
// ordering.
type inflightEntry struct {
	Opp       domain.Opportunity
	Legs      []domain.Leg
	Fills     []*domain.FillPayload
	StartedTs int64
}

// terminalIndex is the leg index whose fill completes the round trip.
func (e *inflightEntry) terminalIndex() int {
	return len(e.Legs) - 1
}

// realizedPnl computes the trade PnL from the recorded fills:
//
//	gross = Σ sgn(side)·px·filledSize   with sgn(SELL)=+1, sgn(BUY)=−1
//	fees  = (costs.fees+slippage+borrow) · (Σ filledSize · mid)
//
// mid comes from the opportunity's estimated prices, not the fills, so the
// fee base matches what the scanner admitted.
func (e *inflightEntry) realizedPnl() float64 {
	var gross, qty float64
	for _, f := range e.Fills {
		if f == nil {
			continue
		}
		switch f.Side {
		case domain.SideSell:
			gross += f.Px * f.FilledSize
		case domain.SideBuy:
			gross -= f.Px * f.FilledSize
		}
		qty += f.FilledSize
	}

	var totalFees float64
	if c := e.Opp.Payload.Costs; c != nil {
		if buy, sell, ok := e.Opp.Payload.BuySellLegs(); ok {
			mid := (buy.EstPx + sell.EstPx) / 2
			if mid > 0 && qty > 0 {
				totalFees = (c.Fees + c.Slippage + c.Borrow) * qty * mid
			}
		}
	}
	return gross - totalFees
}

// filledLegs returns the non-nil fills in leg order for trade emission.
func (e *inflightEntry) filledLegs() []domain.FillPayload {
	out := make([]domain.FillPayload, 0, len(e.Fills))
	for _, f := range e.Fills {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}
