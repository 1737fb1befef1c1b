package executor

import "github.com/alanyoungcy/crossarb/internal/domain"

// ProtectiveFirst reorders legs so the first SELL leg moves to index 0,
// keeping the remainder in stable order. The short leg carries the higher
// inventory risk, so it is tested first: if it does not fill, no resting long
// exposure is ever created. Legs without a SELL side are returned in their
// original order.
func ProtectiveFirst(legs []domain.Leg) []domain.Leg {
	for i, l := range legs {
		if l.Side != domain.SideSell {
			continue
		}
		out := make([]domain.Leg, 0, len(legs))
		out = append(out, legs[i])
		out = append(out, legs[:i]...)
		out = append(out, legs[i+1:]...)
		return out
	}
	return append([]domain.Leg(nil), legs...)
}
