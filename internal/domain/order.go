package domain

// Envelope type tags carried in the "type" field of Order and Fill entries.
const (
	TypeOrderNew  = "order.new"
	TypeOrderFill = "order.fill"
)

// TIFIOC is the only time-in-force the executor emits: any unfilled portion
// is cancelled immediately, so an order is never retried or replayed.
const TIFIOC = "IOC"

// OrderPayload is the inner body of an Order envelope. CorrID links the order
// back to its parent Opportunity; LegIndex is the position in the executor's
// protective-first ordering.
type OrderPayload struct {
	CorrID       string   `json:"corrId"`
	LegIndex     int      `json:"legIndex"`
	TIF          string   `json:"tif"`
	Venue        string   `json:"exchange"`
	InstrumentID string   `json:"instrumentId"`
	Side         Side     `json:"side"`
	EstPx        float64  `json:"estPx"`
	Size         float64  `json:"size"`
	FeeBps       *float64 `json:"feeBps,omitempty"`
	Mode         string   `json:"mode,omitempty"`
}

// Order is emitted by the executor on orders.new and consumed by the
// simulator.
type Order struct {
	ID      string       `json:"id"`
	Ts      int64        `json:"ts"`
	Type    string       `json:"type"`
	Payload OrderPayload `json:"payload"`
}
