package domain

// FillPayload is the inner body of a Fill envelope. The simulator emits at
// most one fill per (corrId, legIndex).
type FillPayload struct {
	CorrID        string  `json:"corrId"`
	LegIndex      int     `json:"legIndex"`
	Venue         string  `json:"exchange"`
	InstrumentID  string  `json:"instrumentId"`
	Side          Side    `json:"side"`
	Px            float64 `json:"px"`
	RequestedSize float64 `json:"requestedSize"`
	FilledSize    float64 `json:"filledSize"`
	Mode          string  `json:"mode,omitempty"`
}

// Fill is emitted by the simulator on orders.fills and consumed by the
// executor and the assembler.
type Fill struct {
	ID      string      `json:"id"`
	Ts      int64       `json:"ts"`
	Type    string      `json:"type"`
	Payload FillPayload `json:"payload"`
}
