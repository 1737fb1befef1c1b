package domain

// QuoteSnapshot is the normalized top-of-book for one (venue, instrument),
// written by external market-data adapters to the key-value view with a TTL.
// Read-only to the core.
type QuoteSnapshot struct {
	Venue        string  `json:"venue,omitempty"`
	InstrumentID string  `json:"instrumentId,omitempty"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Ts           int64   `json:"ts"`
}

// QuoteKey addresses a snapshot in the quote view.
type QuoteKey struct {
	Venue        string
	InstrumentID string
}
