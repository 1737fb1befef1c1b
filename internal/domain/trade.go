package domain

// Trade modes. A trade's mode comes from the originating opportunity's paper
// flag, never from the global mode toggle at emit time.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Trade sources. The UI tail filters to executor-sourced, taken trades; the
// assembler path is the unfiltered record used by accounting.
const (
	SourceExecutor  = "executor"
	SourceAssembler = "assembler"
)

// Trade is a completed round trip reconstructed from fills. Emitted on
// arb.trades and persisted.
type Trade struct {
	Ts          int64         `json:"ts"`
	Mode        string        `json:"mode"`
	Legs        []FillPayload `json:"legs"`
	RealizedPnl float64       `json:"realizedPnl"`
	Taken       bool          `json:"taken"`
	Approved    bool          `json:"approved"`
	Source      string        `json:"source"`
}

// TradeModeFor maps an opportunity's paper flag to the trade mode string.
func TradeModeFor(paper bool) string {
	if paper {
		return ModePaper
	}
	return ModeLive
}
