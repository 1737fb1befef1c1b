package handler

import (
	"net/http"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TradeHandler serves recent persisted trades from the trade store.
type TradeHandler struct {
	store domain.TradeStore
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(store domain.TradeStore) *TradeHandler {
	return &TradeHandler{store: store}
}

// ListRecent returns the most recent trades, newest first. ?limit=N caps the
// result (default 50, max 500).
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trade store not configured")
		return
	}

	trades, err := h.store.ListRecent(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trade query failed")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}
