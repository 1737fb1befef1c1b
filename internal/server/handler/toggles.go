package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// ToggleHandler reads and writes the execution toggles. This is the operator
// mutation path: changes take effect in the executor within its refresh
// cadence.
type ToggleHandler struct {
	store  domain.ToggleStore
	logger *slog.Logger
}

// NewToggleHandler creates a ToggleHandler.
func NewToggleHandler(store domain.ToggleStore, logger *slog.Logger) *ToggleHandler {
	return &ToggleHandler{store: store, logger: logger.With(slog.String("handler", "toggles"))}
}

// togglePatch is the PUT body. Both fields are optional; autoTrade accepts
// the write synonyms (1/0, yes/no, on/off) alongside true/false.
type togglePatch struct {
	AutoTrade *string `json:"autoTrade"`
	Mode      *string `json:"mode"`
}

// GetToggles returns the current toggle values.
func (h *ToggleHandler) GetToggles(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Read(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "toggle store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"autoTrade": t.AutoTrade,
		"mode":      t.Mode,
	})
}

// PutToggles applies a partial update to the toggle store.
func (h *ToggleHandler) PutToggles(w http.ResponseWriter, r *http.Request) {
	var patch togglePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.AutoTrade == nil && patch.Mode == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if patch.AutoTrade != nil {
		v, err := domain.ParseToggleBool(*patch.AutoTrade)
		if err != nil {
			writeError(w, http.StatusBadRequest, "autoTrade must be a boolean (true/false, 1/0, yes/no, on/off)")
			return
		}
		if err := h.store.SetAutoTrade(r.Context(), v); err != nil {
			writeError(w, http.StatusServiceUnavailable, "toggle store unavailable")
			return
		}
		h.logger.Info("autoTrade toggled", slog.Bool("value", v))
	}

	if patch.Mode != nil {
		if !domain.ValidMode(*patch.Mode) {
			writeError(w, http.StatusBadRequest, "mode must be paper or live")
			return
		}
		if err := h.store.SetMode(r.Context(), *patch.Mode); err != nil {
			writeError(w, http.StatusServiceUnavailable, "toggle store unavailable")
			return
		}
		h.logger.Info("mode toggled", slog.String("value", *patch.Mode))
	}

	h.GetToggles(w, r)
}
