package handler

import (
	"net/http"
	"time"
)

// Tracker reports how many identities are being refreshed.
type Tracker interface {
	Tracked() int
}

// StatusHandler serves process metadata.
type StatusHandler struct {
	mode      string
	chains    []uint64
	tracker   Tracker
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, chains []uint64, tracker Tracker, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, chains: chains, tracker: tracker, startedAt: startedAt}
}

// GetStatus responds with the mode, configured chains and tracked identities.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	tracked := 0
	if h.tracker != nil {
		tracked = h.tracker.Tracked()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"chains":         h.chains,
		"tracked":        tracked,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
