package handler

import (
	"net/http"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// CapabilitySource reports the detected interfaces of one deployment.
type CapabilitySource interface {
	Snapshot() map[domain.Capability]domain.CapabilityState
}

// CapabilityHandler serves detected capability flags per chain.
type CapabilityHandler struct {
	sources      map[uint64]CapabilitySource
	defaultChain uint64
}

// NewCapabilityHandler creates a CapabilityHandler.
func NewCapabilityHandler(sources map[uint64]CapabilitySource, defaultChain uint64) *CapabilityHandler {
	return &CapabilityHandler{sources: sources, defaultChain: defaultChain}
}

// GetCapabilities returns every capability state of the chain.
// GET /api/capabilities?chain_id=
func (h *CapabilityHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	chainID, err := parseChainID(r.URL.Query().Get("chain_id"), h.defaultChain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src, ok := h.sources[chainID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown chain")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain_id":     chainID,
		"capabilities": src.Snapshot(),
	})
}
