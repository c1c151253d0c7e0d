package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// HistoryReader lists stored snapshots.
type HistoryReader interface {
	HistoryEnabled() bool
	History(ctx context.Context, owner common.Address, chainID uint64, opts domain.ListOpts) ([]domain.Snapshot, error)
}

// HistoryHandler serves stored snapshots.
type HistoryHandler struct {
	reader       HistoryReader
	defaultChain uint64
	logger       *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(reader HistoryReader, defaultChain uint64, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{reader: reader, defaultChain: defaultChain, logger: logHandler(logger, "history")}
}

// ListHistory returns snapshots newest first.
// GET /api/history?owner=&chain_id=&limit=&offset=
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil || !h.reader.HistoryEnabled() {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	q := r.URL.Query()
	owner, err := parseOwner(q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chainID, err := parseChainID(q.Get("chain_id"), h.defaultChain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snaps, err := h.reader.History(r.Context(), owner, chainID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}
