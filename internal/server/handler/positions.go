package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/refresh"
)

// loadFailedMessage is the only failure detail clients ever see.
const loadFailedMessage = "unable to load positions"

// DefaultWait bounds ?wait=true requests.
const DefaultWait = 15 * time.Second

// LatestReader returns the newest published snapshot.
type LatestReader interface {
	Latest(ctx context.Context, owner common.Address, chainID uint64) (domain.Snapshot, error)
}

// PositionHandler serves position records from the refresh controllers.
type PositionHandler struct {
	manager      *refresh.Manager
	latest       LatestReader
	defaultChain uint64
	wait         time.Duration
	logger       *slog.Logger
}

// NewPositionHandler creates a PositionHandler. latest may be nil.
func NewPositionHandler(manager *refresh.Manager, latest LatestReader, defaultChain uint64, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		manager:      manager,
		latest:       latest,
		defaultChain: defaultChain,
		wait:         DefaultWait,
		logger:       logHandler(logger, "positions"),
	}
}

type positionsResponse struct {
	Owner      common.Address          `json:"owner"`
	ChainID    uint64                  `json:"chain_id"`
	Status     refresh.Status          `json:"status"`
	Generation uint64                  `json:"generation"`
	Stale      bool                    `json:"stale"`
	CycleID    string                  `json:"cycle_id,omitempty"`
	Strategy   string                  `json:"strategy,omitempty"`
	FetchedAt  *time.Time              `json:"fetched_at,omitempty"`
	Records    []domain.PositionRecord `json:"records"`
}

// GetPositions returns the records of owner on chain_id, starting a refresh
// cycle on first access. With wait=true it blocks until the cycle settles.
// GET /api/positions?owner=&chain_id=&wait=
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
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

	c, err := h.manager.Get(owner, chainID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	v := c.View()
	if q.Get("wait") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), h.wait)
		waited, werr := c.Wait(ctx)
		cancel()
		if werr == nil {
			v = waited
		}
	}

	if v.Status == refresh.StatusFailed {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":      loadFailedMessage,
			"status":     v.Status,
			"generation": v.Generation,
		})
		return
	}

	resp := positionsResponse{
		Owner:      owner,
		ChainID:    chainID,
		Status:     v.Status,
		Generation: v.Generation,
		Records:    []domain.PositionRecord{},
	}
	snap := v.Snapshot
	if snap == nil && h.latest != nil {
		if stored, err := h.latest.Latest(r.Context(), owner, chainID); err == nil {
			snap = &stored
			resp.Stale = true
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "latest snapshot read failed", slog.String("error", err.Error()))
		}
	}
	if snap != nil {
		resp.CycleID = snap.CycleID
		resp.Strategy = string(snap.Strategy)
		at := snap.FetchedAt
		resp.FetchedAt = &at
		if len(snap.Records) > 0 {
			resp.Records = snap.Records
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type refetchRequest struct {
	Owner   string `json:"owner"`
	ChainID uint64 `json:"chain_id"`
}

// Refetch starts a new cycle for an identity, superseding any running one.
// Write paths call it after a transaction is mined.
// POST /api/positions/refetch
func (h *PositionHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	var req refetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	owner, err := parseOwner(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = h.defaultChain
	}

	var gen uint64
	if c, ok := h.manager.Lookup(owner, chainID); ok {
		gen, err = c.Refetch()
	} else {
		var c *refresh.Controller
		c, err = h.manager.Get(owner, chainID)
		if err == nil {
			gen = c.View().Generation
		}
	}
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "refetch requested",
		slog.String("owner", owner.Hex()),
		slog.Uint64("chain_id", chainID),
		slog.Uint64("generation", gen),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     refresh.StatusFetching,
		"generation": gen,
	})
}

func (h *PositionHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrUnknownChain) {
		writeError(w, http.StatusNotFound, "unknown chain")
		return
	}
	h.logger.Error("controller lookup failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
