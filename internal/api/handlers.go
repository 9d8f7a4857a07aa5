package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hedgeflow/internal/hedger"
	"hedgeflow/internal/model"
	"hedgeflow/internal/monitor"
)

const defaultDepositLimit = 20

// Handlers backs the HTTP surface with the monitor's and orchestrator's read
// accessors plus the close-out operation.
type Handlers struct {
	monitor *monitor.Monitor
	hedger  *hedger.Orchestrator
	logger  *zap.Logger
}

func NewHandlers(m *monitor.Monitor, h *hedger.Orchestrator, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{monitor: m, hedger: h, logger: logger}
}

// RecentDeposits returns up to ?limit= deposits, newest first.
func (h *Handlers) RecentDeposits(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultDepositLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	deposits, err := h.monitor.RecentDeposits(r.Context(), limit)
	if err != nil {
		h.internalError(w, "recent deposits", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deposits": deposits})
}

// DepositByHash returns one deposit or 404.
func (h *Handlers) DepositByHash(w http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["txHash"]
	deposit, ok, err := h.monitor.DepositByHash(r.Context(), txHash)
	if err != nil {
		h.internalError(w, "deposit lookup", err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown transaction hash")
		return
	}
	h.writeJSON(w, http.StatusOK, deposit)
}

type hedgeResponse struct {
	Positions []model.HedgePosition `json:"positions"`
	Execution *model.ExecutionLog   `json:"execution,omitempty"`
}

// HedgeByHash returns the positions and execution log for one deposit or 404.
func (h *Handlers) HedgeByHash(w http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["txHash"]
	positions, err := h.hedger.Positions(r.Context(), txHash)
	if err != nil {
		h.internalError(w, "positions lookup", err)
		return
	}
	if len(positions) == 0 {
		h.writeError(w, http.StatusNotFound, "unknown transaction hash")
		return
	}

	resp := hedgeResponse{Positions: positions}
	executionLog, ok, err := h.hedger.Execution(r.Context(), txHash)
	if err != nil {
		h.internalError(w, "execution lookup", err)
		return
	}
	if ok {
		resp.Execution = &executionLog
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CloseHedge triggers close-out; success reflects whether all venues closed.
// Safe to retry.
func (h *Handlers) CloseHedge(w http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["txHash"]
	success, err := h.hedger.CloseOut(r.Context(), txHash)
	if err != nil {
		if errors.Is(err, hedger.ErrNoPositions) {
			h.writeError(w, http.StatusNotFound, "unknown transaction hash")
			return
		}
		h.internalError(w, "close out", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

// Health is a liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) internalError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("write response", zap.Error(err))
	}
}
