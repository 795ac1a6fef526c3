package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// RiskControl is the operator surface of the risk controller.
type RiskControl interface {
	State() domain.RiskState
	ExposureByPair() map[domain.TokenPair]float64
	Halt(reason string)
	Reset()
}

// RiskHandler serves the risk endpoints.
type RiskHandler struct {
	risk   RiskControl
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskControl, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: risk, logger: logger.With(slog.String("handler", "risk"))}
}

type riskResponse struct {
	domain.RiskState
	ExposureByPair map[string]float64 `json:"exposure_by_pair"`
}

func (h *RiskHandler) snapshot() riskResponse {
	byPair := h.risk.ExposureByPair()
	out := riskResponse{
		RiskState:      h.risk.State(),
		ExposureByPair: make(map[string]float64, len(byPair)),
	}
	for p, v := range byPair {
		out.ExposureByPair[p.String()] = v
	}
	return out
}

// GetState returns the risk state with per-pair exposure.
// GET /api/risk
func (h *RiskHandler) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

type haltRequest struct {
	Reason string `json:"reason"`
}

// Halt stops new executions until reset or cooldown.
// POST /api/risk/halt {"reason": "..."}
func (h *RiskHandler) Halt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "operator halt"
	}
	h.risk.Halt(reason)
	h.logger.Warn("halt requested", slog.String("reason", reason), slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Reset returns the controller to NORMAL.
// POST /api/risk/reset
func (h *RiskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.risk.Reset()
	h.logger.Info("reset requested", slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, h.snapshot())
}
