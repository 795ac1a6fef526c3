package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

// LedgerReader is the query side of the profit ledger.
type LedgerReader interface {
	Summarize(ctx context.Context, window time.Duration) (ledger.Summary, error)
	Recent(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error)
	Get(ctx context.Context, id string) (domain.ExecutionAttempt, error)
}

// LedgerHandler serves ledger summaries and attempt history.
type LedgerHandler struct {
	ledger LedgerReader
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(l LedgerReader, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger.With(slog.String("handler", "ledger"))}
}

// Summary folds attempts in the trailing window; no window means all time.
// GET /api/ledger/summary?window=1h
func (h *LedgerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	sum, err := h.ledger.Summarize(r.Context(), window)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type attemptsResponse struct {
	Attempts []domain.ExecutionAttempt `json:"attempts"`
}

// Attempts lists the newest attempts.
// GET /api/ledger/attempts?limit=50
func (h *LedgerHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.Recent(r.Context(), queryLimit(r, 50, 500))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []domain.ExecutionAttempt{}
	}
	writeJSON(w, http.StatusOK, attemptsResponse{Attempts: list})
}

// Attempt returns a single attempt.
// GET /api/ledger/attempts/{id}
func (h *LedgerHandler) Attempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
