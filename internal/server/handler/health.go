package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Checker checks one dependency.
type Checker func(ctx context.Context) error

// HealthHandler reports liveness plus the state of each wired dependency.
type HealthHandler struct {
	checks map[string]Checker
	logger *slog.Logger
	now    func() time.Time
}

// NewHealthHandler creates a HealthHandler. checks may be empty.
func NewHealthHandler(checks map[string]Checker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger, now: time.Now}
}

// HealthCheck answers 503 when any dependency check fails.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("dependency", name), slog.String("error", err.Error()))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    h.now().UTC().Format(time.RFC3339),
	})
}
