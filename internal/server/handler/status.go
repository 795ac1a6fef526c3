package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// BotControl is the slice of the bot service the API drives.
type BotControl interface {
	Snapshot(ctx context.Context) (domain.BotSnapshot, error)
	Do(ctx context.Context, action string) error
}

// BotHandler serves status and lifecycle endpoints.
type BotHandler struct {
	bot    BotControl
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bot BotControl, logger *slog.Logger) *BotHandler {
	return &BotHandler{bot: bot, logger: logger.With(slog.String("handler", "bot"))}
}

// GetStatus returns the bot snapshot.
// GET /api/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.bot.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Action applies start, stop, pause or resume.
// POST /api/bot/{action}
func (h *BotHandler) Action(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if err := h.bot.Do(r.Context(), action); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	snap, err := h.bot.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
