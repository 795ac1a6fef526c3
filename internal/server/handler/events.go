package handler

import (
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// EventLog holds the most recent outbound events.
type EventLog interface {
	Recent(limit int) []domain.Event
}

// EventsHandler serves the in-memory event history.
type EventsHandler struct {
	log EventLog
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(log EventLog) *EventsHandler {
	return &EventsHandler{log: log}
}

// Recent lists events newest first, optionally filtered by ?kind=.
// GET /api/events?limit=100&kind=risk.transition
func (h *EventsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	events := h.log.Recent(queryLimit(r, 100, 1000))
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := events[:0:0]
		for _, ev := range events {
			if string(ev.Kind) == kind {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
