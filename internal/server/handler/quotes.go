package handler

import (
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// QuoteReader exposes the aggregator's current view.
type QuoteReader interface {
	CurrentQuotes(pair domain.TokenPair) []domain.Quote
}

// QuotesHandler serves the latest fresh quotes per pair.
type QuotesHandler struct {
	quotes QuoteReader
}

// NewQuotesHandler creates a QuotesHandler.
func NewQuotesHandler(q QuoteReader) *QuotesHandler {
	return &QuotesHandler{quotes: q}
}

type quotesResponse struct {
	Pair   string         `json:"pair"`
	Quotes []domain.Quote `json:"quotes"`
}

// Get returns the fresh quotes of every exchange. The pair travels as
// BASE-QUOTE since a slash cannot appear in a path segment.
// GET /api/quotes/{pair}
func (h *QuotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	pair, err := domain.ParsePair(r.PathValue("pair"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	qs := h.quotes.CurrentQuotes(pair)
	if qs == nil {
		qs = []domain.Quote{}
	}
	writeJSON(w, http.StatusOK, quotesResponse{Pair: pair.String(), Quotes: qs})
}
