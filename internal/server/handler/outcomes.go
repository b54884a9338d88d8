package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// OutcomeLister reads recorded trade outcomes.
type OutcomeLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error)
}

// OutcomeHandler serves trade history.
type OutcomeHandler struct {
	outcomes OutcomeLister
	logger   *slog.Logger
}

// NewOutcomeHandler creates an OutcomeHandler.
func NewOutcomeHandler(outcomes OutcomeLister, logger *slog.Logger) *OutcomeHandler {
	return &OutcomeHandler{outcomes: outcomes, logger: logger}
}

type listOutcomesResponse struct {
	Outcomes []domain.TradeOutcome `json:"outcomes"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
}

// ListOutcomes returns outcomes newest first.
// GET /api/outcomes?limit=50&offset=0&since=RFC3339&until=RFC3339
func (h *OutcomeHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC 3339 timestamps")
		return
	}

	outcomes, err := h.outcomes.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list outcomes failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	if outcomes == nil {
		outcomes = []domain.TradeOutcome{}
	}
	writeJSON(w, http.StatusOK, listOutcomesResponse{Outcomes: outcomes, Limit: opts.Limit, Offset: opts.Offset})
}
