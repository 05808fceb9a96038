package grading

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/position"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/results"
)

// ResultRequest is the JSON body for POST /matches/{matchID}/result.
type ResultRequest struct {
	FinalResult *decimal.Decimal `json:"final_result" validate:"required"`
}

// ResultResponse reports what grading the match did.
type ResultResponse struct {
	MatchID     string          `json:"match_id"`
	FinalResult decimal.Decimal `json:"final_result"`
	Report      Report          `json:"report"`
}

// Handler exposes manual result entry over HTTP.
type Handler struct {
	grader   *Grader
	registry *results.Registry
}

// NewHandler creates a handler that records results in registry (if not
// nil) before grading.
func NewHandler(g *Grader, registry *results.Registry) *Handler {
	return &Handler{grader: g, registry: registry}
}

// PostResult handles POST /api/v1/matches/{matchID}/result
func (h *Handler) PostResult(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	var req ResultRequest
	if !position.Decode(w, r, &req) {
		return
	}

	if h.registry != nil {
		h.registry.Set(matchID, *req.FinalResult)
	}

	rep, err := h.grader.GradeMatch(r.Context(), matchID, *req.FinalResult)
	if err != nil {
		position.WriteError(w, err)
		return
	}

	slog.Info("match result recorded",
		"match", matchID,
		"final_result", req.FinalResult.String(),
		"settled", rep.Settled,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
	)

	position.WriteJSON(w, http.StatusOK, ResultResponse{
		MatchID:     matchID,
		FinalResult: *req.FinalResult,
		Report:      rep,
	})
}
