package http

import (
	"errors"
	"net/http"

	"tally/internal/core"
)

// maxRecalcMonths bounds a synchronous recalculation request.
const maxRecalcMonths = 120

func (s *Server) handleListAggregates(w http.ResponseWriter, r *http.Request) {
	from, to, err := ParseRangeParams(r, s.now())
	if err != nil {
		writeError(w, r, "list_aggregates", err)
		return
	}
	aggs, err := s.svc.Store.ListMonthlyAggregates(r.Context(), UserID(r.Context()), core.MonthStart(from.Time), core.MonthStart(to.Time))
	if err != nil {
		writeError(w, r, "list_aggregates", err)
		return
	}
	out := make([]aggregateJSON, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, toAggregateJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregates": out})
}

// handleGetAggregate returns the stored month, computing it when missing.
func (s *Server) handleGetAggregate(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParam("month", r.PathValue("month"))
	if err != nil {
		writeError(w, r, "get_aggregate", err)
		return
	}
	userID := UserID(r.Context())

	agg, err := s.svc.Store.GetMonthlyAggregate(r.Context(), userID, month)
	if errors.Is(err, core.ErrNotFound) {
		agg, err = s.svc.Recalc.AggregateMonth(r.Context(), userID, month.Time)
	}
	if err != nil {
		writeError(w, r, "get_aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateJSON(agg))
}

type recalculateRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeError(w, r, "recalculate", err)
		return
	}
	start, err := ParseMonthParam("start", req.Start)
	if err != nil {
		writeError(w, r, "recalculate", err)
		return
	}
	end, err := ParseMonthParam("end", req.End)
	if err != nil {
		writeError(w, r, "recalculate", err)
		return
	}
	months := core.MonthsBetween(start.Time, end.Time)
	if len(months) == 0 {
		BadRequestError("end precedes start").Write(w)
		return
	}
	if len(months) > maxRecalcMonths {
		BadRequestError("range too large").Write(w)
		return
	}

	res, err := s.svc.Recalc.RecalculateRange(r.Context(), UserID(r.Context()), start.Time, end.Time)
	if err != nil {
		writeError(w, r, "recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
