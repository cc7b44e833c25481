package http

import (
	"net/http"

	"tally/internal/core"
	"tally/internal/services"
)

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.svc.Portfolio == nil {
		ServiceUnavailableError("portfolio source not configured").Write(w)
		return
	}
	summary, err := s.svc.Portfolio.Summary(r.Context())
	if err != nil {
		writeError(w, r, "portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunway(w http.ResponseWriter, r *http.Request) {
	if s.svc.Portfolio == nil {
		ServiceUnavailableError("portfolio source not configured").Write(w)
		return
	}
	n, err := ParseIntParam(r, "months", s.opts.RunwayMonths)
	if err != nil {
		writeError(w, r, "runway", err)
		return
	}
	if n < 1 || n > services.MaxRunwayMonths {
		writeError(w, r, "runway", core.Validationf("months must be between 1 and %d", services.MaxRunwayMonths))
		return
	}
	report, err := s.svc.Portfolio.Runway(r.Context(), UserID(r.Context()), n)
	if err != nil {
		writeError(w, r, "runway", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
