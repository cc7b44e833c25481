package http

import (
	"net/http"
	"strings"
)

func (s *Server) classificationEnabled(w http.ResponseWriter) bool {
	if s.svc.Classification == nil {
		ServiceUnavailableError("classifier not configured").Write(w)
		return false
	}
	return true
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !s.classificationEnabled(w) {
		return
	}
	jobID, err := s.svc.Classification.Train(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, "classification_train", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if !s.classificationEnabled(w) {
		return
	}
	from, to, err := ParseRangeParams(r, s.now())
	if err != nil {
		writeError(w, r, "classification_classify", err)
		return
	}
	job, err := s.svc.Classification.Classify(r.Context(), UserID(r.Context()), from, to)
	if err != nil {
		writeError(w, r, "classification_classify", err)
		return
	}
	status := http.StatusAccepted
	if job.JobID == "" {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func (s *Server) handleClassificationStatus(w http.ResponseWriter, r *http.Request) {
	if !s.classificationEnabled(w) {
		return
	}
	res, err := s.svc.Classification.Poll(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "classification_status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	if !s.classificationEnabled(w) {
		return
	}
	var req setKeyRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeError(w, r, "classification_key", err)
		return
	}
	if err := s.svc.Classification.SetKey(r.Context(), UserID(r.Context()), strings.TrimSpace(req.APIKey)); err != nil {
		writeError(w, r, "classification_key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
