package http

import (
	"net/http"
	"strings"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := ParseRangeParams(r, s.now())
	if err != nil {
		writeError(w, r, "list_transactions", err)
		return
	}
	txs, err := s.svc.Transactions.List(r.Context(), UserID(r.Context()), from, to)
	if err != nil {
		writeError(w, r, "list_transactions", err)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":         from.String(),
		"to":           to.String(),
		"transactions": out,
	})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Transactions.Delete(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "delete_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(t))
}

type recategorizeRequest struct {
	CategoryID *string `json:"category_id"`
}

func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	var req recategorizeRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeError(w, r, "recategorize", err)
		return
	}
	if req.CategoryID == nil {
		BadRequestError("category_id is required (empty string clears it)").Write(w)
		return
	}
	t, err := s.svc.Transactions.Recategorize(r.Context(), UserID(r.Context()), r.PathValue("id"), strings.TrimSpace(*req.CategoryID))
	if err != nil {
		writeError(w, r, "recategorize", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(t))
}
