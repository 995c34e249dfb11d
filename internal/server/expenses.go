package server

import (
	"encoding/json"
	"net/http"

	"github.com/zombor/caretrack/internal/expense"
)

// handleCreateExpense materializes a confirmed draft. A draft whose source
// was already materialized returns the existing expense with 200.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var draft expense.ExpenseDraft
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&draft); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	e, created, err := s.services.Ledger.Materialize(r.Context(), s.userID(r), draft)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, e)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.services.Ledger.List(r.Context(), s.userID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	// Ensure we always return an array, not nil
	if expenses == nil {
		expenses = []*expense.Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.services.Ledger.Get(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
