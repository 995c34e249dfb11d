package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zombor/caretrack/internal/banksync"
	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/triage"
)

type syncResponse struct {
	triage.SyncResult
	Error string `json:"error,omitempty"`
}

// handleSyncTransactions pulls from the bank sources now instead of
// waiting for the next scheduled sync
func (s *Server) handleSyncTransactions(w http.ResponseWriter, r *http.Request) {
	if s.services.BankSync == nil {
		writeMessage(w, http.StatusServiceUnavailable, "No bank sources are configured")
		return
	}

	result, err := s.services.BankSync.SyncNow(r.Context())
	if err != nil {
		slog.Error("Error syncing transactions", "error", err)
		writeJSON(w, http.StatusBadGateway, syncResponse{SyncResult: result, Error: "Some bank sources could not be synced"})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{SyncResult: result})
}

// handleImportTransactions loads an uploaded OFX or QFX statement
func (s *Server) handleImportTransactions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeMessage(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	txs, err := banksync.ParseOFX(f)
	if err != nil {
		slog.Error("Error parsing statement", "filename", header.Filename, "error", err)
		writeMessage(w, http.StatusBadRequest, "The statement could not be read. Export it as OFX or QFX.")
		return
	}

	result, err := s.services.Queue.Sync(r.Context(), txs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	view, err := triage.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.services.Queue.Review(r.Context(), view)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.services.Queue.Decision(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleKeep accepts an optional body of draft overrides
func (s *Server) handleKeep(w http.ResponseWriter, r *http.Request) {
	var overrides triage.DraftOverrides
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key := r.PathValue("key")
	d, err := s.services.Queue.Keep(r.Context(), key, overrides)
	s.writeDecision(w, r, key, d, err)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	d, err := s.services.Queue.Skip(r.Context(), key)
	s.writeDecision(w, r, key, d, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	d, err := s.services.Queue.Reset(r.Context(), key)
	s.writeDecision(w, r, key, d, err)
}

// writeDecision responds to a triage transition. A conflict carries the
// decision that won so the client can show it.
func (s *Server) writeDecision(w http.ResponseWriter, r *http.Request, key string, d *expense.TriageDecision, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, d)
		return
	}
	if !expense.IsAlreadyDecided(err) {
		writeError(w, err)
		return
	}

	var pe *expense.Error
	errors.As(err, &pe)
	current, getErr := s.services.Queue.Decision(r.Context(), key)
	if getErr != nil {
		slog.Error("Error loading current decision", "key", key, "error", getErr)
	}
	writeJSON(w, http.StatusConflict, errorResponse{
		Error:    pe.UserMessage(),
		Kind:     pe.Kind.String(),
		Field:    pe.Field,
		Decision: current,
	})
}

// handleMaterialize adds a kept transaction's draft to the ledger
func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	e, created, err := s.services.Ledger.MaterializeDecision(r.Context(), s.userID(r), r.PathValue("key"))
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
