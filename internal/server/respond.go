package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zombor/caretrack/internal/archive"
	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/ledger"
	"github.com/zombor/caretrack/internal/store"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error    string                  `json:"error"`
	Kind     string                  `json:"kind,omitempty"`
	Field    string                  `json:"field,omitempty"`
	Details  string                  `json:"details,omitempty"`
	Decision *expense.TriageDecision `json:"decision,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// requestError is a malformed request
type requestError struct {
	message string
	err     error
}

func (e *requestError) Error() string {
	return e.message + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error {
	return e.err
}

func badRequest(err error, message string) error {
	return &requestError{message: message, err: err}
}

// statusFor maps pipeline error kinds to HTTP status codes
var statusFor = map[expense.ErrorKind]int{
	expense.PayloadTooLarge:      http.StatusRequestEntityTooLarge,
	expense.UnsupportedFormat:    http.StatusUnsupportedMediaType,
	expense.IncompleteExtraction: http.StatusUnprocessableEntity,
	expense.InvalidDraft:         http.StatusUnprocessableEntity,
	expense.ExtractionFailed:     http.StatusBadGateway,
	expense.ExtractionTimeout:    http.StatusGatewayTimeout,
	expense.AlreadyDecided:       http.StatusConflict,
}

// writeError writes err with the status its kind calls for. Diagnostics
// are logged and never sent to the client.
func writeError(w http.ResponseWriter, err error) {
	var pe *expense.Error
	if errors.As(err, &pe) {
		status, ok := statusFor[pe.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if pe.Diagnostic != "" {
			slog.Warn("Request failed", "kind", pe.Kind.String(), "field", pe.Field, "diagnostic", pe.Diagnostic)
		}
		writeJSON(w, status, errorResponse{
			Error: pe.UserMessage(),
			Kind:  pe.Kind.String(),
			Field: pe.Field,
		})
		return
	}

	var re *requestError
	switch {
	case errors.As(err, &re):
		writeMessage(w, http.StatusBadRequest, re.message)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, archive.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ledger.ErrNotKept):
		writeMessage(w, http.StatusConflict, "Only kept transactions can be added as expenses")
	default:
		slog.Error("Request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
