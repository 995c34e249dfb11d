package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/caretrack/internal/archive"
	"github.com/zombor/caretrack/internal/classify"
	"github.com/zombor/caretrack/internal/expense"
)

// maxUploadBytes caps request bodies. The extractor applies the real
// payload limit; this only protects the server.
const maxUploadBytes = 50 << 20

type extractRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Source      string `json:"source"`
	Filename    string `json:"filename"`
}

type extractResponse struct {
	Receipt        *expense.ExtractedReceipt `json:"receipt"`
	Classification classify.Result           `json:"classification"`
	Draft          expense.ExpenseDraft      `json:"draft"`
	FileKey        string                    `json:"fileKey,omitempty"`
}

// handleExtractReceipt reads a receipt and returns a draft for the user to
// confirm. Nothing is persisted to the ledger here.
func (s *Server) handleExtractReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	capture, filename, err := readCapture(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, &expense.Error{Kind: expense.PayloadTooLarge, Message: "File is too large."})
			return
		}
		writeError(w, err)
		return
	}

	receipt, err := s.services.Extractor.Extract(r.Context(), capture)
	if err != nil {
		slog.Error("Error extracting receipt", "filename", filename, "file_size", len(capture.Data),
			"content_type", capture.ContentType, "error", err)
		writeError(w, err)
		return
	}

	captureID := s.newID()
	fileKey := ""
	if s.services.Archive != nil {
		key, err := s.services.Archive.Save(r.Context(), archive.ObjectKey(captureID, filename), capture.Data, capture.ContentType)
		if err != nil {
			slog.Error("Error archiving receipt", "capture_id", captureID, "error", err)
		} else {
			fileKey = key
		}
	}

	result := s.services.Classifier.ClassifyReceipt(receipt)
	draft := expense.ExpenseDraft{
		Description:     receipt.Vendor,
		Category:        result.Category,
		Subcategory:     result.Subcategory,
		Amount:          receipt.Amount,
		Date:            receipt.Date,
		IsTaxDeductible: s.services.Classifier.IsCandidate(result),
		SourceRef:       expense.SourceRef{Type: expense.SourceOCR, ID: captureID},
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Receipt:        receipt,
		Classification: result,
		Draft:          draft,
		FileKey:        fileKey,
	})
}

// readCapture accepts either a multipart "file" upload or a JSON body with
// base64 image data
func readCapture(r *http.Request) (expense.RawCapture, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return expense.RawCapture{}, "", badRequest(err, "Error parsing form")
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			return expense.RawCapture{}, "", badRequest(err, "No file was selected. Please choose a file to upload.")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return expense.RawCapture{}, "", err
		}

		source, err := expense.ParseCaptureSource(r.FormValue("source"))
		if err != nil {
			return expense.RawCapture{}, "", badRequest(err, "Unknown capture source. Use camera, gallery or file.")
		}
		return expense.RawCapture{
			Data:        data,
			Source:      source,
			ContentType: header.Header.Get("Content-Type"),
		}, header.Filename, nil
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return expense.RawCapture{}, "", badRequest(err, "Invalid request body")
	}
	source, err := expense.ParseCaptureSource(req.Source)
	if err != nil {
		return expense.RawCapture{}, "", badRequest(err, "Unknown capture source. Use camera, gallery or file.")
	}
	capture, err := expense.DecodeCapture(req.ImageBase64, source)
	if err != nil {
		return expense.RawCapture{}, "", err
	}
	return capture, req.Filename, nil
}

// handleGetReceiptFile returns an archived receipt image
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.services.Archive == nil || !archive.ValidKey(key) {
		writeMessage(w, http.StatusNotFound, "File not found")
		return
	}

	data, err := s.services.Archive.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			slog.Error("Error reading receipt file", "key", key, "error", err)
		}
		writeMessage(w, http.StatusNotFound, "File not found")
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleDeleteReceiptFile discards an archived receipt image
func (s *Server) handleDeleteReceiptFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.services.Archive == nil || !archive.ValidKey(key) {
		writeMessage(w, http.StatusNotFound, "File not found")
		return
	}

	if err := s.services.Archive.Delete(r.Context(), key); err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("Error deleting receipt file", "key", key, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Error deleting file")
		return
	}

	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}
