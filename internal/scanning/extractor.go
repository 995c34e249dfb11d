package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/caretrack/internal/config"
	"github.com/zombor/caretrack/internal/expense"
)

// PageCounter returns the number of pages in a PDF
type PageCounter func(pdf []byte) (int, error)

// Extractor turns a receipt capture into a confidence-scored receipt
type Extractor struct {
	endpoint   OCREndpoint
	cfg        config.ExtractionConfig
	countPages PageCounter
}

// NewExtractor creates an Extractor that counts PDF pages with MuPDF
func NewExtractor(endpoint OCREndpoint, cfg config.ExtractionConfig) *Extractor {
	return NewExtractorWithDeps(endpoint, cfg, countPDFPages)
}

// NewExtractorWithDeps creates an Extractor with a custom page counter for testing
func NewExtractorWithDeps(endpoint OCREndpoint, cfg config.ExtractionConfig, countPages PageCounter) *Extractor {
	return &Extractor{
		endpoint:   endpoint,
		cfg:        cfg,
		countPages: countPages,
	}
}

// receiptPayload is the data object inside a successful OCR response
type receiptPayload struct {
	Vendor          *string            `json:"vendor"`
	Category        *string            `json:"category"`
	Amount          json.RawMessage    `json:"amount"`
	Date            *string            `json:"date"`
	FieldConfidence map[string]float64 `json:"fieldConfidence"`
}

// Extract validates the capture locally, makes one OCR call and normalizes
// the result. Local validation failures never reach the endpoint.
func (e *Extractor) Extract(ctx context.Context, capture expense.RawCapture) (*expense.ExtractedReceipt, error) {
	if err := e.validate(capture); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.endpoint.Recognize(ctx, OCRRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(capture.Data),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("Receipt extraction timed out", "source", capture.Source, "file_size", len(capture.Data))
			return nil, &expense.Error{
				Kind:    expense.ExtractionTimeout,
				Message: "Reading the receipt took too long. Please try again.",
				Err:     err,
			}
		}
		slog.Error("Receipt extraction call failed", "source", capture.Source, "file_size", len(capture.Data), "error", err)
		return nil, &expense.Error{
			Kind:    expense.ExtractionFailed,
			Message: "The receipt reader is unavailable.",
			Err:     err,
		}
	}

	if !resp.Success {
		slog.Warn("Receipt extraction reported failure",
			"source", capture.Source,
			"reason", resp.Error,
			"raw_model", truncate(resp.RawModel, 500),
		)
		msg := resp.Error
		if msg == "" {
			msg = "The receipt could not be read."
		}
		return nil, &expense.Error{
			Kind:       expense.ExtractionFailed,
			Message:    msg,
			Diagnostic: resp.RawModel,
		}
	}

	return e.normalize(resp)
}

// validate performs the cheap local checks: size, then format
func (e *Extractor) validate(capture expense.RawCapture) error {
	if int64(len(capture.Data)) > e.cfg.MaxPayloadBytes {
		return &expense.Error{
			Kind:    expense.PayloadTooLarge,
			Message: fmt.Sprintf("File is too large. Maximum size is %dMB.", e.cfg.MaxPayloadBytes>>20),
		}
	}
	if len(capture.Data) == 0 {
		return &expense.Error{Kind: expense.UnsupportedFormat, Message: "No image was provided."}
	}

	format := sniffFormat(capture.Data)
	if format == "" || !e.cfg.AllowsFormat(format) {
		return &expense.Error{
			Kind:    expense.UnsupportedFormat,
			Message: "Unsupported file type. Upload a JPEG, PNG, GIF, HEIC or single-page PDF.",
		}
	}

	if format == config.FormatPDF {
		pages, err := e.countPages(capture.Data)
		if err != nil {
			return &expense.Error{Kind: expense.UnsupportedFormat, Message: "The PDF could not be opened.", Err: err}
		}
		if pages < 1 || pages > e.cfg.MaxPDFPages {
			return &expense.Error{
				Kind:    expense.UnsupportedFormat,
				Message: fmt.Sprintf("PDF receipts must have at most %d page(s), this one has %d.", e.cfg.MaxPDFPages, pages),
			}
		}
	}
	return nil
}

// normalize converts the endpoint payload into an ExtractedReceipt. Missing
// required fields fail the extraction rather than being defaulted.
func (e *Extractor) normalize(resp *OCRResponse) (*expense.ExtractedReceipt, error) {
	var payload receiptPayload
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &payload); err != nil {
			return nil, &expense.Error{
				Kind:       expense.ExtractionFailed,
				Message:    "The receipt reader returned unreadable data.",
				Diagnostic: resp.RawModel,
				Err:        err,
			}
		}
	}

	receipt := &expense.ExtractedReceipt{
		FieldConfidence: make(map[string]float64, len(expense.RequiredReceiptFields)),
	}
	var missing []string
	ambiguous := make(map[string]bool)

	if v := trimmed(payload.Vendor); v != "" {
		receipt.Vendor = v
	} else {
		missing = append(missing, expense.FieldVendor)
	}

	if c := trimmed(payload.Category); c != "" {
		receipt.Category = c
	} else {
		missing = append(missing, expense.FieldCategory)
	}

	if amount, exact, ok := parseAmount(payload.Amount); ok {
		receipt.Amount = amount
		ambiguous[expense.FieldAmount] = !exact
	} else {
		missing = append(missing, expense.FieldAmount)
	}

	if date, exact, ok := parseDate(payload.Date); ok {
		receipt.Date = date
		ambiguous[expense.FieldDate] = !exact
	} else {
		missing = append(missing, expense.FieldDate)
	}

	if len(missing) > 0 {
		return nil, &expense.Error{
			Kind:       expense.IncompleteExtraction,
			Field:      strings.Join(missing, ","),
			Message:    "Could not read " + strings.Join(missing, ", ") + " from the receipt. Please enter it manually.",
			Diagnostic: resp.RawModel,
		}
	}

	for _, field := range expense.RequiredReceiptFields {
		// A populated field without a reported confidence gets the lowest score
		conf := clampConfidence(payload.FieldConfidence[field])
		if ambiguous[field] && conf > e.cfg.AmbiguousFieldConfidence {
			conf = e.cfg.AmbiguousFieldConfidence
		}
		receipt.FieldConfidence[field] = conf
		if conf < e.cfg.FieldConfidenceThreshold {
			receipt.Flagged = append(receipt.Flagged, field)
		}
	}

	return receipt, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
