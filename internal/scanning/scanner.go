package scanning

import (
	"context"
	"encoding/json"
)

// OCRRequest is the payload sent to an OCR endpoint
type OCRRequest struct {
	ImageBase64 string `json:"imageBase64"`
}

// OCRResponse is what an OCR endpoint returns. Data holds the receipt
// fields on success; RawModel is diagnostic context only.
type OCRResponse struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	RawModel string          `json:"rawModel,omitempty"`
}

// OCREndpoint defines the contract for receipt OCR providers
type OCREndpoint interface {
	// Recognize reads a receipt image and returns its fields
	Recognize(ctx context.Context, req OCRRequest) (*OCRResponse, error)
	// Close closes the endpoint and releases resources
	Close() error
}
