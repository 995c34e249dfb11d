package expense

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Field names used as keys in ExtractedReceipt.FieldConfidence
const (
	FieldVendor   = "vendor"
	FieldCategory = "category"
	FieldAmount   = "amount"
	FieldDate     = "date"
)

// RequiredReceiptFields lists the fields every extraction must populate
var RequiredReceiptFields = []string{FieldVendor, FieldCategory, FieldAmount, FieldDate}

// CaptureSource identifies where a receipt image came from
type CaptureSource string

const (
	SourceCamera  CaptureSource = "camera"
	SourceGallery CaptureSource = "gallery"
	SourceFile    CaptureSource = "file"
)

// ParseCaptureSource normalizes a client-supplied capture source. An empty
// value means a file upload.
func ParseCaptureSource(s string) (CaptureSource, error) {
	switch source := CaptureSource(strings.ToLower(strings.TrimSpace(s))); source {
	case "":
		return SourceFile, nil
	case SourceCamera, SourceGallery, SourceFile:
		return source, nil
	}
	return "", fmt.Errorf("unknown capture source %q", s)
}

// RawCapture is an image payload handed to the extractor. It is owned by
// the caller and never persisted by the pipeline.
type RawCapture struct {
	Data        []byte
	Source      CaptureSource
	ContentType string // hint from the client, the extractor sniffs the bytes
}

// DecodeCapture builds a RawCapture from its base64 transport encoding
func DecodeCapture(imageBase64 string, source CaptureSource) (RawCapture, error) {
	// Accept data URLs from browsers ("data:image/png;base64,....")
	if i := strings.Index(imageBase64, ";base64,"); i >= 0 && strings.HasPrefix(imageBase64, "data:") {
		imageBase64 = imageBase64[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(imageBase64))
	if err != nil {
		return RawCapture{}, &Error{Kind: UnsupportedFormat, Message: "image is not valid base64", Err: err}
	}
	if source == "" {
		source = SourceFile
	}
	return RawCapture{Data: data, Source: source}, nil
}

// ExtractedReceipt is the normalized result of one OCR extraction
type ExtractedReceipt struct {
	Vendor          string             `json:"vendor"`
	Category        string             `json:"category"`
	Amount          decimal.Decimal    `json:"amount"`
	Date            civil.Date         `json:"date"`
	FieldConfidence map[string]float64 `json:"fieldConfidence"`
	// Flagged lists fields whose confidence fell below the review threshold
	Flagged []string `json:"flagged,omitempty"`
}

// IsFlagged reports whether a field needs user attention
func (r *ExtractedReceipt) IsFlagged(field string) bool {
	return slices.Contains(r.Flagged, field)
}

// BankTransaction is a synced bank or card transaction. Amounts are signed
// cents, negative for debits.
type BankTransaction struct {
	ID                     string     `json:"id"`
	AccountID              string     `json:"accountId"`
	AmountCents            int64      `json:"amountCents"`
	PostedDate             civil.Date `json:"postedDate"`
	RawDescription         string     `json:"rawDescription"`
	MerchantNameNormalized string     `json:"merchantNameNormalized,omitempty"`
}

// keyEscaper keeps ':' out of the account part so the first ':' in a key
// always separates account from transaction ID
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Key returns the transaction identity, unique per account
func (t BankTransaction) Key() string {
	return keyEscaper.Replace(t.AccountID) + ":" + t.ID
}

// IsDebit reports whether money left the account
func (t BankTransaction) IsDebit() bool {
	return t.AmountCents < 0
}

// Amount returns the absolute amount in dollars
func (t BankTransaction) Amount() decimal.Decimal {
	cents := t.AmountCents
	if cents < 0 {
		cents = -cents
	}
	return decimal.New(cents, -2)
}

// TriageState is the review state of a synced transaction
type TriageState string

const (
	StatePending TriageState = "pending"
	StateKept    TriageState = "kept"
	StateSkipped TriageState = "skipped"
)

// TriageDecision tracks the user's decision for one transaction
type TriageDecision struct {
	TransactionKey string        `json:"transactionKey"`
	State          TriageState   `json:"state"`
	Draft          *ExpenseDraft `json:"draft,omitempty"`
	Revision       int           `json:"revision"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// SourceType says where an expense originated
type SourceType string

const (
	SourceOCR         SourceType = "ocr"
	SourceTransaction SourceType = "transaction"
	SourceManual      SourceType = "manual"
)

// SourceRef links an expense back to the capture or transaction it came from
type SourceRef struct {
	Type SourceType `json:"type"`
	ID   string     `json:"id"`
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

// Deduplicated reports whether expenses with this source are unique per user
func (s SourceRef) Deduplicated() bool {
	return s.Type != SourceManual
}

// ExpenseDraft is a user-editable expense awaiting confirmation
type ExpenseDraft struct {
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Subcategory     string          `json:"subcategory,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Date            civil.Date      `json:"date"`
	CareRecipientID string          `json:"careRecipientId,omitempty"`
	IsTaxDeductible bool            `json:"isTaxDeductible"`
	SourceRef       SourceRef       `json:"sourceRef"`
}

// Expense is a materialized ledger entry
type Expense struct {
	ExpenseDraft
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
