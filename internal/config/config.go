// Package config holds the tunable thresholds and limits of the expense
// pipeline. Each component receives its section explicitly so tests can
// override any value.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Capture formats the extractor knows how to sniff
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatHEIC = "heic"
	FormatPDF  = "pdf"
)

// Pipeline is the full pipeline configuration
type Pipeline struct {
	Extraction     ExtractionConfig     `yaml:"extraction"`
	Classification ClassificationConfig `yaml:"classification"`
	Ledger         LedgerConfig         `yaml:"ledger"`
}

// Validate validates every section
func (c *Pipeline) Validate() error {
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if err := c.Classification.Validate(); err != nil {
		return fmt.Errorf("classification: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// ExtractionConfig bounds receipt extraction
type ExtractionConfig struct {
	MaxPayloadBytes int64         `yaml:"max_payload_bytes"`
	Timeout         time.Duration `yaml:"timeout"`
	AllowedFormats  []string      `yaml:"allowed_formats"`
	MaxPDFPages     int           `yaml:"max_pdf_pages"`
	// Fields with confidence below this are flagged for review
	FieldConfidenceThreshold float64 `yaml:"field_confidence_threshold"`
	// Confidence ceiling for values recovered by best-effort parsing
	AmbiguousFieldConfidence float64 `yaml:"ambiguous_field_confidence"`
}

// Validate validates the extraction configuration
func (c *ExtractionConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxPayloadBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.AllowedFormats, validation.Required,
			validation.Each(validation.In(FormatJPEG, FormatPNG, FormatGIF, FormatHEIC, FormatPDF))),
		validation.Field(&c.MaxPDFPages, validation.Required, validation.Min(1)),
		validation.Field(&c.FieldConfidenceThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.AmbiguousFieldConfidence, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return err
	}
	if c.AmbiguousFieldConfidence >= c.FieldConfidenceThreshold {
		return fmt.Errorf("ambiguous_field_confidence (%.2f) must be below field_confidence_threshold (%.2f)",
			c.AmbiguousFieldConfidence, c.FieldConfidenceThreshold)
	}
	return nil
}

// AllowsFormat reports whether a sniffed format is accepted
func (c *ExtractionConfig) AllowsFormat(format string) bool {
	for _, f := range c.AllowedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ClassificationConfig holds deductibility likelihood starting points and
// amount heuristics
type ClassificationConfig struct {
	MedicalLikelihood        float64 `yaml:"medical_likelihood"`
	TransportationLikelihood float64 `yaml:"transportation_likelihood"`
	GeneralLikelihood        float64 `yaml:"general_likelihood"`
	UnmatchedLikelihood      float64 `yaml:"unmatched_likelihood"`
	// Transactions scoring at or above this are review candidates and
	// their drafts default to tax deductible
	CandidateCutoff float64 `yaml:"candidate_cutoff"`

	LargeAmountCents   int64   `yaml:"large_amount_cents"`
	LargeAmountBoost   float64 `yaml:"large_amount_boost"`
	SmallAmountCents   int64   `yaml:"small_amount_cents"`
	SmallAmountPenalty float64 `yaml:"small_amount_penalty"`
	// Inflows (refunds, deposits) are scaled by this factor
	CreditFactor float64 `yaml:"credit_factor"`
}

// Validate validates the classification configuration
func (c *ClassificationConfig) Validate() error {
	unit := []validation.Rule{validation.Min(0.0), validation.Max(1.0)}
	return validation.ValidateStruct(c,
		validation.Field(&c.MedicalLikelihood, unit...),
		validation.Field(&c.TransportationLikelihood, unit...),
		validation.Field(&c.GeneralLikelihood, unit...),
		validation.Field(&c.UnmatchedLikelihood, unit...),
		validation.Field(&c.CandidateCutoff, unit...),
		validation.Field(&c.LargeAmountCents, validation.Min(int64(0))),
		validation.Field(&c.LargeAmountBoost, unit...),
		validation.Field(&c.SmallAmountCents, validation.Min(int64(0))),
		validation.Field(&c.SmallAmountPenalty, unit...),
		validation.Field(&c.CreditFactor, unit...),
	)
}

// LedgerConfig holds materialization rules
type LedgerConfig struct {
	// How far past "today" an expense date may be before it is rejected
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance"`
}

// Validate validates the ledger configuration
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ClockSkewTolerance, validation.Min(time.Duration(0))),
	)
}

// Default returns the production defaults
func Default() *Pipeline {
	return &Pipeline{
		Extraction: ExtractionConfig{
			MaxPayloadBytes:          10 << 20,
			Timeout:                  60 * time.Second,
			AllowedFormats:           []string{FormatJPEG, FormatPNG, FormatGIF, FormatHEIC, FormatPDF},
			MaxPDFPages:              1,
			FieldConfidenceThreshold: 0.5,
			AmbiguousFieldConfidence: 0.25,
		},
		Classification: ClassificationConfig{
			MedicalLikelihood:        0.8,
			TransportationLikelihood: 0.5,
			GeneralLikelihood:        0.2,
			UnmatchedLikelihood:      0.1,
			CandidateCutoff:          0.6,
			LargeAmountCents:         10000,
			LargeAmountBoost:         0.05,
			SmallAmountCents:         500,
			SmallAmountPenalty:       0.1,
			CreditFactor:             0.25,
		},
		Ledger: LedgerConfig{
			ClockSkewTolerance: 24 * time.Hour,
		},
	}
}

// LoadFile reads a YAML file over the defaults, expanding environment
// variables, and validates the result
func LoadFile(path string) (*Pipeline, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
