package scanning

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var (
	strictAmount    = regexp.MustCompile(`^\$?\d+(\.\d{1,2})?$`)
	thousandsGroups = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+$`)
	decimalComma    = regexp.MustCompile(`^-?\d+,\d{1,2}$`)
	amountNoise     = regexp.MustCompile(`[^0-9.,\-]`)
)

// looseDateLayouts are tried after strict ISO parsing fails
var looseDateLayouts = []string{
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01/02/06",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	time.RFC3339,
}

// parseAmount reads a total from model output. exact is false when the
// value only parsed after cleanup (symbols, separators, rounding); ok is
// false when nothing usable was found.
func parseAmount(raw json.RawMessage) (amount decimal.Decimal, exact bool, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, false, false
	}

	if raw[0] != '"' {
		// JSON number
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return decimal.Decimal{}, false, false
		}
		return d.Round(2), strictAmount.Match(raw), true
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return decimal.Decimal{}, false, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Decimal{}, false, false
	}

	if strictAmount.MatchString(text) {
		d, err := decimal.NewFromString(strings.TrimPrefix(text, "$"))
		if err == nil {
			return d, true, true
		}
	}

	cleaned := amountNoise.ReplaceAllString(text, "")
	switch {
	case strings.Contains(cleaned, ",") && strings.Contains(cleaned, "."):
		// Whichever separator comes last is the decimal point
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case thousandsGroups.MatchString(cleaned):
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case decimalComma.MatchString(cleaned):
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false, false
	}
	return d.Round(2), false, true
}

// parseDate reads a calendar date. exact is false when a non-ISO layout
// had to be guessed.
func parseDate(raw *string) (date civil.Date, exact bool, ok bool) {
	if raw == nil {
		return civil.Date{}, false, false
	}
	text := strings.TrimSpace(*raw)
	if text == "" {
		return civil.Date{}, false, false
	}

	if d, err := civil.ParseDate(text); err == nil {
		return d, true, true
	}

	for _, layout := range looseDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return civil.DateOf(t), false, true
		}
	}
	return civil.Date{}, false, false
}

// clampConfidence keeps model-reported confidences inside [0,1]
func clampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
