package classify

import (
	"regexp"
	"strings"
)

var (
	// "#04512", "STORE 123", "NO. 88", "STR 9" at the end of a descriptor
	storeNumber = regexp.MustCompile(`\s*(#|NO\.?\s|STORE\s|STR\s)\s*\d+$`)
	// Trailing digit tokens such as trip, terminal or reference numbers
	trailingDigits = regexp.MustCompile(`\s+[\d\-*]*\d$`)
	nonAlnum       = regexp.MustCompile(`[^A-Z0-9]+`)
)

// processorPrefixes are card processor markers that precede the merchant
var processorPrefixes = []string{"SQ *", "SQ*", "TST* ", "TST*", "PAYPAL *", "PP*", "POS ", "DEBIT CARD PURCHASE "}

// NormalizeMerchant uppercases a bank descriptor and strips payment processor
// prefixes and trailing store or reference numbers
func NormalizeMerchant(descriptor string) string {
	name := strings.Join(strings.Fields(strings.ToUpper(descriptor)), " ")

	for _, prefix := range processorPrefixes {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimSpace(strings.TrimPrefix(name, prefix))
			break
		}
	}

	// Keep stripping until stable: "CVS #123 4567" loses both numbers
	for {
		stripped := storeNumber.ReplaceAllString(name, "")
		stripped = trailingDigits.ReplaceAllString(stripped, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == name || stripped == "" {
			break
		}
		name = stripped
	}
	return name
}

// matchText reduces text to uppercase words separated by single spaces
func matchText(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToUpper(s), " "))
}

// containsWords reports whether phrase occurs in text on word boundaries.
// Both must already be in matchText form.
func containsWords(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
