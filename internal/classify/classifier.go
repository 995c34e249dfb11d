// Package classify suggests expense categories and scores how likely an
// expense is to be a deductible medical or caregiving cost.
package classify

import (
	"math"

	"github.com/zombor/caretrack/internal/config"
	"github.com/zombor/caretrack/internal/expense"
)

// Result is a category suggestion with a deductibility likelihood in [0,1]
type Result struct {
	Category             string  `json:"category"`
	Subcategory          string  `json:"subcategory,omitempty"`
	DeductibleLikelihood float64 `json:"deductibleLikelihood"`
	// MatchedKeyword is empty when no rule matched
	MatchedKeyword string `json:"matchedKeyword,omitempty"`
}

// Matched reports whether a rule produced the result
func (r Result) Matched() bool {
	return r.MatchedKeyword != ""
}

type compiledRule struct {
	Rule
	keywords []string
}

// Classifier is a pure, deterministic rule-table classifier. It is safe for
// concurrent use.
type Classifier struct {
	cfg   config.ClassificationConfig
	rules []compiledRule
}

// NewClassifier creates a Classifier. A nil rule table uses DefaultRules.
func NewClassifier(cfg config.ClassificationConfig, rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		for _, kw := range r.Keywords {
			if k := matchText(kw); k != "" {
				cr.keywords = append(cr.keywords, k)
			}
		}
		compiled = append(compiled, cr)
	}
	return &Classifier{cfg: cfg, rules: compiled}
}

// ClassifyReceipt classifies an extracted receipt by its vendor, falling
// back to the category the OCR model suggested
func (c *Classifier) ClassifyReceipt(r *expense.ExtractedReceipt) Result {
	cents := r.Amount.Shift(2).Round(0).IntPart()
	return c.classify([]string{r.Vendor, r.Category}, cents, false)
}

// ClassifyTransaction classifies a bank transaction by its normalized
// merchant name, falling back to the raw description
func (c *Classifier) ClassifyTransaction(t expense.BankTransaction) Result {
	texts := make([]string, 0, 2)
	if t.MerchantNameNormalized != "" {
		texts = append(texts, NormalizeMerchant(t.MerchantNameNormalized))
	}
	texts = append(texts, NormalizeMerchant(t.RawDescription))

	cents := t.AmountCents
	if cents < 0 {
		cents = -cents
	}
	return c.classify(texts, cents, !t.IsDebit() && t.AmountCents != 0)
}

// IsCandidate reports whether a result clears the review cutoff
func (c *Classifier) IsCandidate(r Result) bool {
	return r.DeductibleLikelihood >= c.cfg.CandidateCutoff
}

func (c *Classifier) classify(texts []string, cents int64, inflow bool) Result {
	for _, text := range texts {
		normalized := matchText(text)
		if normalized == "" {
			continue
		}
		for _, rule := range c.rules {
			for _, kw := range rule.keywords {
				if containsWords(normalized, kw) {
					return Result{
						Category:             rule.Category,
						Subcategory:          rule.Subcategory,
						DeductibleLikelihood: c.likelihood(rule.Kind, cents, inflow),
						MatchedKeyword:       kw,
					}
				}
			}
		}
	}

	likelihood := c.cfg.UnmatchedLikelihood
	if inflow {
		likelihood *= c.cfg.CreditFactor
	}
	return Result{
		Category:             CategoryOther,
		DeductibleLikelihood: round(clamp(likelihood)),
	}
}

func (c *Classifier) likelihood(kind Kind, cents int64, inflow bool) float64 {
	var l float64
	switch kind {
	case KindMedical:
		l = c.cfg.MedicalLikelihood
	case KindTransportation:
		l = c.cfg.TransportationLikelihood
	default:
		l = c.cfg.GeneralLikelihood
	}

	switch {
	case c.cfg.LargeAmountCents > 0 && cents >= c.cfg.LargeAmountCents:
		l += c.cfg.LargeAmountBoost
	case cents > 0 && cents < c.cfg.SmallAmountCents:
		l -= c.cfg.SmallAmountPenalty
	}

	// Refunds and deposits are rarely expenses
	if inflow {
		l *= c.cfg.CreditFactor
	}
	return round(clamp(l))
}

func clamp(l float64) float64 {
	return math.Max(0, math.Min(1, l))
}

// round keeps scores comparable after float arithmetic
func round(l float64) float64 {
	return math.Round(l*10000) / 10000
}
