package classify

import (
	"cmp"
	"iter"
	"slices"

	"github.com/zombor/caretrack/internal/expense"
)

// Scorer scores one transaction. *Classifier implements it.
type Scorer interface {
	ClassifyTransaction(t expense.BankTransaction) Result
}

// Score is a transaction's classification plus its candidate status
type Score struct {
	Result
	Candidate bool `json:"candidate"`
}

// Candidates is a scored view over a batch of transactions. Every iterator
// is finite and can be ranged over any number of times; scoring happens
// during iteration.
type Candidates struct {
	scorer Scorer
	cutoff float64
	txs    []expense.BankTransaction
}

// ScoreCandidates scores transactions with scorer, treating scores at or
// above cutoff as review candidates. Non-candidates are kept with their
// score.
func ScoreCandidates(scorer Scorer, cutoff float64, txs []expense.BankTransaction) *Candidates {
	return &Candidates{scorer: scorer, cutoff: cutoff, txs: slices.Clone(txs)}
}

// Candidates scores transactions with the classifier's configured cutoff
func (c *Classifier) Candidates(txs []expense.BankTransaction) *Candidates {
	return ScoreCandidates(c, c.cfg.CandidateCutoff, txs)
}

// Len returns the number of transactions in the view
func (c *Candidates) Len() int {
	return len(c.txs)
}

func (c *Candidates) score(t expense.BankTransaction) Score {
	r := c.scorer.ClassifyTransaction(t)
	return Score{Result: r, Candidate: r.DeductibleLikelihood >= c.cutoff}
}

// All yields every transaction in input order
func (c *Candidates) All() iter.Seq2[expense.BankTransaction, Score] {
	return func(yield func(expense.BankTransaction, Score) bool) {
		for _, t := range c.txs {
			if !yield(t, c.score(t)) {
				return
			}
		}
	}
}

// Ranked yields candidates first, then everything else. Within each group
// the order is score descending, then posted date descending, then input
// order.
func (c *Candidates) Ranked() iter.Seq2[expense.BankTransaction, Score] {
	return c.ranked(false)
}

// CandidatesOnly yields the ranked candidates and nothing else
func (c *Candidates) CandidatesOnly() iter.Seq2[expense.BankTransaction, Score] {
	return c.ranked(true)
}

func (c *Candidates) ranked(candidatesOnly bool) iter.Seq2[expense.BankTransaction, Score] {
	return func(yield func(expense.BankTransaction, Score) bool) {
		type entry struct {
			tx    expense.BankTransaction
			score Score
		}
		entries := make([]entry, 0, len(c.txs))
		for _, t := range c.txs {
			s := c.score(t)
			if candidatesOnly && !s.Candidate {
				continue
			}
			entries = append(entries, entry{tx: t, score: s})
		}

		slices.SortStableFunc(entries, func(a, b entry) int {
			if a.score.Candidate != b.score.Candidate {
				if a.score.Candidate {
					return -1
				}
				return 1
			}
			if n := cmp.Compare(b.score.DeductibleLikelihood, a.score.DeductibleLikelihood); n != 0 {
				return n
			}
			switch {
			case a.tx.PostedDate.After(b.tx.PostedDate):
				return -1
			case a.tx.PostedDate.Before(b.tx.PostedDate):
				return 1
			}
			return 0
		})

		for _, e := range entries {
			if !yield(e.tx, e.score) {
				return
			}
		}
	}
}
