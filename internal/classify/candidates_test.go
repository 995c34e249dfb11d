package classify

import (
	"cloud.google.com/go/civil"

	"github.com/zombor/caretrack/internal/config"
	"github.com/zombor/caretrack/internal/expense"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fixedScorer scores transactions from a map keyed by ID
type fixedScorer struct {
	scores map[string]float64
	calls  int
}

func (f *fixedScorer) ClassifyTransaction(t expense.BankTransaction) Result {
	f.calls++
	return Result{Category: "Test", DeductibleLikelihood: f.scores[t.ID]}
}

func ids(seq func(func(expense.BankTransaction, Score) bool)) []string {
	var out []string
	for t := range seq {
		out = append(out, t.ID)
	}
	return out
}

var _ = Describe("Candidates", func() {
	var (
		scorer *fixedScorer
		txs    []expense.BankTransaction
		view   *Candidates
		day    civil.Date
	)

	BeforeEach(func() {
		day = civil.Date{Year: 2024, Month: 3, Day: 1}
		scorer = &fixedScorer{scores: map[string]float64{"A": 0.7, "B": 0.7, "C": 0.9, "D": 0.2}}
		txs = []expense.BankTransaction{
			{ID: "A", AccountID: "acct", PostedDate: day},
			{ID: "B", AccountID: "acct", PostedDate: day},
			{ID: "C", AccountID: "acct", PostedDate: day},
		}
	})

	JustBeforeEach(func() {
		view = ScoreCandidates(scorer, 0.6, txs)
	})

	It("should rank higher scores first and keep sync order among equal scores", func() {
		Expect(ids(view.Ranked())).To(Equal([]string{"C", "A", "B"}))
	})

	It("should keep input order in the all view", func() {
		Expect(ids(view.All())).To(Equal([]string{"A", "B", "C"}))
	})

	It("should be restartable", func() {
		first := ids(view.Ranked())
		Expect(ids(view.Ranked())).To(Equal(first))
	})

	It("should not score anything until iterated", func() {
		Expect(scorer.calls).To(BeZero())
	})

	It("should stop scoring when the consumer stops", func() {
		for range view.All() {
			break
		}
		Expect(scorer.calls).To(Equal(1))
	})

	When("some transactions fall below the cutoff", func() {
		BeforeEach(func() {
			txs = append([]expense.BankTransaction{{ID: "D", AccountID: "acct", PostedDate: day}}, txs...)
		})

		It("should keep them at the end of the ranked view with their score", func() {
			var last Score
			for t, s := range view.Ranked() {
				if t.ID == "D" {
					last = s
				}
			}
			Expect(ids(view.Ranked())).To(Equal([]string{"C", "A", "B", "D"}))
			Expect(last.Candidate).To(BeFalse())
			Expect(last.DeductibleLikelihood).To(Equal(0.2))
		})

		It("should leave them out of the candidates view", func() {
			Expect(ids(view.CandidatesOnly())).To(Equal([]string{"C", "A", "B"}))
		})

		It("should count every transaction", func() {
			Expect(view.Len()).To(Equal(4))
		})
	})

	When("equal scores have different posted dates", func() {
		BeforeEach(func() {
			txs[0].PostedDate = day.AddDays(-3)
		})

		It("should put the more recent one first", func() {
			Expect(ids(view.Ranked())).To(Equal([]string{"C", "B", "A"}))
		})
	})

	When("scored by the real classifier", func() {
		It("should mark pharmacy purchases as candidates", func() {
			classifier := NewClassifier(config.Default().Classification, nil)
			view := classifier.Candidates([]expense.BankTransaction{
				{ID: "1", AccountID: "a", AmountCents: -1299, RawDescription: "STARBUCKS 0042"},
				{ID: "2", AccountID: "a", AmountCents: -4217, RawDescription: "CVS/PHARMACY #04512"},
			})
			Expect(ids(view.CandidatesOnly())).To(Equal([]string{"2"}))
		})
	})
})
