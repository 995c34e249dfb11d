package banksync

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/plaid/plaid-go/v20/plaid"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type pageCall struct {
	start, end    string
	offset, count int32
}

type mockPager struct {
	pages [][]plaid.Transaction
	total int32
	errs  []error
	calls []pageCall
}

func (m *mockPager) transactions(_ context.Context, start, end string, offset, count int32) ([]plaid.Transaction, int32, error) {
	m.calls = append(m.calls, pageCall{start, end, offset, count})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, 0, err
		}
	}
	if len(m.pages) == 0 {
		return nil, m.total, nil
	}
	page := m.pages[0]
	m.pages = m.pages[1:]
	return page, m.total, nil
}

func plaidTx(id string, amount float64, date, name, merchant string, pending bool) plaid.Transaction {
	var t plaid.Transaction
	t.SetTransactionId(id)
	t.SetAccountId("acct-1")
	t.SetAmount(amount)
	t.SetDate(date)
	t.SetName(name)
	if merchant != "" {
		t.SetMerchantName(merchant)
	}
	t.SetPending(pending)
	return t
}

var _ = Describe("PlaidSource", func() {
	var (
		pager  *mockPager
		source *PlaidSource
		start  time.Time
		end    time.Time
	)

	BeforeEach(func() {
		pager = &mockPager{}
		start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		source = newPlaidSource(pager, RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond})
		source.pageSize = 2
	})

	When("transactions span several pages", func() {
		BeforeEach(func() {
			pager.total = 3
			pager.pages = [][]plaid.Transaction{
				{
					plaidTx("t1", 42.50, "2024-03-10", "CVS/PHARMACY #1234", "CVS", false),
					plaidTx("t2", 12.00, "2024-03-11", "UBER TRIP", "", false),
				},
				{
					plaidTx("t3", -20.00, "2024-03-12", "REFUND", "", false),
				},
			}
		})

		It("pages through them with increasing offsets", func() {
			txs, err := source.Fetch(context.Background(), start, end)
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(3))
			Expect(pager.calls).To(Equal([]pageCall{
				{"2024-03-01", "2024-03-31", 0, 2},
				{"2024-03-01", "2024-03-31", 2, 2},
			}))
		})

		It("flips the amount sign so debits are negative", func() {
			txs, _ := source.Fetch(context.Background(), start, end)
			Expect(txs[0].AmountCents).To(Equal(int64(-4250)))
			Expect(txs[2].AmountCents).To(Equal(int64(2000)))
		})

		It("maps identity, date and descriptions", func() {
			txs, _ := source.Fetch(context.Background(), start, end)
			Expect(txs[0].ID).To(Equal("t1"))
			Expect(txs[0].AccountID).To(Equal("acct-1"))
			Expect(txs[0].Key()).To(Equal("acct-1:t1"))
			Expect(txs[0].PostedDate).To(Equal(civil.Date{Year: 2024, Month: time.March, Day: 10}))
			Expect(txs[0].RawDescription).To(Equal("CVS/PHARMACY #1234"))
			Expect(txs[0].MerchantNameNormalized).To(Equal("CVS"))
			Expect(txs[1].MerchantNameNormalized).To(BeEmpty())
		})
	})

	When("a transaction is pending or has a bad date", func() {
		BeforeEach(func() {
			pager.total = 3
			pager.pages = [][]plaid.Transaction{{
				plaidTx("p1", 5, "2024-03-10", "PENDING", "", true),
				plaidTx("bad", 5, "March 10", "BAD DATE", "", false),
				plaidTx("ok", 5, "2024-03-10", "OK", "", false),
			}}
		})

		It("leaves it out", func() {
			txs, err := source.Fetch(context.Background(), start, end)
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(1))
			Expect(txs[0].ID).To(Equal("ok"))
		})
	})

	When("the API fails transiently", func() {
		BeforeEach(func() {
			pager.total = 1
			pager.errs = []error{&RetryableError{Err: errors.New("rate limited"), Retryable: true}}
			pager.pages = [][]plaid.Transaction{{plaidTx("t1", 1, "2024-03-10", "X", "", false)}}
		})

		It("retries the page", func() {
			txs, err := source.Fetch(context.Background(), start, end)
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(1))
			Expect(pager.calls).To(HaveLen(2))
		})
	})

	When("the API fails permanently", func() {
		BeforeEach(func() {
			pager.errs = []error{Permanent(errors.New("INVALID_ACCESS_TOKEN"))}
		})

		It("returns the error without retrying", func() {
			_, err := source.Fetch(context.Background(), start, end)
			Expect(err).To(MatchError("INVALID_ACCESS_TOKEN"))
			Expect(pager.calls).To(HaveLen(1))
		})
	})

	It("rejects an inverted date range", func() {
		_, err := source.Fetch(context.Background(), end, start)
		Expect(err).To(HaveOccurred())
		Expect(pager.calls).To(BeEmpty())
	})
})

var _ = Describe("PlaidConfig", func() {
	It("requires credentials and a known environment", func() {
		cfg := PlaidConfig{ClientID: "id", Secret: "s", AccessToken: "tok", Environment: "sandbox"}
		Expect(cfg.Validate()).To(Succeed())

		cfg.Environment = "development"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("invalid plaid environment")))

		cfg.Environment = "production"
		cfg.AccessToken = ""
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("access token")))
	})
})
