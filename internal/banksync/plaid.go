package banksync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/zombor/caretrack/internal/expense"
)

// PlaidConfig holds Plaid API configuration
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate ensures all required fields are present
func (c *PlaidConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	switch c.Environment {
	case "sandbox", "production":
		return nil
	}
	return fmt.Errorf("invalid plaid environment %q: must be sandbox or production", c.Environment)
}

// transactionPager fetches one page of transactions
type transactionPager interface {
	transactions(ctx context.Context, start, end string, offset, count int32) ([]plaid.Transaction, int32, error)
}

type plaidAPI struct {
	client      *plaid.APIClient
	accessToken string
}

func (a *plaidAPI) transactions(ctx context.Context, start, end string, offset, count int32) ([]plaid.Transaction, int32, error) {
	request := plaid.NewTransactionsGetRequest(a.accessToken, start, end)
	request.SetOptions(plaid.TransactionsGetRequestOptions{
		Count:  plaid.PtrInt32(count),
		Offset: plaid.PtrInt32(offset),
	})

	resp, _, err := a.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
	if err != nil {
		if plaidErr, convErr := plaid.ToPlaidError(err); convErr == nil {
			if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" || plaidErr.ErrorCode == "PRODUCT_NOT_READY" {
				return nil, 0, &RetryableError{Err: fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage), Retryable: true}
			}
			return nil, 0, Permanent(fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage))
		}
		return nil, 0, fmt.Errorf("fetching transactions: %w", err)
	}
	return resp.GetTransactions(), resp.GetTotalTransactions(), nil
}

// PlaidSource fetches transactions from one linked Plaid item
type PlaidSource struct {
	api      transactionPager
	retry    RetryOptions
	pageSize int32
	logger   *slog.Logger
}

// NewPlaidSource creates a PlaidSource
func NewPlaidSource(cfg PlaidConfig) (*PlaidSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	api := &plaidAPI{client: plaid.NewAPIClient(configuration), accessToken: cfg.AccessToken}
	return newPlaidSource(api, DefaultRetryOptions), nil
}

func newPlaidSource(api transactionPager, retry RetryOptions) *PlaidSource {
	return &PlaidSource{
		api:      api,
		retry:    retry,
		pageSize: 500, // Plaid's max page size
		logger:   slog.Default().With("component", "plaid"),
	}
}

// Name identifies the source
func (p *PlaidSource) Name() string {
	return "plaid"
}

// Fetch pages through /transactions/get. Pending transactions are left out
// because Plaid gives them a new ID once they post.
func (p *PlaidSource) Fetch(ctx context.Context, start, end time.Time) ([]expense.BankTransaction, error) {
	if start.After(end) {
		return nil, fmt.Errorf("start date must be before end date")
	}

	startDate, endDate := start.Format("2006-01-02"), end.Format("2006-01-02")
	p.logger.Info("Fetching transactions from Plaid", "start_date", startDate, "end_date", endDate)

	var all []plaid.Transaction
	offset := int32(0)
	for {
		var (
			page  []plaid.Transaction
			total int32
		)
		err := WithRetry(ctx, func() error {
			var err error
			page, total, err = p.api.transactions(ctx, startDate, endDate, offset, p.pageSize)
			return err
		}, p.retry)
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		offset += int32(len(page))
		if len(page) == 0 || offset >= total {
			break
		}
	}

	txs := make([]expense.BankTransaction, 0, len(all))
	for _, pt := range all {
		if pt.GetPending() {
			continue
		}
		tx, err := fromPlaid(pt)
		if err != nil {
			p.logger.Warn("Skipping Plaid transaction", "transaction_id", pt.GetTransactionId(), "error", err)
			continue
		}
		txs = append(txs, tx)
	}

	p.logger.Info("Fetched transactions from Plaid", "count", len(txs), "skipped", len(all)-len(txs))
	return txs, nil
}

// fromPlaid converts a Plaid transaction. Plaid amounts are positive for
// money leaving the account, the opposite of ours.
func fromPlaid(pt plaid.Transaction) (expense.BankTransaction, error) {
	date, err := civil.ParseDate(pt.GetDate())
	if err != nil {
		return expense.BankTransaction{}, fmt.Errorf("parsing date %q: %w", pt.GetDate(), err)
	}

	cents := decimal.NewFromFloat(pt.GetAmount()).Shift(2).Round(0).IntPart()

	return expense.BankTransaction{
		ID:                     pt.GetTransactionId(),
		AccountID:              pt.GetAccountId(),
		AmountCents:            -cents,
		PostedDate:             date,
		RawDescription:         pt.GetName(),
		MerchantNameNormalized: pt.GetMerchantName(),
	}, nil
}
