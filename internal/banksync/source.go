// Package banksync pulls bank and card transactions from Plaid or OFX
// statements and feeds them to the triage queue.
package banksync

import (
	"context"
	"time"

	"github.com/zombor/caretrack/internal/expense"
)

// Source fetches posted transactions
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Fetch returns transactions posted between start and end inclusive
	Fetch(ctx context.Context, start, end time.Time) ([]expense.BankTransaction, error)
}
