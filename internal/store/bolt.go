// Package store persists expenses and triage state in BoltDB. Every
// conditional write (source dedup, decision compare-and-swap) runs inside a
// single bolt Update transaction, which bolt serializes.
package store

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/caretrack/internal/expense"
)

const (
	expensesBucket     = "expenses"
	sourcesBucket      = "expense_sources"
	transactionsBucket = "transactions"
	decisionsBucket    = "decisions"
)

var buckets = []string{expensesBucket, sourcesBucket, transactionsBucket, decisionsBucket}

// transactionRecord remembers the order transactions were first synced in
type transactionRecord struct {
	Transaction expense.BankTransaction `json:"transaction"`
	Seq         uint64                  `json:"seq"`
}

// BoltDB stores pipeline state in a bolt file
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// sourceKey is the unique index key for (user, source ref)
func sourceKey(userID string, ref expense.SourceRef) []byte {
	return []byte(strings.Join([]string{userID, string(ref.Type), ref.ID}, "\x00"))
}

// InsertExpense saves e unless the user already has an expense with the
// same non-manual source, in which case that expense is returned and
// created is false. The lookup and the insert share one transaction.
func (b *BoltDB) InsertExpense(ctx context.Context, e *expense.Expense) (*expense.Expense, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var (
		result  *expense.Expense
		created bool
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		expenses := tx.Bucket([]byte(expensesBucket))
		sources := tx.Bucket([]byte(sourcesBucket))

		if e.SourceRef.Deduplicated() {
			if existingID := sources.Get(sourceKey(e.UserID, e.SourceRef)); existingID != nil {
				data := expenses.Get(existingID)
				if data == nil {
					return fmt.Errorf("source index points at missing expense %s", existingID)
				}
				return json.Unmarshal(data, &result)
			}
		}

		if expenses.Get([]byte(e.ID)) != nil {
			return fmt.Errorf("expense id %s already in use", e.ID)
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		if err := expenses.Put([]byte(e.ID), data); err != nil {
			return err
		}
		if e.SourceRef.Deduplicated() {
			if err := sources.Put(sourceKey(e.UserID, e.SourceRef), []byte(e.ID)); err != nil {
				return err
			}
		}
		result = e
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetExpense retrieves one of a user's expenses by ID
func (b *BoltDB) GetExpense(ctx context.Context, userID, id string) (*expense.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var e *expense.Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(expensesBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expense %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, fmt.Errorf("expense %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// ListExpenses returns a user's expenses, newest date first
func (b *BoltDB) ListExpenses(ctx context.Context, userID string) ([]*expense.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expenses := make([]*expense.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expensesBucket)).ForEach(func(k, v []byte) error {
			var e expense.Expense
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			if e.UserID == userID {
				expenses = append(expenses, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(expenses, func(a, b *expense.Expense) int {
		switch {
		case a.Date.After(b.Date):
			return -1
		case a.Date.Before(b.Date):
			return 1
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return expenses, nil
}

// SyncTransactions saves transactions not seen before and creates a pending
// decision for each one without a decision. Stored transactions and
// existing decisions are never touched.
func (b *BoltDB) SyncTransactions(ctx context.Context, txs []expense.BankTransaction, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	created := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		transactions := tx.Bucket([]byte(transactionsBucket))
		decisions := tx.Bucket([]byte(decisionsBucket))

		for _, t := range txs {
			key := []byte(t.Key())

			// Synced transactions are immutable; a re-sync only fills in a
			// missing decision
			if transactions.Get(key) == nil {
				seq, err := transactions.NextSequence()
				if err != nil {
					return err
				}
				data, err := json.Marshal(transactionRecord{Transaction: t, Seq: seq})
				if err != nil {
					return fmt.Errorf("marshaling transaction: %w", err)
				}
				if err := transactions.Put(key, data); err != nil {
					return err
				}
			}

			if decisions.Get(key) != nil {
				continue
			}
			decision, err := json.Marshal(expense.TriageDecision{
				TransactionKey: t.Key(),
				State:          expense.StatePending,
				UpdatedAt:      now,
			})
			if err != nil {
				return fmt.Errorf("marshaling decision: %w", err)
			}
			if err := decisions.Put(key, decision); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// GetTransaction retrieves a synced transaction by key
func (b *BoltDB) GetTransaction(ctx context.Context, key string) (*expense.BankTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record transactionRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(transactionsBucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("transaction %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record.Transaction, nil
}

// GetDecision retrieves the triage decision for a transaction key
func (b *BoltDB) GetDecision(ctx context.Context, key string) (*expense.TriageDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var d *expense.TriageDecision
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		d, err = getDecision(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func getDecision(tx *bbolt.Tx, key string) (*expense.TriageDecision, error) {
	data := tx.Bucket([]byte(decisionsBucket)).Get([]byte(key))
	if data == nil {
		return nil, fmt.Errorf("decision %s: %w", key, ErrNotFound)
	}
	var d expense.TriageDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshaling decision %s: %w", key, err)
	}
	return &d, nil
}

// CompareAndSwapDecision writes next only when the stored decision still has
// the expected state and revision. The saved decision gets revision+1. On
// mismatch the stored decision is returned with ErrConflict.
func (b *BoltDB) CompareAndSwapDecision(ctx context.Context, key string, expected expense.TriageState, revision int, next *expense.TriageDecision) (*expense.TriageDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		saved    *expense.TriageDecision
		conflict *expense.TriageDecision
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		current, err := getDecision(tx, key)
		if err != nil {
			return err
		}
		if current.State != expected || current.Revision != revision {
			conflict = current
			return ErrConflict
		}

		updated := *next
		updated.TransactionKey = key
		updated.Revision = revision + 1
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshaling decision: %w", err)
		}
		if err := tx.Bucket([]byte(decisionsBucket)).Put([]byte(key), data); err != nil {
			return err
		}
		saved = &updated
		return nil
	})
	if conflict != nil {
		return conflict, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ListPending returns transactions whose decision is pending, in the order
// they were first synced
func (b *BoltDB) ListPending(ctx context.Context) ([]expense.BankTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []transactionRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		decisions := tx.Bucket([]byte(decisionsBucket))
		return tx.Bucket([]byte(transactionsBucket)).ForEach(func(k, v []byte) error {
			data := decisions.Get(k)
			if data == nil {
				return nil
			}
			var d expense.TriageDecision
			if err := json.Unmarshal(data, &d); err != nil {
				return fmt.Errorf("unmarshaling decision %s: %w", k, err)
			}
			if d.State != expense.StatePending {
				return nil
			}
			var record transactionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling transaction %s: %w", k, err)
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b transactionRecord) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	txs := make([]expense.BankTransaction, len(records))
	for i, r := range records {
		txs[i] = r.Transaction
	}
	return txs, nil
}
