// Package triage runs the review queue for synced bank transactions. Every
// transaction starts pending and moves exactly once to kept or skipped; only
// an explicit Reset puts it back.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/caretrack/internal/classify"
	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/store"
)

// Store is the persistence the queue needs. CompareAndSwapDecision must
// check and write in one atomic step.
type Store interface {
	// SyncTransactions saves transactions and creates a pending decision for
	// each one that has none. It returns how many decisions were created.
	SyncTransactions(ctx context.Context, txs []expense.BankTransaction, now time.Time) (int, error)

	// GetTransaction retrieves a transaction by key
	GetTransaction(ctx context.Context, key string) (*expense.BankTransaction, error)

	// GetDecision retrieves the decision for a transaction key
	GetDecision(ctx context.Context, key string) (*expense.TriageDecision, error)

	// CompareAndSwapDecision replaces the decision only if it still has the
	// expected state and revision. On mismatch it returns the stored
	// decision and store.ErrConflict.
	CompareAndSwapDecision(ctx context.Context, key string, expected expense.TriageState, revision int, next *expense.TriageDecision) (*expense.TriageDecision, error)

	// ListPending returns pending transactions in sync order
	ListPending(ctx context.Context) ([]expense.BankTransaction, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// View selects which pending transactions Review returns
type View string

const (
	ViewAll        View = "all"
	ViewCandidates View = "candidates"
)

// ParseView parses a view name, defaulting to ViewAll
func ParseView(s string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewCandidates:
		return ViewCandidates, nil
	}
	return "", fmt.Errorf("unknown review view %q", s)
}

// DraftOverrides are user edits applied on top of the suggested draft. Nil
// fields keep the suggestion.
type DraftOverrides struct {
	Description     *string          `json:"description,omitempty"`
	Category        *string          `json:"category,omitempty"`
	Subcategory     *string          `json:"subcategory,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Date            *civil.Date      `json:"date,omitempty"`
	CareRecipientID *string          `json:"careRecipientId,omitempty"`
	IsTaxDeductible *bool            `json:"isTaxDeductible,omitempty"`
}

func (o DraftOverrides) apply(d *expense.ExpenseDraft) {
	if o.Description != nil {
		d.Description = *o.Description
	}
	if o.Category != nil {
		d.Category = *o.Category
	}
	if o.Subcategory != nil {
		d.Subcategory = *o.Subcategory
	}
	if o.Amount != nil {
		d.Amount = *o.Amount
	}
	if o.Date != nil {
		d.Date = *o.Date
	}
	if o.CareRecipientID != nil {
		d.CareRecipientID = *o.CareRecipientID
	}
	if o.IsTaxDeductible != nil {
		d.IsTaxDeductible = *o.IsTaxDeductible
	}
}

// SyncResult reports what a sync changed
type SyncResult struct {
	Received int `json:"received"`
	New      int `json:"new"`
	Invalid  int `json:"invalid"`
}

// Item is one entry of the review queue
type Item struct {
	Transaction expense.BankTransaction `json:"transaction"`
	Score       classify.Score          `json:"score"`
}

// Queue is the triage state machine
type Queue struct {
	store      Store
	classifier *classify.Classifier
	timeSource TimeSource
}

// NewQueue creates a Queue
func NewQueue(store Store, classifier *classify.Classifier) *Queue {
	return NewQueueWithDeps(store, classifier, &defaultTimeSource{})
}

// NewQueueWithDeps creates a Queue with a custom time source for testing
func NewQueueWithDeps(store Store, classifier *classify.Classifier, timeSrc TimeSource) *Queue {
	return &Queue{
		store:      store,
		classifier: classifier,
		timeSource: timeSrc,
	}
}

// Sync stores newly synced transactions. A transaction already synced keeps
// its stored body and decision; re-syncing never changes either.
func (q *Queue) Sync(ctx context.Context, txs []expense.BankTransaction) (SyncResult, error) {
	result := SyncResult{Received: len(txs)}

	valid := make([]expense.BankTransaction, 0, len(txs))
	for _, t := range txs {
		if t.ID == "" || t.AccountID == "" {
			slog.Warn("Dropping synced transaction without identity", "id", t.ID, "account_id", t.AccountID)
			result.Invalid++
			continue
		}
		if !t.PostedDate.IsValid() {
			slog.Warn("Dropping synced transaction without a posted date", "key", t.Key())
			result.Invalid++
			continue
		}
		valid = append(valid, t)
	}

	created, err := q.store.SyncTransactions(ctx, valid, q.timeSource.Now())
	if err != nil {
		return result, fmt.Errorf("saving synced transactions: %w", err)
	}
	result.New = created

	slog.Info("Synced transactions", "received", result.Received, "new", result.New, "invalid", result.Invalid)
	return result, nil
}

// Decision returns the current decision for a transaction
func (q *Queue) Decision(ctx context.Context, key string) (*expense.TriageDecision, error) {
	d, err := q.store.GetDecision(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("getting decision %s: %w", key, err)
	}
	return d, nil
}

// Review returns the pending queue, candidates first
func (q *Queue) Review(ctx context.Context, view View) ([]Item, error) {
	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}

	candidates := q.classifier.Candidates(pending)
	seq := candidates.Ranked()
	if view == ViewCandidates {
		seq = candidates.CandidatesOnly()
	}

	items := make([]Item, 0, candidates.Len())
	for t, s := range seq {
		items = append(items, Item{Transaction: t, Score: s})
	}
	return items, nil
}

// Skip moves a pending transaction to skipped. A transaction that is no
// longer pending fails with an AlreadyDecided error and is left unchanged.
func (q *Queue) Skip(ctx context.Context, key string) (*expense.TriageDecision, error) {
	current, err := q.pending(ctx, key)
	if err != nil {
		return nil, err
	}

	next := &expense.TriageDecision{
		TransactionKey: key,
		State:          expense.StateSkipped,
		UpdatedAt:      q.timeSource.Now(),
	}
	return q.transition(ctx, current, next)
}

// Keep moves a pending transaction to kept with a draft built from its
// classification and the user's overrides. The draft is returned for
// confirmation; it is not materialized.
func (q *Queue) Keep(ctx context.Context, key string, overrides DraftOverrides) (*expense.TriageDecision, error) {
	current, err := q.pending(ctx, key)
	if err != nil {
		return nil, err
	}

	tx, err := q.store.GetTransaction(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", key, err)
	}

	draft := q.SuggestDraft(*tx)
	overrides.apply(&draft)

	next := &expense.TriageDecision{
		TransactionKey: key,
		State:          expense.StateKept,
		Draft:          &draft,
		UpdatedAt:      q.timeSource.Now(),
	}
	return q.transition(ctx, current, next)
}

// Reset returns a decided transaction to pending and drops its draft.
// Resetting a pending transaction is a no-op.
func (q *Queue) Reset(ctx context.Context, key string) (*expense.TriageDecision, error) {
	current, err := q.Decision(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.State == expense.StatePending {
		return current, nil
	}

	next := &expense.TriageDecision{
		TransactionKey: key,
		State:          expense.StatePending,
		UpdatedAt:      q.timeSource.Now(),
	}
	return q.transition(ctx, current, next)
}

// SuggestDraft builds the draft a Keep would start from
func (q *Queue) SuggestDraft(tx expense.BankTransaction) expense.ExpenseDraft {
	result := q.classifier.ClassifyTransaction(tx)

	description := tx.MerchantNameNormalized
	if description == "" {
		description = classify.NormalizeMerchant(tx.RawDescription)
	}

	return expense.ExpenseDraft{
		Description:     description,
		Category:        result.Category,
		Subcategory:     result.Subcategory,
		Amount:          tx.Amount(),
		Date:            tx.PostedDate,
		IsTaxDeductible: q.classifier.IsCandidate(result),
		SourceRef:       expense.SourceRef{Type: expense.SourceTransaction, ID: tx.Key()},
	}
}

// pending loads the decision and requires it to be pending
func (q *Queue) pending(ctx context.Context, key string) (*expense.TriageDecision, error) {
	current, err := q.Decision(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.State != expense.StatePending {
		return nil, alreadyDecided(current)
	}
	return current, nil
}

func (q *Queue) transition(ctx context.Context, current, next *expense.TriageDecision) (*expense.TriageDecision, error) {
	saved, err := q.store.CompareAndSwapDecision(ctx, current.TransactionKey, current.State, current.Revision, next)
	if errors.Is(err, store.ErrConflict) {
		slog.Info("Triage decision lost a race", "key", current.TransactionKey, "wanted", next.State)
		if saved == nil {
			saved = current
		}
		return nil, alreadyDecided(saved)
	}
	if err != nil {
		return nil, fmt.Errorf("saving decision %s: %w", current.TransactionKey, err)
	}

	slog.Info("Triage decision recorded", "key", saved.TransactionKey, "from", current.State, "to", saved.State)
	return saved, nil
}

func alreadyDecided(d *expense.TriageDecision) error {
	return &expense.Error{
		Kind:    expense.AlreadyDecided,
		Field:   d.TransactionKey,
		Message: fmt.Sprintf("This transaction was already %s.", d.State),
	}
}
