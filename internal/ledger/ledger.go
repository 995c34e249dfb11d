// Package ledger turns confirmed drafts into canonical expenses. It is the
// only writer of expenses and upholds one expense per (user, source).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/caretrack/internal/config"
	"github.com/zombor/caretrack/internal/expense"
)

// Store persists expenses
type Store interface {
	// InsertExpense saves e unless an expense with the same user and
	// non-manual source exists, in which case that one is returned with
	// created=false. The check and the insert must be atomic.
	InsertExpense(ctx context.Context, e *expense.Expense) (*expense.Expense, bool, error)

	// GetExpense retrieves one of a user's expenses
	GetExpense(ctx context.Context, userID, id string) (*expense.Expense, error)

	// ListExpenses returns all of a user's expenses
	ListExpenses(ctx context.Context, userID string) ([]*expense.Expense, error)
}

// DecisionReader reads triage decisions
type DecisionReader interface {
	GetDecision(ctx context.Context, key string) (*expense.TriageDecision, error)
}

// IDGenerator generates unique IDs for expenses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ErrNotKept is returned when materializing a decision that has no
// confirmed draft
var ErrNotKept = errors.New("transaction has not been kept")

// Materializer converts drafts into persisted expenses
type Materializer struct {
	store       Store
	decisions   DecisionReader
	cfg         config.LedgerConfig
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewMaterializer creates a Materializer with uuid IDs and the system clock
func NewMaterializer(store Store, decisions DecisionReader, cfg config.LedgerConfig) *Materializer {
	return NewMaterializerWithDeps(store, decisions, cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewMaterializerWithDeps creates a Materializer with custom dependencies for testing
func NewMaterializerWithDeps(store Store, decisions DecisionReader, cfg config.LedgerConfig, idGen IDGenerator, timeSrc TimeSource) *Materializer {
	return &Materializer{
		store:       store,
		decisions:   decisions,
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Materialize persists draft for userID. Re-materializing a non-manual
// source returns the expense created the first time with created=false.
// Invalid drafts fail with an InvalidDraft error before any write.
func (m *Materializer) Materialize(ctx context.Context, userID string, draft expense.ExpenseDraft) (*expense.Expense, bool, error) {
	now := m.timeSource.Now()

	draft = normalizeDraft(draft)
	if err := m.validate(draft, now); err != nil {
		return nil, false, err
	}

	e := &expense.Expense{
		ExpenseDraft: draft,
		ID:           m.idGenerator.Generate(),
		UserID:       userID,
		CreatedAt:    now,
	}

	saved, created, err := m.store.InsertExpense(ctx, e)
	if err != nil {
		return nil, false, fmt.Errorf("saving expense: %w", err)
	}

	if created {
		slog.Info("Expense materialized", "id", saved.ID, "source", saved.SourceRef.String(), "amount", saved.Amount.StringFixed(2))
	} else {
		// Duplicate sources resolve to the existing expense
		slog.Info("Expense already materialized", "id", saved.ID, "source", saved.SourceRef.String(),
			"kind", expense.DuplicateSourceRef.String())
	}
	return saved, created, nil
}

// MaterializeDecision materializes the draft of a kept transaction
func (m *Materializer) MaterializeDecision(ctx context.Context, userID, key string) (*expense.Expense, bool, error) {
	d, err := m.decisions.GetDecision(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("getting decision %s: %w", key, err)
	}
	if d.State != expense.StateKept || d.Draft == nil {
		return nil, false, fmt.Errorf("%s is %s: %w", key, d.State, ErrNotKept)
	}
	return m.Materialize(ctx, userID, *d.Draft)
}

// Get retrieves an expense
func (m *Materializer) Get(ctx context.Context, userID, id string) (*expense.Expense, error) {
	e, err := m.store.GetExpense(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return e, nil
}

// List returns a user's expenses
func (m *Materializer) List(ctx context.Context, userID string) ([]*expense.Expense, error) {
	expenses, err := m.store.ListExpenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

func normalizeDraft(d expense.ExpenseDraft) expense.ExpenseDraft {
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.TrimSpace(d.Category)
	d.Subcategory = strings.TrimSpace(d.Subcategory)
	d.CareRecipientID = strings.TrimSpace(d.CareRecipientID)
	d.SourceRef.ID = strings.TrimSpace(d.SourceRef.ID)
	d.Amount = d.Amount.Round(2)
	if d.Description == "" {
		d.Description = d.Category
	}
	return d
}

// draftFieldOrder decides which field is reported when several are invalid
var draftFieldOrder = []string{"amount", "category", "date", "sourceRef"}

func (m *Materializer) validate(d expense.ExpenseDraft, now time.Time) error {
	latest := civil.DateOf(now.Add(m.cfg.ClockSkewTolerance))

	err := validation.ValidateStruct(&d,
		validation.Field(&d.Amount, validation.By(positiveAmount)),
		validation.Field(&d.Category, validation.Required),
		validation.Field(&d.Date, validation.By(dateNotAfter(latest))),
		validation.Field(&d.SourceRef, validation.By(validSourceRef)),
	)
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating draft: %w", err)
	}
	for _, field := range draftFieldOrder {
		if fe, ok := fieldErrs[field]; ok {
			return &expense.Error{Kind: expense.InvalidDraft, Field: field, Message: fmt.Sprintf("%s %s", field, fe.Error()), Err: fe}
		}
	}
	return &expense.Error{Kind: expense.InvalidDraft, Message: err.Error(), Err: err}
}

func positiveAmount(value interface{}) error {
	amount, _ := value.(decimal.Decimal)
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func dateNotAfter(latest civil.Date) validation.RuleFunc {
	return func(value interface{}) error {
		d, _ := value.(civil.Date)
		if !d.IsValid() {
			return errors.New("is required")
		}
		if d.After(latest) {
			return errors.New("cannot be in the future")
		}
		return nil
	}
}

func validSourceRef(value interface{}) error {
	ref, _ := value.(expense.SourceRef)
	switch ref.Type {
	case expense.SourceManual:
		return nil
	case expense.SourceOCR, expense.SourceTransaction:
		if ref.ID == "" {
			return errors.New("id is required")
		}
		return nil
	}
	return fmt.Errorf("type %q is not valid", ref.Type)
}
