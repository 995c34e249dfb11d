package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/store"
)

// mockStore is an in-memory Store whose compare-and-swap holds a lock
type mockStore struct {
	mu        sync.Mutex
	order     []string
	txs       map[string]expense.BankTransaction
	decisions map[string]expense.TriageDecision
	casCalls  int
	err       error
}

func newMockStore() *mockStore {
	return &mockStore{
		txs:       make(map[string]expense.BankTransaction),
		decisions: make(map[string]expense.TriageDecision),
	}
}

func (m *mockStore) SyncTransactions(ctx context.Context, txs []expense.BankTransaction, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	created := 0
	for _, t := range txs {
		if _, ok := m.txs[t.Key()]; !ok {
			m.order = append(m.order, t.Key())
			m.txs[t.Key()] = t
		}
		if _, ok := m.decisions[t.Key()]; !ok {
			m.decisions[t.Key()] = expense.TriageDecision{TransactionKey: t.Key(), State: expense.StatePending, UpdatedAt: now}
			created++
		}
	}
	return created, nil
}

func (m *mockStore) GetTransaction(ctx context.Context, key string) (*expense.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *mockStore) GetDecision(ctx context.Context, key string) (*expense.TriageDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (m *mockStore) CompareAndSwapDecision(ctx context.Context, key string, expected expense.TriageState, revision int, next *expense.TriageDecision) (*expense.TriageDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	current, ok := m.decisions[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.State != expected || current.Revision != revision {
		return &current, store.ErrConflict
	}
	saved := *next
	saved.Revision = revision + 1
	m.decisions[key] = saved
	return &saved, nil
}

func (m *mockStore) ListPending(ctx context.Context) ([]expense.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []expense.BankTransaction
	for _, key := range m.order {
		if m.decisions[key].State == expense.StatePending {
			out = append(out, m.txs[key])
		}
	}
	return out, nil
}

// racingStore reports the decision as pending on read but lets another
// writer win before the swap
type racingStore struct {
	*mockStore
	winner expense.TriageState
}

func (r *racingStore) GetDecision(ctx context.Context, key string) (*expense.TriageDecision, error) {
	d, err := r.mockStore.GetDecision(ctx, key)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	won := *d
	won.State = r.winner
	won.Revision++
	r.decisions[key] = won
	r.mu.Unlock()
	return d, nil
}

type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

var errBoom = errors.New("boom")
