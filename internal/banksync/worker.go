package banksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/triage"
)

// Syncer stores fetched transactions
type Syncer interface {
	Sync(ctx context.Context, txs []expense.BankTransaction) (triage.SyncResult, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// WorkerConfig holds settings for the sync worker
type WorkerConfig struct {
	Interval time.Duration
	// How far back each sync looks. Banks revise recent transactions, so
	// this overlaps previous runs.
	Lookback time.Duration
}

// Worker periodically pulls transactions from every source into the
// triage queue
type Worker struct {
	sources    []Source
	syncer     Syncer
	cfg        WorkerConfig
	timeSource TimeSource
	mu         sync.Mutex
}

// NewWorker creates a sync worker
func NewWorker(sources []Source, syncer Syncer, cfg WorkerConfig) *Worker {
	return NewWorkerWithDeps(sources, syncer, cfg, &defaultTimeSource{})
}

// NewWorkerWithDeps creates a sync worker with a custom clock for testing
func NewWorkerWithDeps(sources []Source, syncer Syncer, cfg WorkerConfig, timeSrc TimeSource) *Worker {
	return &Worker{
		sources:    sources,
		syncer:     syncer,
		cfg:        cfg,
		timeSource: timeSrc,
	}
}

// SyncNow fetches from all sources concurrently and syncs whatever was
// fetched. A failing source does not stop the others; its error is
// returned alongside the combined result.
func (w *Worker) SyncNow(ctx context.Context) (triage.SyncResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := w.timeSource.Now()
	start := end.Add(-w.cfg.Lookback)

	batches := make([][]expense.BankTransaction, len(w.sources))
	fetchErrs := make([]error, len(w.sources))

	var g errgroup.Group
	for i, src := range w.sources {
		g.Go(func() error {
			txs, err := src.Fetch(ctx, start, end)
			if err != nil {
				slog.Error("Bank source fetch failed", "source", src.Name(), "error", err)
				fetchErrs[i] = fmt.Errorf("fetching from %s: %w", src.Name(), err)
				return nil
			}
			batches[i] = txs
			return nil
		})
	}
	_ = g.Wait()

	var total triage.SyncResult
	for i, txs := range batches {
		if fetchErrs[i] != nil || len(txs) == 0 {
			continue
		}
		result, err := w.syncer.Sync(ctx, txs)
		if err != nil {
			fetchErrs[i] = fmt.Errorf("syncing %s: %w", w.sources[i].Name(), err)
			continue
		}
		total.Received += result.Received
		total.New += result.New
		total.Invalid += result.Invalid
	}

	return total, errors.Join(fetchErrs...)
}

// Run syncs immediately and then on every tick until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}

	slog.Info("Bank sync worker started", "interval", w.cfg.Interval, "lookback", w.cfg.Lookback, "sources", len(w.sources))

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.SyncNow(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Bank sync incomplete", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Bank sync worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
