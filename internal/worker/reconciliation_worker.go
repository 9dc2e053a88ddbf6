package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// StaleLister returns transfers left PENDING past the reconciliation threshold.
type StaleLister interface {
	ListStale(ctx context.Context) ([]domain.TransferRecord, error)
	CountStale(ctx context.Context) (int, error)
}

// ReconciliationWorker periodically surfaces transfers stuck in PENDING. Each
// stuck transfer is escalated once; later passes only log at warn until it
// leaves the stale set.
type ReconciliationWorker struct {
	svc      StaleLister
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	escalated map[string]struct{}
}

// NewReconciliationWorker constructs a worker with a one minute interval.
func NewReconciliationWorker(svc StaleLister) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:       svc,
		interval:  time.Minute,
		stopCh:    make(chan struct{}),
		escalated: make(map[string]struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks, sweeping once immediately and then on every tick.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Transfers left PENDING by a previous process show up on the first pass.
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// Sweep runs one reconciliation pass and returns how many transfers were
// escalated for the first time.
func (w *ReconciliationWorker) Sweep(ctx context.Context) int {
	stale, err := w.svc.ListStale(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return 0
	}
	observability.IncrementWorkerRun("reconciliation", "success")
	observability.SetStalePendingTransfers(w.staleTotal(ctx, len(stale)))

	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[string]struct{}, len(stale))
	escalated := 0
	for _, rec := range stale {
		current[rec.TransactionID] = struct{}{}
		fields := []zap.Field{
			zap.String("transaction_id", rec.TransactionID),
			zap.String("from_account", rec.FromAccount),
			zap.String("to_account", rec.ToAccount),
			zap.String("amount", rec.Amount.String()),
			zap.Time("updated_at", rec.UpdatedAt),
		}
		if _, seen := w.escalated[rec.TransactionID]; seen {
			zap.L().Warn("transfer still stuck in PENDING", fields...)
			continue
		}
		zap.L().Error("CRITICAL: transfer stuck in PENDING, manual reconciliation required", fields...)
		escalated++
	}
	for txID := range w.escalated {
		if _, ok := current[txID]; !ok {
			zap.L().Info("stale transfer no longer pending", zap.String("transaction_id", txID))
		}
	}
	w.escalated = current
	return escalated
}

// staleTotal counts every stale transfer, since the listing stops at its limit.
// It falls back to the listed count when the count query fails.
func (w *ReconciliationWorker) staleTotal(ctx context.Context, listed int) int {
	total, err := w.svc.CountStale(ctx)
	if err != nil {
		zap.L().Warn("count stale transfers failed", zap.Error(err))
		return listed
	}
	return max(total, listed)
}
