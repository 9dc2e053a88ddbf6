package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// Purger deletes expired idempotency records.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// IdempotencyWorker removes finished idempotency keys once they outlive their TTL.
type IdempotencyWorker struct {
	store        Purger
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewIdempotencyWorker(store Purger) *IdempotencyWorker {
	return &IdempotencyWorker{
		store:        store,
		pollInterval: time.Hour,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *IdempotencyWorker) WithPollInterval(interval time.Duration) *IdempotencyWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start runs until Stop is called or the context is canceled.
func (w *IdempotencyWorker) Start(ctx context.Context) {
	zap.L().Info("idempotency worker starting", zap.Duration("interval", w.pollInterval))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.PurgeOnce(ctx); err != nil {
				zap.L().Error("idempotency purge failed", zap.Error(err))
			}
		}
	}
}

func (w *IdempotencyWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// PurgeOnce runs a single purge immediately.
func (w *IdempotencyWorker) PurgeOnce(ctx context.Context) (int64, error) {
	n, err := w.store.PurgeExpired(ctx)
	if err != nil {
		observability.IncrementWorkerRun("idempotency_purge", "failed")
		return 0, err
	}
	observability.IncrementWorkerRun("idempotency_purge", "success")
	if n > 0 {
		zap.L().Info("purged expired idempotency keys", zap.Int64("count", n))
	}
	return n, nil
}

// Run starts the worker and returns a function that stops it.
func (w *IdempotencyWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *IdempotencyWorker) String() string {
	return fmt.Sprintf("IdempotencyWorker(interval=%v)", w.pollInterval)
}
