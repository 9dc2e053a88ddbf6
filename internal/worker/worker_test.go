package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStaleLister struct {
	mu       sync.Mutex
	runs     atomic.Int32
	stale    []domain.TransferRecord
	err      error
	total    int
	countErr error
}

func (l *fakeStaleLister) ListStale(ctx context.Context) ([]domain.TransferRecord, error) {
	l.runs.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stale, l.err
}

func (l *fakeStaleLister) CountStale(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.countErr
}

func (l *fakeStaleLister) set(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stale = l.stale[:0]
	for _, id := range ids {
		l.stale = append(l.stale, domain.TransferRecord{
			TransactionID: id,
			Amount:        domain.NewMoney(decimal.NewFromInt(5), "USD"),
			Status:        domain.TransferPending,
		})
	}
}

func TestReconciliationWorkerRunsImmediatelyAndOnTick(t *testing.T) {
	lister := &fakeStaleLister{}
	w := NewReconciliationWorker(lister).WithInterval(10 * time.Millisecond)

	stop := w.Run(context.Background())
	defer stop()

	assert.Eventually(t, func() bool { return lister.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()
	stop()
}

func TestReconciliationWorkerSurvivesFailures(t *testing.T) {
	lister := &fakeStaleLister{err: errors.New("db down")}
	w := NewReconciliationWorker(lister).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return lister.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestReconciliationWorkerEscalatesOncePerTransfer(t *testing.T) {
	ctx := context.Background()
	lister := &fakeStaleLister{}
	w := NewReconciliationWorker(lister)

	lister.set("tx-1", "tx-2")
	assert.Equal(t, 2, w.Sweep(ctx))
	assert.Equal(t, 0, w.Sweep(ctx))

	lister.set("tx-2", "tx-3")
	assert.Equal(t, 1, w.Sweep(ctx))

	// A transfer that clears and comes back is escalated again.
	lister.set()
	assert.Equal(t, 0, w.Sweep(ctx))
	lister.set("tx-2")
	assert.Equal(t, 1, w.Sweep(ctx))
}

func TestReconciliationWorkerStaleTotalIgnoresListLimit(t *testing.T) {
	ctx := context.Background()
	lister := &fakeStaleLister{total: 250}
	lister.set("tx-1", "tx-2")
	w := NewReconciliationWorker(lister)

	assert.Equal(t, 250, w.staleTotal(ctx, len(lister.stale)))

	lister.countErr = errors.New("statement timeout")
	assert.Equal(t, 2, w.staleTotal(ctx, 2))

	lister.countErr = nil
	lister.total = 1
	assert.Equal(t, 2, w.staleTotal(ctx, 2), "count never reports fewer than were listed")
}

type fakePurger struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (p *fakePurger) PurgeExpired(ctx context.Context) (int64, error) {
	p.calls.Add(1)
	return p.n, p.err
}

func TestIdempotencyWorkerPurgeOnce(t *testing.T) {
	p := &fakePurger{n: 4}
	w := NewIdempotencyWorker(p)

	n, err := w.PurgeOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	p.err = errors.New("timeout")
	_, err = w.PurgeOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, "IdempotencyWorker(interval=1h0m0s)", w.String())
}

func TestIdempotencyWorkerPollsUntilStopped(t *testing.T) {
	p := &fakePurger{}
	w := NewIdempotencyWorker(p).WithPollInterval(10 * time.Millisecond)
	stop := w.Run(context.Background())

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	stop()
}
