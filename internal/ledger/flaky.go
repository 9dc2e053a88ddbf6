package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// FlakyLedger simulates a remote ledger for local runs.
// It adds random latency to every call and rejects postings at FailureRate.
// Rejections happen before the inner ledger is touched, so nothing is applied.
type FlakyLedger struct {
	inner Ledger
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// NewFlakyLedger wraps inner with the given failure rate and 5-50ms latency.
func NewFlakyLedger(inner Ledger, failureRate float64) *FlakyLedger {
	return &FlakyLedger{
		inner:       inner,
		FailureRate: failureRate,
		MinLatency:  5 * time.Millisecond,
		MaxLatency:  50 * time.Millisecond,
	}
}

func (f *FlakyLedger) Lookup(ctx context.Context, accountID string) (domain.Account, error) {
	if err := f.delay(ctx); err != nil {
		return domain.Account{}, err
	}
	return f.inner.Lookup(ctx, accountID)
}

func (f *FlakyLedger) Debit(ctx context.Context, p Posting) error {
	if err := f.disturb(ctx, OpDebit); err != nil {
		return err
	}
	return f.inner.Debit(ctx, p)
}

func (f *FlakyLedger) Credit(ctx context.Context, p Posting) error {
	if err := f.disturb(ctx, OpCredit); err != nil {
		return err
	}
	return f.inner.Credit(ctx, p)
}

func (f *FlakyLedger) disturb(ctx context.Context, op Op) error {
	if err := f.delay(ctx); err != nil {
		return err
	}
	if rand.Float64() < f.FailureRate {
		return fmt.Errorf("simulated %s outage: %w", op, domain.ErrLedgerUnavailable)
	}
	return nil
}

func (f *FlakyLedger) delay(ctx context.Context) error {
	d := f.MinLatency
	if span := f.MaxLatency - f.MinLatency; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ledger call canceled: %w", ctx.Err())
	}
}
