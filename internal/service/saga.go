package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// compensationSuffix tags the posting that reverses a debit.
const compensationSuffix = "compensation"

// saga carries the state of a single transfer execution.
type saga struct {
	o     *TransferOrchestrator
	req   domain.TransferRequest
	rec   domain.TransferRecord
	start time.Time
	log   *zap.Logger
}

// failure describes why a transfer did not succeed.
type failure struct {
	kind      error
	cause     error
	reason    string
	reconcile bool
}

func (s *saga) run(ctx context.Context) (*domain.TransferRecord, error) {
	if err := s.verify(ctx); err != nil {
		return s.rejectUnverified(ctx, err)
	}

	if err := s.createPending(ctx); err != nil {
		return nil, err
	}

	// From here on every path must end in a persisted terminal status.
	detached := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil {
		return s.finish(detached, domain.TransferFailed, &failure{
			kind:   domain.ErrCanceled,
			cause:  err,
			reason: "canceled before debit",
		})
	}

	if err := s.post(detached, ledger.OpDebit, s.req.FromAccount, "debit"); err != nil {
		if ledger.IsTimeout(err) && !s.o.opts.TimeoutsAreSafe {
			return s.finish(detached, domain.TransferFailed, &failure{
				kind:      domain.ErrLedgerTimeout,
				cause:     err,
				reason:    "debit outcome unknown",
				reconcile: true,
			})
		}
		return s.finish(detached, domain.TransferFailed, &failure{
			kind:   ledgerKind(err),
			cause:  err,
			reason: "debit rejected: " + ledger.ResultLabel(err),
		})
	}

	creditErr := s.post(detached, ledger.OpCredit, s.req.ToAccount, "credit")
	if creditErr == nil {
		return s.finish(detached, domain.TransferSuccess, nil)
	}
	if ledger.IsTimeout(creditErr) && !s.o.opts.TimeoutsAreSafe {
		return s.finish(detached, domain.TransferFailed, &failure{
			kind:      domain.ErrLedgerTimeout,
			cause:     creditErr,
			reason:    "credit outcome unknown after debit",
			reconcile: true,
		})
	}

	s.log.Warn("credit failed, compensating debit", zap.Error(creditErr))
	if err := s.post(detached, ledger.OpCredit, s.req.FromAccount, compensationSuffix); err != nil {
		observability.IncrementCompensation("failed")
		s.log.Error("CRITICAL: compensation failed, source account left debited",
			zap.NamedError("credit_error", creditErr),
			zap.Error(err),
		)
		return s.finish(detached, domain.TransferFailed, &failure{
			kind:      domain.ErrCompensationFailed,
			cause:     errors.Join(creditErr, err),
			reason:    "compensation failed after credit failure: " + ledger.ResultLabel(err),
			reconcile: true,
		})
	}
	observability.IncrementCompensation("ok")
	return s.finish(detached, domain.TransferRolledBack, &failure{
		kind:   domain.ErrCreditFailed,
		cause:  creditErr,
		reason: "credit failed: " + ledger.ResultLabel(creditErr) + "; debit reversed",
	})
}

// verify checks both accounts exist, are active and hold the transfer currency.
func (s *saga) verify(ctx context.Context) error {
	for _, id := range []string{s.req.FromAccount, s.req.ToAccount} {
		acct, err := s.lookup(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup account %s: %w", id, err)
		}
		if !acct.IsActive() {
			return fmt.Errorf("account %s is %s: %w", id, acct.Status, domain.ErrAccountBlocked)
		}
		if domain.NormalizeCurrency(acct.Currency) != s.req.Amount.Currency {
			return fmt.Errorf("account %s holds %s: %w", id, acct.Currency, domain.ErrCurrencyMismatch)
		}
	}
	return nil
}

func (s *saga) lookup(ctx context.Context, accountID string) (domain.Account, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.o.opts.StepTimeout)
	defer cancel()

	started := time.Now()
	acct, err := s.o.ledger.Lookup(stepCtx, accountID)
	observability.ObserveLedgerCall(string(ledger.OpLookup), ledger.ResultLabel(err), time.Since(started))
	return acct, err
}

// post issues a debit or credit of the transfer amount. suffix makes the
// posting reference unique per money movement.
func (s *saga) post(ctx context.Context, op ledger.Op, accountID, suffix string) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.o.opts.StepTimeout)
	defer cancel()

	p := ledger.Posting{
		AccountID:    accountID,
		Amount:       s.req.Amount,
		Reference:    s.rec.TransactionID + ":" + suffix,
		Compensation: suffix == compensationSuffix,
	}
	started := time.Now()
	var err error
	switch op {
	case ledger.OpDebit:
		err = s.o.ledger.Debit(stepCtx, p)
	default:
		err = s.o.ledger.Credit(stepCtx, p)
	}
	result := ledger.ResultLabel(err)
	observability.ObserveLedgerCall(string(op), result, time.Since(started))
	s.log.Debug("ledger posting",
		zap.String("op", suffix),
		zap.String("account_id", accountID),
		zap.String("reference", p.Reference),
		zap.String("result", result),
	)
	return err
}

func (s *saga) createPending(ctx context.Context) error {
	s.rec.Status = domain.TransferPending
	writeCtx, cancel := context.WithTimeout(ctx, s.o.opts.StepTimeout)
	defer cancel()

	id, err := s.o.store.Create(writeCtx, s.rec)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			observability.ObserveTransferOutcome("REJECTED", kindLabel(domain.ErrDuplicateTransaction), time.Since(s.start))
			return &domain.TransferError{
				Kind:          domain.ErrDuplicateTransaction,
				TransactionID: s.rec.TransactionID,
				Err:           err,
			}
		}
		return fmt.Errorf("persist pending transfer %s: %w", s.rec.TransactionID, err)
	}
	s.rec.ID = id
	return nil
}

// rejectUnverified records a transfer that failed before any money moved.
func (s *saga) rejectUnverified(ctx context.Context, verifyErr error) (*domain.TransferRecord, error) {
	detached := context.WithoutCancel(ctx)
	f := &failure{
		kind:   ledgerKind(verifyErr),
		cause:  verifyErr,
		reason: "verification failed: " + kindLabel(ledgerKind(verifyErr)),
	}
	s.rec.Status = domain.TransferFailed
	s.rec.FailureReason = f.reason
	s.rec.UpdatedAt = s.o.now()

	err := s.withRetry(detached, "create failed transfer", func(ctx context.Context) error {
		id, err := s.o.store.Create(ctx, s.rec)
		if err == nil {
			s.rec.ID = id
		}
		return err
	})
	if err != nil {
		// Nothing moved, so losing this record loses history only.
		s.log.Error("failed to persist rejected transfer", zap.Error(err))
	}
	return s.conclude(detached, f, nil)
}

// finish persists the terminal status and reports the outcome.
func (s *saga) finish(ctx context.Context, status domain.TransferStatus, f *failure) (*domain.TransferRecord, error) {
	if err := checkTransition(s.rec.Status, status); err != nil {
		return nil, err
	}
	change := domain.StatusChange{Status: status, At: s.o.now()}
	if f != nil {
		change.Reason = f.reason
		change.ReconciliationRequired = f.reconcile
	}

	persistErr := s.withRetry(ctx, "update transfer status", func(ctx context.Context) error {
		return s.o.store.UpdateStatus(ctx, s.rec.TransactionID, change)
	})
	s.rec.Apply(change)
	return s.conclude(ctx, f, persistErr)
}

func (s *saga) conclude(ctx context.Context, f *failure, persistErr error) (*domain.TransferRecord, error) {
	var result *domain.TransferError
	if f != nil {
		result = &domain.TransferError{
			Kind:                   f.kind,
			TransactionID:          s.rec.TransactionID,
			Status:                 s.rec.Status,
			ReconciliationRequired: f.reconcile,
			Err:                    f.cause,
		}
	}

	if persistErr != nil {
		observability.IncrementReconciliationRequired("status_not_persisted")
		s.log.Error("CRITICAL: terminal transfer status not persisted",
			zap.String("status", string(s.rec.Status)),
			zap.Error(persistErr),
		)
		if result == nil {
			result = &domain.TransferError{
				Kind:          domain.ErrRecordNotPersisted,
				TransactionID: s.rec.TransactionID,
				Status:        s.rec.Status,
				Err:           persistErr,
			}
		} else {
			result.Err = errors.Join(result.Err, persistErr)
		}
		result.ReconciliationRequired = true
		s.rec.ReconciliationRequired = true
	} else if f != nil && f.reconcile {
		observability.IncrementReconciliationRequired(kindLabel(f.kind))
	}

	latency := time.Since(s.start)
	var kind error
	if result != nil {
		kind = result.Kind
	}
	observability.ObserveTransferOutcome(string(s.rec.Status), kindLabel(kind), latency)

	fields := []zap.Field{
		zap.String("status", string(s.rec.Status)),
		zap.Int64("id", s.rec.ID),
		zap.Duration("latency", latency),
		zap.String("kind", kindLabel(kind)),
	}
	switch {
	case result == nil:
		s.log.Info("transfer_outcome", fields...)
	case result.ReconciliationRequired:
		s.log.Error("transfer_outcome", append(fields, zap.Bool("reconciliation_required", true), zap.Error(result))...)
	default:
		s.log.Warn("transfer_outcome", append(fields, zap.Error(result))...)
	}

	s.publish(ctx)

	rec := s.rec
	if result == nil {
		return &rec, nil
	}
	return &rec, result
}

// publish emits the outcome event. Failures are logged and never alter the result.
func (s *saga) publish(ctx context.Context) {
	event := domain.NewTransferEvent(s.rec, s.o.now())
	pubCtx, cancel := context.WithTimeout(ctx, s.o.opts.PublishTimeout)
	defer cancel()

	if err := s.o.publisher.Publish(pubCtx, s.o.opts.Topic, s.rec.TransactionID, event); err != nil {
		s.log.Error("failed to publish transfer event",
			zap.String("topic", s.o.opts.Topic),
			zap.String("event_status", event.Status),
			zap.Error(err),
		)
	}
}

// withRetry runs a store write with linear backoff. Duplicate and not-found
// errors are final.
func (s *saga) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.o.opts.StoreRetryAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, s.o.opts.StepTimeout)
		err = fn(writeCtx)
		cancel()
		if err == nil || errors.Is(err, domain.ErrDuplicateTransaction) || errors.Is(err, domain.ErrTransferNotFound) {
			return err
		}
		s.log.Warn("store write failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.o.opts.StoreRetryAttempts && s.o.opts.StoreRetryBackoff > 0 {
			time.Sleep(time.Duration(attempt) * s.o.opts.StoreRetryBackoff)
		}
	}
	return err
}

// ledgerKind classifies a ledger or verification error into an error kind.
func ledgerKind(err error) error {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.ErrAccountNotFound
	case errors.Is(err, domain.ErrAccountBlocked):
		return domain.ErrAccountBlocked
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return domain.ErrCurrencyMismatch
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.ErrInsufficientFunds
	case errors.Is(err, context.Canceled):
		return domain.ErrCanceled
	case ledger.IsTimeout(err):
		return domain.ErrLedgerTimeout
	default:
		return domain.ErrLedgerUnavailable
	}
}
