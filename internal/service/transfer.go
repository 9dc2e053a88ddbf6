package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/events"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// OrchestratorOptions tunes timeouts and retries of the transfer saga.
type OrchestratorOptions struct {
	Topic string
	// StepTimeout bounds every ledger call and store write.
	StepTimeout time.Duration
	// TimeoutsAreSafe declares that a timed-out ledger call is guaranteed not to have applied.
	TimeoutsAreSafe    bool
	PublishTimeout     time.Duration
	StoreRetryAttempts int
	StoreRetryBackoff  time.Duration
}

func DefaultOrchestratorOptions() OrchestratorOptions {
	return OrchestratorOptions{
		Topic:              domain.TransferEventsTopic,
		StepTimeout:        5 * time.Second,
		PublishTimeout:     3 * time.Second,
		StoreRetryAttempts: 3,
		StoreRetryBackoff:  100 * time.Millisecond,
	}
}

// TransferOrchestrator moves money between two ledger accounts as a
// debit-then-credit saga with compensation.
type TransferOrchestrator struct {
	ledger    ledger.Ledger
	store     TransferStore
	publisher events.Publisher
	opts      OrchestratorOptions
	now       func() time.Time
	newID     func() string
}

func NewTransferOrchestrator(l ledger.Ledger, store TransferStore, publisher events.Publisher, opts OrchestratorOptions) *TransferOrchestrator {
	defaults := DefaultOrchestratorOptions()
	if opts.Topic == "" {
		opts.Topic = defaults.Topic
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaults.StepTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaults.PublishTimeout
	}
	if opts.StoreRetryAttempts <= 0 {
		opts.StoreRetryAttempts = 1
	}
	return &TransferOrchestrator{
		ledger:    l,
		store:     store,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source.
func (o *TransferOrchestrator) WithClock(now func() time.Time) *TransferOrchestrator {
	o.now = now
	return o
}

// WithIDGenerator replaces the transaction id generator.
func (o *TransferOrchestrator) WithIDGenerator(newID func() string) *TransferOrchestrator {
	o.newID = newID
	return o
}

// Execute runs one transfer to a terminal state.
//
// The returned record reflects the last known state even when err is non-nil.
// A nil record means nothing was persisted (validation, replay conflicts).
// Once the debit has been issued the caller's cancellation is ignored so the
// saga always reaches a terminal status.
func (o *TransferOrchestrator) Execute(ctx context.Context, req domain.TransferRequest) (*domain.TransferRecord, error) {
	start := time.Now()
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		observability.ObserveTransferOutcome("REJECTED", kindLabel(domain.ErrValidation), time.Since(start))
		return nil, err
	}

	if req.IdempotencyKey != "" {
		rec, handled, err := o.replay(ctx, req)
		if handled {
			return rec, err
		}
	}

	at := o.now()
	s := &saga{
		o:     o,
		req:   req,
		start: start,
		rec: domain.TransferRecord{
			TransactionID:  o.newID(),
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    req.Hash(),
			FromAccount:    req.FromAccount,
			ToAccount:      req.ToAccount,
			Amount:         req.Amount,
			Description:    req.Description,
			CreatedAt:      at,
			UpdatedAt:      at,
		},
	}
	s.log = zap.L().With(
		zap.String("transaction_id", s.rec.TransactionID),
		zap.String("from_account", req.FromAccount),
		zap.String("to_account", req.ToAccount),
		zap.String("amount", req.Amount.String()),
	)
	return s.run(ctx)
}

// replay answers a request whose idempotency key was already used.
// handled is false when the key is new.
func (o *TransferOrchestrator) replay(ctx context.Context, req domain.TransferRequest) (*domain.TransferRecord, bool, error) {
	existing, err := o.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, domain.ErrTransferNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if existing.RequestHash != req.Hash() {
		observability.IncrementIdempotencyEvent("conflict")
		return nil, true, &domain.TransferError{
			Kind:          domain.ErrIdempotencyConflict,
			TransactionID: existing.TransactionID,
			Status:        existing.Status,
		}
	}

	switch existing.Status {
	case domain.TransferSuccess:
		observability.IncrementIdempotencyEvent("replay")
		return existing, true, nil
	case domain.TransferPending:
		observability.IncrementIdempotencyEvent("in_progress")
		return existing, true, &domain.TransferError{
			Kind:          domain.ErrTransferInProgress,
			TransactionID: existing.TransactionID,
			Status:        existing.Status,
		}
	default:
		observability.IncrementIdempotencyEvent("replay")
		var cause error
		if existing.FailureReason != "" {
			cause = errors.New(existing.FailureReason)
		}
		return existing, true, &domain.TransferError{
			Kind:                   domain.ErrReplayedFailure,
			TransactionID:          existing.TransactionID,
			Status:                 existing.Status,
			ReconciliationRequired: existing.ReconciliationRequired,
			Err:                    cause,
		}
	}
}

func (o *TransferOrchestrator) FindByID(ctx context.Context, id int64) (*domain.TransferRecord, error) {
	return o.store.FindByID(ctx, id)
}

func (o *TransferOrchestrator) FindByTransactionID(ctx context.Context, transactionID string) (*domain.TransferRecord, error) {
	return o.store.FindByTransactionID(ctx, transactionID)
}

// ListByAccount returns transfers touching accountID, newest first.
func (o *TransferOrchestrator) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.TransferRecord, error) {
	limit, offset = clampPage(limit, offset)
	return o.store.ListByAccount(ctx, accountID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// kindLabel maps an error kind onto a metrics label.
func kindLabel(kind error) string {
	switch {
	case kind == nil:
		return "none"
	case errors.Is(kind, domain.ErrValidation):
		return "validation"
	case errors.Is(kind, domain.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(kind, domain.ErrAccountBlocked):
		return "account_blocked"
	case errors.Is(kind, domain.ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(kind, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(kind, domain.ErrCreditFailed):
		return "credit_failed"
	case errors.Is(kind, domain.ErrCompensationFailed):
		return "compensation_failed"
	case errors.Is(kind, domain.ErrLedgerTimeout):
		return "ledger_timeout"
	case errors.Is(kind, domain.ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(kind, domain.ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(kind, domain.ErrCanceled):
		return "canceled"
	case errors.Is(kind, domain.ErrRecordNotPersisted):
		return "record_not_persisted"
	default:
		return "internal"
	}
}
