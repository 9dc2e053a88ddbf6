package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountBlocked       = errors.New("account is not active")
	ErrCurrencyMismatch     = errors.New("account currency does not match transfer currency")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCreditFailed         = errors.New("credit to destination failed")
	ErrCompensationFailed   = errors.New("compensation failed")
	ErrLedgerTimeout        = errors.New("ledger call timed out, outcome unknown")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrIdempotencyConflict  = errors.New("idempotency key reused with a different request")
	ErrTransferInProgress   = errors.New("transfer with this idempotency key is still in progress")
	ErrReplayedFailure      = errors.New("transfer with this idempotency key already failed")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrCanceled             = errors.New("transfer canceled before funds moved")
	ErrRecordNotPersisted   = errors.New("transfer outcome could not be persisted")
)

// TransferError is the structured error returned by the orchestrator.
// Kind is one of the sentinel errors above; Err carries the underlying cause.
type TransferError struct {
	Kind                   error
	TransactionID          string
	Status                 TransferStatus
	ReconciliationRequired bool
	Err                    error
}

func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString("transfer")
	if e.TransactionID != "" {
		b.WriteString(" ")
		b.WriteString(e.TransactionID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.ReconciliationRequired {
		b.WriteString(" (manual reconciliation required)")
	}
	return b.String()
}

func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewValidationError reports a rejected request field.
func NewValidationError(field, reason string) *TransferError {
	return &TransferError{
		Kind: ErrValidation,
		Err:  fmt.Errorf("%s: %s", field, reason),
	}
}

// AsTransferError extracts a *TransferError from err.
func AsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// RequiresReconciliation reports whether err carries the manual reconciliation marker.
func RequiresReconciliation(err error) bool {
	te, ok := AsTransferError(err)
	return ok && te.ReconciliationRequired
}
