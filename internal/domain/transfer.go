package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TransferRequest is the orchestrator entrypoint payload.
type TransferRequest struct {
	FromAccount    string
	ToAccount      string
	Amount         Money
	Description    string
	IdempotencyKey string
}

// Normalize trims identifiers and upper-cases the currency.
func (r TransferRequest) Normalize() TransferRequest {
	r.FromAccount = strings.TrimSpace(r.FromAccount)
	r.ToAccount = strings.TrimSpace(r.ToAccount)
	r.Amount.Currency = NormalizeCurrency(r.Amount.Currency)
	r.Description = strings.TrimSpace(r.Description)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	return r
}

// Validate checks the request without touching any collaborator.
func (r TransferRequest) Validate() error {
	switch {
	case r.FromAccount == "":
		return NewValidationError("from_account", "is required")
	case r.ToAccount == "":
		return NewValidationError("to_account", "is required")
	case r.FromAccount == r.ToAccount:
		return NewValidationError("to_account", "must differ from from_account")
	case !r.Amount.IsPositive():
		return NewValidationError("amount", "must be greater than zero")
	case !r.Amount.HasValidScale():
		return NewValidationError("amount", "supports at most 4 decimal places")
	case !isCurrencyCode(r.Amount.Currency):
		return NewValidationError("currency", "must be a 3-letter ISO 4217 code")
	case len(r.Description) > MaxDescriptionLength:
		return NewValidationError("description", "is too long")
	}
	return nil
}

// Hash fingerprints the money-relevant fields for idempotent replay checks.
func (r TransferRequest) Hash() string {
	payload := strings.Join([]string{
		r.FromAccount,
		r.ToAccount,
		r.Amount.Amount.String(),
		r.Amount.Currency,
		r.Description,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// TransferRecord is the durable, auditable record of one orchestrated transfer.
type TransferRecord struct {
	ID                     int64
	TransactionID          string
	IdempotencyKey         string
	RequestHash            string
	FromAccount            string
	ToAccount              string
	Amount                 Money
	Status                 TransferStatus
	Description            string
	FailureReason          string
	ReconciliationRequired bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// StatusChange is what the orchestrator hands to the store on a transition.
type StatusChange struct {
	Status                 TransferStatus
	Reason                 string
	ReconciliationRequired bool
	At                     time.Time
}

// Apply copies a status change onto the record.
func (r *TransferRecord) Apply(change StatusChange) {
	r.Status = change.Status
	r.FailureReason = change.Reason
	r.ReconciliationRequired = change.ReconciliationRequired
	r.UpdatedAt = change.At
}

// Account is the ledger's view of an account.
type Account struct {
	ID       string
	Holder   string
	Balance  Money
	Currency string
	Status   AccountStatus
}

// IsActive reports whether the account can be debited or credited.
func (a Account) IsActive() bool {
	return a.Status == AccountActive
}
