package ledger

import (
	"context"
	"errors"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// Ledger is the boundary to the external account-balance authority.
// Each call is atomic at the ledger: a posting is fully applied or not at all.
type Ledger interface {
	// Lookup returns the current view of an account or domain.ErrAccountNotFound.
	Lookup(ctx context.Context, accountID string) (domain.Account, error)
	// Debit removes funds. It fails with domain.ErrInsufficientFunds rather than
	// letting the balance go negative.
	Debit(ctx context.Context, p Posting) error
	// Credit adds funds.
	Credit(ctx context.Context, p Posting) error
}

// Posting is a single debit or credit instruction.
// Reference is unique per money movement so the ledger can discard replays.
type Posting struct {
	AccountID string
	Amount    domain.Money
	Reference string
	// Compensation marks a credit that reverses an earlier debit. Ledgers
	// with failure isolation keep it apart from forward postings.
	Compensation bool
}

// Op names a ledger operation.
type Op string

const (
	OpLookup Op = "lookup"
	OpDebit  Op = "debit"
	OpCredit Op = "credit"
)

// IsTimeout reports whether err leaves the outcome of a ledger call unknown.
func IsTimeout(err error) bool {
	return errors.Is(err, domain.ErrLedgerTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// ResultLabel maps a ledger error onto a low-cardinality metrics label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrAccountBlocked):
		return "account_blocked"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
