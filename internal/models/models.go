package models

import (
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
)

// CreateTransferRequest is the POST /v1/transfers body. Amount accepts a JSON
// string ("40.00") or number.
type CreateTransferRequest struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// ToDomain builds the orchestrator request.
func (r CreateTransferRequest) ToDomain(idempotencyKey string) domain.TransferRequest {
	return domain.TransferRequest{
		FromAccount:    r.FromAccount,
		ToAccount:      r.ToAccount,
		Amount:         domain.NewMoney(r.Amount, r.Currency),
		Description:    r.Description,
		IdempotencyKey: idempotencyKey,
	}
}

type Transfer struct {
	ID                     int64     `json:"id"`
	TransactionID          string    `json:"transaction_id"`
	FromAccount            string    `json:"from_account"`
	ToAccount              string    `json:"to_account"`
	Amount                 string    `json:"amount"`
	Currency               string    `json:"currency"`
	Status                 string    `json:"status"`
	Description            string    `json:"description,omitempty"`
	FailureReason          string    `json:"failure_reason,omitempty"`
	ReconciliationRequired bool      `json:"reconciliation_required"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func TransferFromRecord(rec domain.TransferRecord) Transfer {
	return Transfer{
		ID:                     rec.ID,
		TransactionID:          rec.TransactionID,
		FromAccount:            rec.FromAccount,
		ToAccount:              rec.ToAccount,
		Amount:                 rec.Amount.StringAmount(),
		Currency:               rec.Amount.Currency,
		Status:                 string(rec.Status),
		Description:            rec.Description,
		FailureReason:          rec.FailureReason,
		ReconciliationRequired: rec.ReconciliationRequired,
		CreatedAt:              rec.CreatedAt,
		UpdatedAt:              rec.UpdatedAt,
	}
}

func TransfersFromRecords(recs []domain.TransferRecord) []Transfer {
	out := make([]Transfer, 0, len(recs))
	for _, rec := range recs {
		out = append(out, TransferFromRecord(rec))
	}
	return out
}

// TransferPage is one page of an account's transfer history.
type TransferPage struct {
	Items    []Transfer `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type Account struct {
	ID       string `json:"id"`
	Holder   string `json:"holder,omitempty"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func AccountFromDomain(a domain.Account) Account {
	return Account{
		ID:       a.ID,
		Holder:   a.Holder,
		Balance:  a.Balance.StringAmount(),
		Currency: a.Currency,
		Status:   string(a.Status),
	}
}
