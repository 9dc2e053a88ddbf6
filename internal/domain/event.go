package domain

import "time"

// TransferEvent is the settlement event emitted once per terminal transfer outcome.
type TransferEvent struct {
	TransactionID          string    `json:"transactionId"`
	FromAccount            string    `json:"fromAccount"`
	ToAccount              string    `json:"toAccount"`
	Amount                 string    `json:"amount"`
	Currency               string    `json:"currency"`
	Status                 string    `json:"status"`
	Reason                 string    `json:"reason,omitempty"`
	Description            string    `json:"description,omitempty"`
	ReconciliationRequired bool      `json:"reconciliationRequired,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
}

// NewTransferEvent builds the event for a record in a terminal status.
// ROLLED_BACK collapses to FAILED on the wire.
func NewTransferEvent(rec TransferRecord, at time.Time) TransferEvent {
	status := EventStatusFailed
	if rec.Status == TransferSuccess {
		status = EventStatusSuccess
	}
	return TransferEvent{
		TransactionID:          rec.TransactionID,
		FromAccount:            rec.FromAccount,
		ToAccount:              rec.ToAccount,
		Amount:                 rec.Amount.StringAmount(),
		Currency:               rec.Amount.Currency,
		Status:                 status,
		Reason:                 rec.FailureReason,
		Description:            rec.Description,
		ReconciliationRequired: rec.ReconciliationRequired,
		Timestamp:              at.UTC(),
	}
}
