package domain

// TransferStatus is the lifecycle state of a transfer record.
type TransferStatus string

const (
	TransferPending    TransferStatus = "PENDING"
	TransferSuccess    TransferStatus = "SUCCESS"
	TransferFailed     TransferStatus = "FAILED"
	TransferRolledBack TransferStatus = "ROLLED_BACK"
)

// IsTerminal reports whether no further automatic transition occurs from s.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferSuccess, TransferFailed, TransferRolledBack:
		return true
	default:
		return false
	}
}

// AccountStatus is the state of an account as reported by the ledger.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
	AccountBlocked  AccountStatus = "BLOCKED"
	AccountClosed   AccountStatus = "CLOSED"
)

const (
	// TransferEventsTopic is the logical topic settlement events are published on.
	TransferEventsTopic = "transfer-events"

	// EventStatusSuccess and EventStatusFailed are the only statuses a settlement event carries.
	EventStatusSuccess = "SUCCESS"
	EventStatusFailed  = "FAILED"

	MaxDescriptionLength = 255
)
