package repository

import (
	"context"
	"fmt"
)

const (
	auditActionCreated    = "transfer.created"
	auditActionTransition = "transfer.transitioned"
)

// writeAudit appends one row to the transfer audit trail. prevState is empty on creation.
func writeAudit(ctx context.Context, q DBTX, transactionID, action, prevState, nextState, reason string) error {
	var prev any
	if prevState != "" {
		prev = prevState
	}
	_, err := q.Exec(ctx, `
		INSERT INTO transfer_audit_log (transaction_id, action, prev_state, next_state, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		transactionID, action, prev, nextState, reason,
	)
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}
