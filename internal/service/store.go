package service

import (
	"context"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// TransferStore is the durable keyed store for transfer records.
// A duplicate transaction id or idempotency key fails with domain.ErrDuplicateTransaction.
type TransferStore interface {
	Create(ctx context.Context, rec domain.TransferRecord) (int64, error)
	UpdateStatus(ctx context.Context, transactionID string, change domain.StatusChange) error
	FindByID(ctx context.Context, id int64) (*domain.TransferRecord, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*domain.TransferRecord, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.TransferRecord, error)
	CountStalePending(ctx context.Context, olderThan time.Time) (int, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.TransferRecord, error)
}
