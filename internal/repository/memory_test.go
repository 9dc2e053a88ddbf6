package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(from, to string, at time.Time) domain.TransferRecord {
	return domain.TransferRecord{
		TransactionID: uuid.NewString(),
		FromAccount:   from,
		ToAccount:     to,
		Amount:        domain.NewMoney(decimal.RequireFromString("40.00"), "USD"),
		Status:        domain.TransferPending,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransferStore()
	rec := newRecord("A", "B", time.Now())
	rec.IdempotencyKey = "key-1"

	id, err := s.Create(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	byID, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.TransactionID, byID.TransactionID)

	byTx, err := s.FindByTransactionID(ctx, rec.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, id, byTx.ID)

	byKey, err := s.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, rec.TransactionID, byKey.TransactionID)

	_, err = s.FindByTransactionID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestMemoryStoreRejectsDuplicateTransactionID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransferStore()
	rec := newRecord("A", "B", time.Now())

	_, err := s.Create(ctx, rec)
	require.NoError(t, err)

	dup := rec
	dup.Status = domain.TransferSuccess
	_, err = s.Create(ctx, dup)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	stored, err := s.FindByTransactionID(ctx, rec.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, stored.Status, "duplicate must not overwrite")
	assert.Equal(t, 1, s.Count())
}

func TestMemoryStoreRejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransferStore()
	a := newRecord("A", "B", time.Now())
	a.IdempotencyKey = "same"
	b := newRecord("A", "B", time.Now())
	b.IdempotencyKey = "same"

	_, err := s.Create(ctx, a)
	require.NoError(t, err)
	_, err = s.Create(ctx, b)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransferStore()
	rec := newRecord("A", "B", time.Now())
	_, err := s.Create(ctx, rec)
	require.NoError(t, err)

	at := rec.CreatedAt.Add(time.Second)
	require.NoError(t, s.UpdateStatus(ctx, rec.TransactionID, domain.StatusChange{
		Status:                 domain.TransferFailed,
		Reason:                 "compensation failed",
		ReconciliationRequired: true,
		At:                     at,
	}))

	stored, err := s.FindByTransactionID(ctx, rec.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, stored.Status)
	assert.True(t, stored.ReconciliationRequired)
	assert.Equal(t, at, stored.UpdatedAt)
	assert.Equal(t, rec.CreatedAt, stored.CreatedAt)

	err = s.UpdateStatus(ctx, "missing", domain.StatusChange{Status: domain.TransferFailed})
	require.ErrorIs(t, err, domain.ErrTransferNotFound)

	s.FailNext("UpdateStatus", errors.New("disk full"))
	require.Error(t, s.UpdateStatus(ctx, rec.TransactionID, domain.StatusChange{Status: domain.TransferFailed}))
	require.NoError(t, s.UpdateStatus(ctx, rec.TransactionID, domain.StatusChange{Status: domain.TransferFailed, At: at}))
}

func TestMemoryStoreListStalePendingAndByAccount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTransferStore()
	now := time.Now()

	old := newRecord("A", "B", now.Add(-time.Hour))
	fresh := newRecord("A", "C", now)
	done := newRecord("C", "A", now.Add(-time.Hour))
	done.Status = domain.TransferSuccess
	for _, rec := range []domain.TransferRecord{old, fresh, done} {
		_, err := s.Create(ctx, rec)
		require.NoError(t, err)
	}

	stale, err := s.ListStalePending(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.TransactionID, stale[0].TransactionID)

	forA, err := s.ListByAccount(ctx, "A", 10, 0)
	require.NoError(t, err)
	require.Len(t, forA, 3)
	assert.Equal(t, done.TransactionID, forA[0].TransactionID, "newest first")

	page, err := s.ListByAccount(ctx, "A", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, fresh.TransactionID, page[0].TransactionID)

	empty, err := s.ListByAccount(ctx, "A", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
