package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const transferColumns = `id, transaction_id, COALESCE(idempotency_key, ''), request_hash, from_account, to_account,
	amount::text, currency, status, description, failure_reason, reconciliation_required, created_at, updated_at`

// TransferRepository persists transfer records in Postgres.
type TransferRepository struct {
	store *Store
}

func NewTransferRepository(db *pgxpool.Pool) *TransferRepository {
	return &TransferRepository{store: NewStore(db)}
}

func (r *TransferRepository) Create(ctx context.Context, rec domain.TransferRecord) (int64, error) {
	var id int64
	err := r.store.RunInTx(ctx, func(q DBTX) error {
		var idemKey any
		if rec.IdempotencyKey != "" {
			idemKey = rec.IdempotencyKey
		}
		err := q.QueryRow(ctx, `
			INSERT INTO transfers (transaction_id, idempotency_key, request_hash, from_account, to_account,
				amount, currency, status, description, failure_reason, reconciliation_required, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id`,
			rec.TransactionID, idemKey, rec.RequestHash, rec.FromAccount, rec.ToAccount,
			rec.Amount.Amount.String(), rec.Amount.Currency, string(rec.Status), rec.Description,
			rec.FailureReason, rec.ReconciliationRequired, rec.CreatedAt, rec.UpdatedAt,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create transfer %s: %w", rec.TransactionID, domain.ErrDuplicateTransaction)
			}
			return fmt.Errorf("failed to create transfer: %w", err)
		}
		return writeAudit(ctx, q, rec.TransactionID, auditActionCreated, "", string(rec.Status), rec.FailureReason)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *TransferRepository) UpdateStatus(ctx context.Context, transactionID string, change domain.StatusChange) error {
	return r.store.RunInTx(ctx, func(q DBTX) error {
		var current string
		err := q.QueryRow(ctx, `SELECT status FROM transfers WHERE transaction_id = $1 FOR UPDATE`, transactionID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("transfer %s: %w", transactionID, domain.ErrTransferNotFound)
			}
			return fmt.Errorf("get current transfer status: %w", err)
		}

		tag, err := q.Exec(ctx, `
			UPDATE transfers
			SET status = $2, failure_reason = $3, reconciliation_required = $4, updated_at = $5
			WHERE transaction_id = $1`,
			transactionID, string(change.Status), change.Reason, change.ReconciliationRequired, change.At,
		)
		if err != nil {
			return fmt.Errorf("update transfer status: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("update transfer status: expected 1 row, got %d", tag.RowsAffected())
		}

		// A retried write whose first commit landed finds the row already moved.
		if current == string(change.Status) {
			return nil
		}
		return writeAudit(ctx, q, transactionID, auditActionTransition, current, string(change.Status), change.Reason)
	})
}

func (r *TransferRepository) FindByID(ctx context.Context, id int64) (*domain.TransferRecord, error) {
	row := r.store.DB().QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	return scanOne(row, fmt.Sprintf("id %d", id))
}

func (r *TransferRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.TransferRecord, error) {
	row := r.store.DB().QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transaction_id = $1`, transactionID)
	return scanOne(row, transactionID)
}

func (r *TransferRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	row := r.store.DB().QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, key)
	return scanOne(row, "idempotency key "+key)
}

func (r *TransferRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.TransferRecord, error) {
	rows, err := r.store.DB().Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE status = 'PENDING' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transfers: %w", err)
	}
	return scanAll(rows)
}

func (r *TransferRepository) CountStalePending(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := r.store.DB().QueryRow(ctx, `
		SELECT count(*)
		FROM transfers
		WHERE status = 'PENDING' AND updated_at < $1`, olderThan).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale transfers: %w", err)
	}
	return n, nil
}

func (r *TransferRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.TransferRecord, error) {
	rows, err := r.store.DB().Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return scanAll(rows)
}

func scanOne(row pgx.Row, what string) (*domain.TransferRecord, error) {
	rec, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transfer %s: %w", what, domain.ErrTransferNotFound)
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return rec, nil
}

func scanAll(rows pgx.Rows) ([]domain.TransferRecord, error) {
	defer rows.Close()
	var out []domain.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return out, nil
}

func scanTransfer(row pgx.Row) (*domain.TransferRecord, error) {
	var (
		rec    domain.TransferRecord
		amount string
		cur    string
		status string
	)
	err := row.Scan(&rec.ID, &rec.TransactionID, &rec.IdempotencyKey, &rec.RequestHash, &rec.FromAccount, &rec.ToAccount,
		&amount, &cur, &status, &rec.Description, &rec.FailureReason, &rec.ReconciliationRequired, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	rec.Amount = domain.NewMoney(d, cur)
	rec.Status = domain.TransferStatus(status)
	return &rec, nil
}
