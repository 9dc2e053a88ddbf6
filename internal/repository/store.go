package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres SQLSTATE codes the repository reacts to.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// txAttempts bounds how often a transaction aborted by a serialization
// failure or deadlock is replayed.
const txAttempts = 3

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store scopes transfer writes to a transaction on a pgx pool.
type Store struct {
	db   *pgxpool.Pool
	opts pgx.TxOptions
}

// NewStore wraps db. Transactions run at READ COMMITTED; status transitions
// take row locks themselves.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// DB returns the non-transactional handle.
func (s *Store) DB() DBTX {
	return s.db
}

// RunInTx executes fn within a transaction, replaying it when Postgres aborts
// it with a retryable conflict. fn must therefore be safe to run again.
func (s *Store) RunInTx(ctx context.Context, fn func(q DBTX) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryableConflict(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", txAttempts, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(q DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, s.opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

func isRetryableConflict(err error) bool {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}
