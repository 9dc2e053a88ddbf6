package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// MemoryTransferStore keeps transfer records in process memory.
type MemoryTransferStore struct {
	mu       sync.RWMutex
	nextID   int64
	byTxID   map[string]*domain.TransferRecord
	byID     map[int64]string
	byIdem   map[string]string
	failNext map[string]error
}

func NewMemoryTransferStore() *MemoryTransferStore {
	return &MemoryTransferStore{
		byTxID:   make(map[string]*domain.TransferRecord),
		byID:     make(map[int64]string),
		byIdem:   make(map[string]string),
		failNext: make(map[string]error),
	}
}

// FailNext makes the next call to method ("Create" or "UpdateStatus") return err.
func (s *MemoryTransferStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

func (s *MemoryTransferStore) injected(method string) error {
	err, ok := s.failNext[method]
	if ok {
		delete(s.failNext, method)
	}
	return err
}

func (s *MemoryTransferStore) Create(ctx context.Context, rec domain.TransferRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("Create"); err != nil {
		return 0, err
	}
	if _, exists := s.byTxID[rec.TransactionID]; exists {
		return 0, fmt.Errorf("create transfer %s: %w", rec.TransactionID, domain.ErrDuplicateTransaction)
	}
	if rec.IdempotencyKey != "" {
		if _, exists := s.byIdem[rec.IdempotencyKey]; exists {
			return 0, fmt.Errorf("create transfer with idempotency key %s: %w", rec.IdempotencyKey, domain.ErrDuplicateTransaction)
		}
	}

	s.nextID++
	rec.ID = s.nextID
	stored := rec
	s.byTxID[rec.TransactionID] = &stored
	s.byID[rec.ID] = rec.TransactionID
	if rec.IdempotencyKey != "" {
		s.byIdem[rec.IdempotencyKey] = rec.TransactionID
	}
	return rec.ID, nil
}

func (s *MemoryTransferStore) UpdateStatus(ctx context.Context, transactionID string, change domain.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("UpdateStatus"); err != nil {
		return err
	}
	rec, ok := s.byTxID[transactionID]
	if !ok {
		return fmt.Errorf("transfer %s: %w", transactionID, domain.ErrTransferNotFound)
	}
	rec.Apply(change)
	return nil
}

func (s *MemoryTransferStore) FindByID(ctx context.Context, id int64) (*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txID, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("transfer id %d: %w", id, domain.ErrTransferNotFound)
	}
	return s.copyOf(txID), nil
}

func (s *MemoryTransferStore) FindByTransactionID(ctx context.Context, transactionID string) (*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byTxID[transactionID]; !ok {
		return nil, fmt.Errorf("transfer %s: %w", transactionID, domain.ErrTransferNotFound)
	}
	return s.copyOf(transactionID), nil
}

func (s *MemoryTransferStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txID, ok := s.byIdem[key]
	if !ok {
		return nil, fmt.Errorf("transfer idempotency key %s: %w", key, domain.ErrTransferNotFound)
	}
	return s.copyOf(txID), nil
}

func (s *MemoryTransferStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.TransferRecord, error) {
	s.mu.RLock()
	var out []domain.TransferRecord
	for _, rec := range s.byTxID {
		if rec.Status == domain.TransferPending && rec.UpdatedAt.Before(olderThan) {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryTransferStore) CountStalePending(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.byTxID {
		if rec.Status == domain.TransferPending && rec.UpdatedAt.Before(olderThan) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryTransferStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.TransferRecord, error) {
	s.mu.RLock()
	var out []domain.TransferRecord
	for _, rec := range s.byTxID {
		if rec.FromAccount == accountID || rec.ToAccount == accountID {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *MemoryTransferStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTxID)
}

func (s *MemoryTransferStore) copyOf(transactionID string) *domain.TransferRecord {
	rec := *s.byTxID[transactionID]
	return &rec
}
