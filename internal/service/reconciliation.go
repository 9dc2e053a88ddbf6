package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// ReconciliationService surfaces transfers stuck in PENDING. A transfer only
// stays PENDING when its terminal write was lost, so each one needs an operator.
type ReconciliationService struct {
	store     TransferStore
	threshold time.Duration
	limit     int
	now       func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store TransferStore, threshold time.Duration, limit int) *ReconciliationService {
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	if limit <= 0 {
		limit = maxListLimit
	}
	return &ReconciliationService{
		store:     store,
		threshold: threshold,
		limit:     limit,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ListStale returns PENDING transfers untouched for longer than the threshold, oldest first.
func (s *ReconciliationService) ListStale(ctx context.Context) ([]domain.TransferRecord, error) {
	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.threshold), s.limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending transfers: %w", err)
	}
	return stale, nil
}

// CountStale returns how many transfers are stale, without the list limit.
func (s *ReconciliationService) CountStale(ctx context.Context) (int, error) {
	n, err := s.store.CountStalePending(ctx, s.now().Add(-s.threshold))
	if err != nil {
		return 0, fmt.Errorf("count stale pending transfers: %w", err)
	}
	return n, nil
}
