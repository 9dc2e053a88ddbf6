package service

import (
	"context"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
)

// AccountService exposes read-only account views backed by the ledger.
type AccountService struct {
	ledger ledger.Ledger
	store  TransferStore
}

func NewAccountService(l ledger.Ledger, store TransferStore) *AccountService {
	return &AccountService{
		ledger: l,
		store:  store,
	}
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return s.ledger.Lookup(ctx, accountID)
}

// GetTransfers pages through the transfers touching accountID. page starts at 1.
func (s *AccountService) GetTransfers(ctx context.Context, accountID string, page, pageSize int) ([]domain.TransferRecord, error) {
	if page < 1 {
		page = 1
	}
	limit, _ := clampPage(pageSize, 0)
	offset := (page - 1) * limit
	return s.store.ListByAccount(ctx, accountID, limit, offset)
}
