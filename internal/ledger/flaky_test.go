package ledger

import (
	"context"
	"testing"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlakyLedgerRejectsWithoutApplying(t *testing.T) {
	inner := NewMemoryLedger()
	openAccount(t, inner, "A", 100)

	flaky := NewFlakyLedger(inner, 1)
	flaky.MinLatency, flaky.MaxLatency = 0, 0

	err := flaky.Debit(context.Background(), Posting{AccountID: "A", Amount: usd(10)})
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	bal, _ := inner.Balance("A")
	assert.True(t, bal.Equal(decimal.NewFromInt(100)))

	_, err = flaky.Lookup(context.Background(), "A")
	require.NoError(t, err, "lookups are never failed")

	flaky.FailureRate = 0
	require.NoError(t, flaky.Debit(context.Background(), Posting{AccountID: "A", Amount: usd(10)}))
}
