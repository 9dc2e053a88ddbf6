package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/events"
	"github.com/ayo6706/transfer-orchestrator/internal/events/mocks"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	accountA = "DE89370400440532013000"
	accountB = "GB29NWBK60161331926819"
	accountC = "FR1420041010050500013M02606"
)

type fixture struct {
	ledger *ledger.MemoryLedger
	store  *repository.MemoryTransferStore
	events *events.Recorder
	orch   *TransferOrchestrator
}

func testOptions() OrchestratorOptions {
	return OrchestratorOptions{
		Topic:              domain.TransferEventsTopic,
		StepTimeout:        time.Second,
		PublishTimeout:     time.Second,
		StoreRetryAttempts: 1,
	}
}

func newFixture(t *testing.T, opts OrchestratorOptions) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledger.NewMemoryLedger(),
		store:  repository.NewMemoryTransferStore(),
		events: events.NewRecorder(),
	}
	f.orch = NewTransferOrchestrator(f.ledger, f.store, f.events, opts)
	return f
}

func (f *fixture) open(t *testing.T, id string, balance int64, currency string) {
	t.Helper()
	require.NoError(t, f.ledger.Open(domain.Account{
		ID:       id,
		Holder:   "holder " + id,
		Balance:  domain.NewMoney(decimal.NewFromInt(balance), currency),
		Currency: currency,
	}))
}

func (f *fixture) assertBalance(t *testing.T, id string, want int64) {
	t.Helper()
	got, err := f.ledger.Balance(id)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "balance of %s: got %s want %d", id, got, want)
}

func (f *fixture) assertStored(t *testing.T, rec *domain.TransferRecord, status domain.TransferStatus) *domain.TransferRecord {
	t.Helper()
	require.NotNil(t, rec)
	stored, err := f.store.FindByTransactionID(context.Background(), rec.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, status, stored.Status)
	return stored
}

func (f *fixture) assertSingleEvent(t *testing.T, transactionID, status string) events.Message {
	t.Helper()
	msgs := f.events.ForKey(transactionID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TransferEventsTopic, msgs[0].Topic)
	assert.Equal(t, status, msgs[0].Event.Status)
	assert.Equal(t, transactionID, msgs[0].Event.TransactionID)
	return msgs[0]
}

func transfer(from, to string, amount int64) domain.TransferRequest {
	return domain.TransferRequest{
		FromAccount: from,
		ToAccount:   to,
		Amount:      domain.NewMoney(decimal.NewFromInt(amount), "USD"),
		Description: "rent",
	}
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 500, "USD")
	f.open(t, accountB, 200, "USD")

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 300))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.TransferSuccess, rec.Status)
	assert.NotEmpty(t, rec.TransactionID)
	assert.NotZero(t, rec.ID)
	assert.Empty(t, rec.FailureReason)

	f.assertBalance(t, accountA, 200)
	f.assertBalance(t, accountB, 500)
	f.assertStored(t, rec, domain.TransferSuccess)

	msg := f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusSuccess)
	assert.Equal(t, "300.00", msg.Event.Amount)
	assert.Equal(t, "USD", msg.Event.Currency)
	assert.Equal(t, accountA, msg.Event.FromAccount)
	assert.Equal(t, accountB, msg.Event.ToAccount)
}

func TestExecuteInsufficientFunds(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 150))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, domain.RequiresReconciliation(err))
	assert.Equal(t, domain.TransferFailed, rec.Status)

	f.assertBalance(t, accountA, 100)
	f.assertBalance(t, accountB, 0)
	stored := f.assertStored(t, rec, domain.TransferFailed)
	assert.Contains(t, stored.FailureReason, "insufficient_funds")
	f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusFailed)
}

func TestExecuteCreditFailureCompensates(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")
	f.ledger.InjectFault(ledger.Fault{Op: ledger.OpCredit, AccountID: accountB, Err: domain.ErrLedgerUnavailable, Times: 1})

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
	require.ErrorIs(t, err, domain.ErrCreditFailed)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.False(t, domain.RequiresReconciliation(err))
	assert.Equal(t, domain.TransferRolledBack, rec.Status)

	f.assertBalance(t, accountA, 100)
	f.assertBalance(t, accountB, 0)
	f.assertStored(t, rec, domain.TransferRolledBack)
	msg := f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusFailed)
	assert.Contains(t, msg.Event.Reason, "debit reversed")
}

func TestExecuteCompensationFailureRequiresReconciliation(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")
	f.ledger.InjectFault(ledger.Fault{Op: ledger.OpCredit, AccountID: accountB, Err: domain.ErrLedgerUnavailable, Times: 1})
	f.ledger.InjectFault(ledger.Fault{Op: ledger.OpCredit, AccountID: accountA, Err: domain.ErrLedgerUnavailable, Times: 1})

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
	require.ErrorIs(t, err, domain.ErrCompensationFailed)
	assert.True(t, domain.RequiresReconciliation(err))
	assert.Contains(t, err.Error(), "manual reconciliation required")
	assert.Equal(t, domain.TransferFailed, rec.Status)
	assert.True(t, rec.ReconciliationRequired)

	f.assertBalance(t, accountA, 60)
	f.assertBalance(t, accountB, 0)
	stored := f.assertStored(t, rec, domain.TransferFailed)
	assert.True(t, stored.ReconciliationRequired)
	msg := f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusFailed)
	assert.True(t, msg.Event.ReconciliationRequired)
}

func TestExecuteValidationHasNoSideEffects(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	cases := map[string]domain.TransferRequest{
		"zero amount":   transfer(accountA, accountB, 0),
		"same account":  transfer(accountA, accountA, 10),
		"missing from":  transfer("", accountB, 10),
		"bad currency":  {FromAccount: accountA, ToAccount: accountB, Amount: domain.NewMoney(decimal.NewFromInt(5), "US")},
		"too precise":   {FromAccount: accountA, ToAccount: accountB, Amount: domain.NewMoney(decimal.RequireFromString("1.00001"), "USD")},
		"negative":      transfer(accountA, accountB, -5),
		"missing to":    transfer(accountA, "", 10),
		"overlong desc": {FromAccount: accountA, ToAccount: accountB, Amount: domain.NewMoney(decimal.NewFromInt(5), "USD"), Description: string(make([]byte, domain.MaxDescriptionLength+1))},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rec, err := f.orch.Execute(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Nil(t, rec)
		})
	}

	assert.Equal(t, 0, f.store.Count())
	assert.Empty(t, f.events.Messages())
	f.assertBalance(t, accountA, 100)
	f.assertBalance(t, accountB, 0)
}

func TestExecuteVerificationFailuresNeverMoveMoney(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		to      string
		wantErr error
	}{
		{
			name: "blocked destination",
			setup: func(t *testing.T, f *fixture) {
				f.open(t, accountB, 0, "USD")
				require.NoError(t, f.ledger.SetStatus(accountB, domain.AccountBlocked))
			},
			to:      accountB,
			wantErr: domain.ErrAccountBlocked,
		},
		{
			name:    "unknown destination",
			setup:   func(t *testing.T, f *fixture) {},
			to:      "XX00UNKNOWN",
			wantErr: domain.ErrAccountNotFound,
		},
		{
			name: "currency mismatch",
			setup: func(t *testing.T, f *fixture) {
				f.open(t, accountB, 0, "EUR")
			},
			to:      accountB,
			wantErr: domain.ErrCurrencyMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testOptions())
			f.open(t, accountA, 100, "USD")
			tc.setup(t, f)

			rec, err := f.orch.Execute(context.Background(), transfer(accountA, tc.to, 40))
			require.ErrorIs(t, err, tc.wantErr)
			assert.False(t, domain.RequiresReconciliation(err))
			require.NotNil(t, rec)
			assert.Equal(t, domain.TransferFailed, rec.Status)

			f.assertBalance(t, accountA, 100)
			stored := f.assertStored(t, rec, domain.TransferFailed)
			assert.Contains(t, stored.FailureReason, "verification failed")
			f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusFailed)
		})
	}
}

func TestExecuteLookupTimeoutIsNotAmbiguous(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")
	f.ledger.InjectFault(ledger.Fault{Op: ledger.OpLookup, Err: domain.ErrLedgerTimeout, Times: 1})

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
	require.ErrorIs(t, err, domain.ErrLedgerTimeout)
	assert.False(t, domain.RequiresReconciliation(err))
	assert.Equal(t, domain.TransferFailed, rec.Status)
	f.assertBalance(t, accountA, 100)
}

func TestExecuteDebitTimeout(t *testing.T) {
	t.Run("ambiguous outcome is flagged and not compensated", func(t *testing.T) {
		f := newFixture(t, testOptions())
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		// The ledger applies the debit but the answer is lost.
		f.ledger.InjectFault(ledger.Fault{Op: ledger.OpDebit, Err: domain.ErrLedgerTimeout, ApplyFirst: true, Times: 1})

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.ErrorIs(t, err, domain.ErrLedgerTimeout)
		assert.True(t, domain.RequiresReconciliation(err))
		assert.Equal(t, domain.TransferFailed, rec.Status)

		f.assertBalance(t, accountA, 60)
		f.assertBalance(t, accountB, 0)
		stored := f.assertStored(t, rec, domain.TransferFailed)
		assert.True(t, stored.ReconciliationRequired)
	})

	t.Run("step deadline is treated as unknown outcome", func(t *testing.T) {
		opts := testOptions()
		opts.StepTimeout = 20 * time.Millisecond
		f := newFixture(t, opts)
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		f.ledger.InjectFault(ledger.Fault{Op: ledger.OpDebit, Delay: time.Second, Times: 1})

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.ErrorIs(t, err, domain.ErrLedgerTimeout)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, domain.RequiresReconciliation(err))
		assert.Equal(t, domain.TransferFailed, rec.Status)
	})

	t.Run("timeout-safe ledger fails plainly", func(t *testing.T) {
		opts := testOptions()
		opts.TimeoutsAreSafe = true
		f := newFixture(t, opts)
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		f.ledger.InjectFault(ledger.Fault{Op: ledger.OpDebit, Err: domain.ErrLedgerTimeout, Times: 1})

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.ErrorIs(t, err, domain.ErrLedgerTimeout)
		assert.False(t, domain.RequiresReconciliation(err))
		assert.Equal(t, domain.TransferFailed, rec.Status)
		f.assertBalance(t, accountA, 100)
	})
}

func TestExecuteCreditTimeout(t *testing.T) {
	t.Run("ambiguous outcome is flagged and not compensated", func(t *testing.T) {
		f := newFixture(t, testOptions())
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		f.ledger.InjectFault(ledger.Fault{Op: ledger.OpCredit, AccountID: accountB, Err: domain.ErrLedgerTimeout, Times: 1})

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.ErrorIs(t, err, domain.ErrLedgerTimeout)
		assert.True(t, domain.RequiresReconciliation(err))
		assert.Equal(t, domain.TransferFailed, rec.Status)

		f.assertBalance(t, accountA, 60)
		f.assertBalance(t, accountB, 0)
		f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusFailed)
	})

	t.Run("timeout-safe ledger compensates", func(t *testing.T) {
		opts := testOptions()
		opts.TimeoutsAreSafe = true
		f := newFixture(t, opts)
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		f.ledger.InjectFault(ledger.Fault{Op: ledger.OpCredit, AccountID: accountB, Err: domain.ErrLedgerTimeout, Times: 1})

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.ErrorIs(t, err, domain.ErrCreditFailed)
		assert.False(t, domain.RequiresReconciliation(err))
		assert.Equal(t, domain.TransferRolledBack, rec.Status)
		f.assertBalance(t, accountA, 100)
	})
}

// cancelOnDebit cancels the caller's context while the debit is in flight.
type cancelOnDebit struct {
	ledger.Ledger
	cancel context.CancelFunc
}

func (c cancelOnDebit) Debit(ctx context.Context, p ledger.Posting) error {
	c.cancel()
	return c.Ledger.Debit(ctx, p)
}

func TestExecuteCompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := NewTransferOrchestrator(cancelOnDebit{Ledger: f.ledger, cancel: cancel}, f.store, f.events, testOptions())

	rec, err := orch.Execute(ctx, transfer(accountA, accountB, 40))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferSuccess, rec.Status)
	require.Error(t, ctx.Err())

	f.assertBalance(t, accountA, 60)
	f.assertBalance(t, accountB, 40)
	f.assertStored(t, rec, domain.TransferSuccess)
	f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusSuccess)
}

func TestExecuteCanceledBeforeStart(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := f.orch.Execute(ctx, transfer(accountA, accountB, 40))
	require.ErrorIs(t, err, domain.ErrCanceled)
	assert.False(t, domain.RequiresReconciliation(err))
	assert.Equal(t, domain.TransferFailed, rec.Status)
	f.assertBalance(t, accountA, 100)
	f.assertBalance(t, accountB, 0)
}

func TestExecutePublishFailureDoesNotChangeResult(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")
	f.events.FailWith(errors.New("broker down"))

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferSuccess, rec.Status)
	f.assertStored(t, rec, domain.TransferSuccess)
	f.assertBalance(t, accountB, 40)
}

func TestExecutePublishesOnceThroughPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)

	l := ledger.NewMemoryLedger()
	require.NoError(t, l.Open(domain.Account{ID: accountA, Balance: domain.NewMoney(decimal.NewFromInt(100), "USD"), Currency: "USD"}))
	require.NoError(t, l.Open(domain.Account{ID: accountB, Balance: domain.NewMoney(decimal.Zero, "USD"), Currency: "USD"}))
	orch := NewTransferOrchestrator(l, repository.NewMemoryTransferStore(), pub, testOptions()).
		WithIDGenerator(func() string { return "tx-fixed" })

	pub.EXPECT().
		Publish(gomock.Any(), domain.TransferEventsTopic, "tx-fixed", gomock.Any()).
		DoAndReturn(func(ctx context.Context, topic, key string, event domain.TransferEvent) error {
			assert.Equal(t, domain.EventStatusSuccess, event.Status)
			assert.Equal(t, "25.50", event.Amount)
			return nil
		}).
		Times(1)

	req := transfer(accountA, accountB, 0)
	req.Amount = domain.NewMoney(decimal.RequireFromString("25.5"), "USD")
	_, err := orch.Execute(context.Background(), req)
	require.NoError(t, err)
}

func TestExecuteDuplicateTransactionID(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")
	f.orch.WithIDGenerator(func() string { return "tx-same" })

	_, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 10))
	require.NoError(t, err)

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 10))
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)
	assert.Nil(t, rec)
	f.assertBalance(t, accountA, 90)
	assert.Len(t, f.events.Messages(), 1)
}

func TestExecutePendingCreateFailureMovesNothing(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")
	f.store.FailNext("Create", errors.New("connection reset"))

	rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 10))
	require.Error(t, err)
	assert.Nil(t, rec)
	f.assertBalance(t, accountA, 100)
	assert.Empty(t, f.events.Messages())
}

func TestExecuteTerminalWriteFailure(t *testing.T) {
	t.Run("exhausted retries leave the pending record flagged", func(t *testing.T) {
		f := newFixture(t, testOptions())
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		f.store.FailNext("UpdateStatus", errors.New("connection reset"))

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.ErrorIs(t, err, domain.ErrRecordNotPersisted)
		assert.True(t, domain.RequiresReconciliation(err))
		assert.Equal(t, domain.TransferSuccess, rec.Status)

		f.assertBalance(t, accountB, 40)
		f.assertStored(t, rec, domain.TransferPending)
		f.assertSingleEvent(t, rec.TransactionID, domain.EventStatusSuccess)
	})

	t.Run("retry recovers", func(t *testing.T) {
		opts := testOptions()
		opts.StoreRetryAttempts = 3
		f := newFixture(t, opts)
		f.open(t, accountA, 100, "USD")
		f.open(t, accountB, 0, "USD")
		f.store.FailNext("UpdateStatus", errors.New("connection reset"))

		rec, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 40))
		require.NoError(t, err)
		f.assertStored(t, rec, domain.TransferSuccess)
	})
}

func TestExecuteIdempotentReplay(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	req := transfer(accountA, accountB, 40)
	req.IdempotencyKey = "client-key-1"

	first, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, domain.TransferSuccess, second.Status)
	f.assertBalance(t, accountA, 60)
	f.assertBalance(t, accountB, 40)
	assert.Equal(t, 1, f.store.Count())
	assert.Len(t, f.events.Messages(), 1)

	conflicting := req
	conflicting.Amount = domain.NewMoney(decimal.NewFromInt(41), "USD")
	rec, err := f.orch.Execute(context.Background(), conflicting)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Nil(t, rec)
	f.assertBalance(t, accountA, 60)
}

func TestExecuteIdempotentReplayOfFailure(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	req := transfer(accountA, accountB, 150)
	req.IdempotencyKey = "client-key-2"

	first, err := f.orch.Execute(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	second, err := f.orch.Execute(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrReplayedFailure)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, domain.TransferFailed, second.Status)
	assert.Len(t, f.events.Messages(), 1)
}

func TestExecuteIdempotencyKeyInProgress(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 100, "USD")
	f.open(t, accountB, 0, "USD")

	req := transfer(accountA, accountB, 40).Normalize()
	req.IdempotencyKey = "client-key-3"
	now := time.Now().UTC()
	_, err := f.store.Create(context.Background(), domain.TransferRecord{
		TransactionID:  "tx-running",
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    req.Hash(),
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		Status:         domain.TransferPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)

	rec, err := f.orch.Execute(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrTransferInProgress)
	assert.Equal(t, "tx-running", rec.TransactionID)
	f.assertBalance(t, accountA, 100)
}

func TestExecuteConcurrentTransfersConserveMoney(t *testing.T) {
	f := newFixture(t, testOptions())
	accounts := []string{accountA, accountB, accountC}
	for _, id := range accounts {
		f.open(t, id, 1000, "USD")
	}
	// The first five credits to C fail and must be compensated.
	f.ledger.InjectFault(ledger.Fault{Op: ledger.OpCredit, AccountID: accountC, Err: domain.ErrLedgerUnavailable, Times: 5})

	const workers = 60
	var wg sync.WaitGroup
	results := make(chan *domain.TransferRecord, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := accounts[i%3]
			to := accounts[(i+1)%3]
			req := transfer(from, to, int64(50+i))
			req.IdempotencyKey = fmt.Sprintf("concurrent-%d", i)
			rec, _ := f.orch.Execute(context.Background(), req)
			results <- rec
		}(i)
	}
	wg.Wait()
	close(results)

	assert.True(t, f.ledger.Total("USD").Equal(decimal.NewFromInt(3000)))
	for _, id := range accounts {
		bal, err := f.ledger.Balance(id)
		require.NoError(t, err)
		assert.False(t, bal.IsNegative(), "account %s overdrawn", id)
	}

	seen := 0
	for rec := range results {
		require.NotNil(t, rec)
		seen++
		assert.True(t, rec.Status.IsTerminal())
		stored := f.assertStored(t, rec, rec.Status)
		assert.False(t, stored.ReconciliationRequired)
		assert.Len(t, f.events.ForKey(rec.TransactionID), 1)
	}
	assert.Equal(t, workers, seen)
}

func TestListByAccountClampsPaging(t *testing.T) {
	f := newFixture(t, testOptions())
	f.open(t, accountA, 1000, "USD")
	f.open(t, accountB, 0, "USD")
	for i := 0; i < 3; i++ {
		_, err := f.orch.Execute(context.Background(), transfer(accountA, accountB, 10))
		require.NoError(t, err)
	}

	recs, err := f.orch.ListByAccount(context.Background(), accountB, 0, -1)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	byID, err := f.orch.FindByID(context.Background(), recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, recs[0].TransactionID, byID.TransactionID)

	_, err = f.orch.FindByTransactionID(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrTransferNotFound)
}
