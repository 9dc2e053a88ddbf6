package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
)

// Fault makes matching ledger calls misbehave. It is used by tests and local simulations.
type Fault struct {
	Op        Op
	AccountID string // empty matches any account
	Err       error
	// ApplyFirst applies the posting before returning Err, which models a
	// response lost after the ledger committed.
	ApplyFirst bool
	Delay      time.Duration
	// Times limits how many calls the fault affects; zero means every call.
	Times int
}

type memoryAccount struct {
	mu      sync.Mutex
	account domain.Account
}

// MemoryLedger is an in-process ledger. Postings on one account are serialized
// by a per-account mutex; postings on different accounts run in parallel.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*memoryAccount

	refMu   sync.Mutex
	applied map[string]struct{}

	faultMu sync.Mutex
	faults  []*Fault
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*memoryAccount),
		applied:  make(map[string]struct{}),
	}
}

// Open registers an account. Opening an existing id fails.
func (l *MemoryLedger) Open(acct domain.Account) error {
	if strings.TrimSpace(acct.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if acct.Balance.Amount.IsNegative() {
		return fmt.Errorf("account %s: opening balance cannot be negative", acct.ID)
	}
	acct.Currency = domain.NormalizeCurrency(acct.Currency)
	acct.Balance.Currency = acct.Currency
	if acct.Status == "" {
		acct.Status = domain.AccountActive
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[acct.ID]; exists {
		return fmt.Errorf("account %s already exists", acct.ID)
	}
	l.accounts[acct.ID] = &memoryAccount{account: acct}
	return nil
}

// SetStatus changes the status of an account.
func (l *MemoryLedger) SetStatus(accountID string, status domain.AccountStatus) error {
	acct, err := l.lookupAccount(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	acct.account.Status = status
	acct.mu.Unlock()
	return nil
}

// Balance returns the current balance of an account.
func (l *MemoryLedger) Balance(accountID string) (decimal.Decimal, error) {
	acct, err := l.Lookup(context.Background(), accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance.Amount, nil
}

// Total sums every balance held in currency.
func (l *MemoryLedger) Total(currency string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, acct := range l.accounts {
		acct.mu.Lock()
		if acct.account.Currency == currency {
			total = total.Add(acct.account.Balance.Amount)
		}
		acct.mu.Unlock()
	}
	return total
}

// InjectFault registers a fault. Faults are matched in registration order.
func (l *MemoryLedger) InjectFault(f Fault) {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()
	fault := f
	l.faults = append(l.faults, &fault)
}

// ClearFaults removes every registered fault.
func (l *MemoryLedger) ClearFaults() {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()
	l.faults = nil
}

func (l *MemoryLedger) Lookup(ctx context.Context, accountID string) (domain.Account, error) {
	fault := l.takeFault(OpLookup, accountID)
	if err := l.beforeCall(ctx, fault); err != nil {
		return domain.Account{}, err
	}
	if fault != nil && fault.Err != nil {
		return domain.Account{}, fault.Err
	}

	acct, err := l.lookupAccount(accountID)
	if err != nil {
		return domain.Account{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.account, nil
}

func (l *MemoryLedger) Debit(ctx context.Context, p Posting) error {
	return l.post(ctx, OpDebit, p)
}

func (l *MemoryLedger) Credit(ctx context.Context, p Posting) error {
	return l.post(ctx, OpCredit, p)
}

func (l *MemoryLedger) post(ctx context.Context, op Op, p Posting) error {
	fault := l.takeFault(op, p.AccountID)
	if err := l.beforeCall(ctx, fault); err != nil {
		return err
	}
	if fault != nil && fault.Err != nil && !fault.ApplyFirst {
		return fault.Err
	}

	acct, err := l.lookupAccount(p.AccountID)
	if err != nil {
		return err
	}
	if err := l.apply(op, acct, p); err != nil {
		return err
	}

	if fault != nil && fault.ApplyFirst {
		return fault.Err
	}
	return nil
}

func (l *MemoryLedger) apply(op Op, acct *memoryAccount, p Posting) error {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if p.Reference != "" && l.seen(p.Reference) {
		return nil
	}
	if !acct.account.IsActive() {
		return fmt.Errorf("account %s is %s: %w", acct.account.ID, acct.account.Status, domain.ErrAccountBlocked)
	}
	if p.Amount.Currency != acct.account.Currency {
		return fmt.Errorf("account %s holds %s: %w", acct.account.ID, acct.account.Currency, domain.ErrCurrencyMismatch)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("posting amount must be positive")
	}

	balance := acct.account.Balance.Amount
	switch op {
	case OpDebit:
		if balance.LessThan(p.Amount.Amount) {
			return fmt.Errorf("account %s balance %s below %s: %w", acct.account.ID, balance.String(), p.Amount.Amount.String(), domain.ErrInsufficientFunds)
		}
		acct.account.Balance.Amount = balance.Sub(p.Amount.Amount)
	case OpCredit:
		acct.account.Balance.Amount = balance.Add(p.Amount.Amount)
	default:
		return fmt.Errorf("unsupported posting op %q", op)
	}

	if p.Reference != "" {
		l.markApplied(p.Reference)
	}
	return nil
}

func (l *MemoryLedger) beforeCall(ctx context.Context, fault *Fault) error {
	if fault != nil && fault.Delay > 0 {
		timer := time.NewTimer(fault.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

func (l *MemoryLedger) lookupAccount(accountID string) (*memoryAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrAccountNotFound)
	}
	return acct, nil
}

func (l *MemoryLedger) takeFault(op Op, accountID string) *Fault {
	l.faultMu.Lock()
	defer l.faultMu.Unlock()
	for i, f := range l.faults {
		if f.Op != op || (f.AccountID != "" && f.AccountID != accountID) {
			continue
		}
		matched := *f
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				l.faults = append(l.faults[:i], l.faults[i+1:]...)
			}
		}
		return &matched
	}
	return nil
}

func (l *MemoryLedger) seen(reference string) bool {
	l.refMu.Lock()
	defer l.refMu.Unlock()
	_, ok := l.applied[reference]
	return ok
}

func (l *MemoryLedger) markApplied(reference string) {
	l.refMu.Lock()
	defer l.refMu.Unlock()
	l.applied[reference] = struct{}{}
}

// ParseSeedAccounts parses "ID:BALANCE:CURRENCY[:STATUS]" entries separated by commas.
func ParseSeedAccounts(seed string) ([]domain.Account, error) {
	var accounts []domain.Account
	for _, entry := range strings.Split(seed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("invalid seed account %q", entry)
		}
		balance, err := domain.ParseMoney(parts[1], parts[2])
		if err != nil {
			return nil, fmt.Errorf("seed account %s: %w", parts[0], err)
		}
		status := domain.AccountActive
		if len(parts) == 4 {
			status = domain.AccountStatus(strings.ToUpper(strings.TrimSpace(parts[3])))
		}
		accounts = append(accounts, domain.Account{
			ID:       strings.TrimSpace(parts[0]),
			Balance:  balance,
			Currency: balance.Currency,
			Status:   status,
		})
	}
	return accounts, nil
}
