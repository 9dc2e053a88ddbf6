package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPConfig configures the remote account-service client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single HTTP exchange. The orchestrator usually imposes a
	// tighter deadline through the context.
	Timeout time.Duration
	// BreakerOpenTimeout is how long the circuit stays open before probing again.
	BreakerOpenTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that trips the circuit.
	BreakerFailures uint32
}

// HTTPLedger talks to the account service over REST behind a circuit breaker.
// Compensating credits use their own breaker so a credit failure that trips
// the forward circuit does not also reject the reversal.
type HTTPLedger struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	compCB     *gobreaker.CircuitBreaker
}

type accountResponse struct {
	ID            string `json:"id"`
	IBAN          string `json:"iban"`
	AccountHolder string `json:"accountHolder"`
	Balance       string `json:"balance"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

type postingRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPLedger creates a client for the account service.
func NewHTTPLedger(cfg HTTPConfig) *HTTPLedger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	l := &HTTPLedger{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}

	l.cb = newBreaker("account-service", cfg)
	l.compCB = newBreaker("account-service-compensation", cfg)
	return l
}

func newBreaker(name string, cfg HTTPConfig) *gobreaker.CircuitBreaker {
	failures := cfg.BreakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Business rejections prove the service is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrAccountNotFound) ||
				errors.Is(err, domain.ErrAccountBlocked) ||
				errors.Is(err, domain.ErrInsufficientFunds) ||
				errors.Is(err, domain.ErrCurrencyMismatch)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			zap.L().Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observability.SetLedgerCircuitState(name, float64(to))
		},
	})
}

func (l *HTTPLedger) Lookup(ctx context.Context, accountID string) (domain.Account, error) {
	var acct domain.Account
	err := l.call(ctx, l.cb, OpLookup, func() error {
		var resp accountResponse
		if err := l.do(ctx, http.MethodGet, l.accountURL(accountID, ""), nil, "", &resp); err != nil {
			return err
		}
		balance, err := domain.ParseMoney(resp.Balance, resp.Currency)
		if err != nil {
			return fmt.Errorf("decode account %s: %w", accountID, err)
		}
		id := resp.IBAN
		if id == "" {
			id = resp.ID
		}
		acct = domain.Account{
			ID:       id,
			Holder:   resp.AccountHolder,
			Balance:  balance,
			Currency: balance.Currency,
			Status:   domain.AccountStatus(strings.ToUpper(resp.Status)),
		}
		return nil
	})
	return acct, err
}

func (l *HTTPLedger) Debit(ctx context.Context, p Posting) error {
	return l.post(ctx, OpDebit, p)
}

func (l *HTTPLedger) Credit(ctx context.Context, p Posting) error {
	return l.post(ctx, OpCredit, p)
}

func (l *HTTPLedger) post(ctx context.Context, op Op, p Posting) error {
	body, err := json.Marshal(postingRequest{
		Amount:    p.Amount.Amount.String(),
		Currency:  p.Amount.Currency,
		Reference: p.Reference,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	cb := l.cb
	if p.Compensation {
		cb = l.compCB
	}
	return l.call(ctx, cb, op, func() error {
		return l.do(ctx, http.MethodPost, l.accountURL(p.AccountID, string(op)), body, p.Reference, nil)
	})
}

func (l *HTTPLedger) call(ctx context.Context, cb *gobreaker.CircuitBreaker, op Op, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%s rejected, circuit %s %s: %w", op, cb.Name(), cb.State(), domain.ErrLedgerUnavailable)
	} else if err != nil && ctx.Err() == context.DeadlineExceeded && !IsTimeout(err) {
		err = fmt.Errorf("%s: %w", err.Error(), domain.ErrLedgerTimeout)
	}
	return err
}

func (l *HTTPLedger) do(ctx context.Context, method, target string, body []byte, reference string, out any) error {
	if l.baseURL == "" {
		return fmt.Errorf("account service base url is empty: %w", domain.ErrLedgerUnavailable)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reference != "" {
		req.Header.Set("Idempotency-Key", reference)
	}
	if l.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", l.apiKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		// The request may have reached the ledger, so the outcome is unknown.
		return fmt.Errorf("%s %s: %v: %w", method, req.URL.Path, err, transportError(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	var apiErr errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
	return statusError(resp.StatusCode, apiErr)
}

func (l *HTTPLedger) accountURL(accountID, action string) string {
	u := fmt.Sprintf("%s/api/v1/accounts/%s", l.baseURL, url.PathEscape(accountID))
	if action != "" {
		u += "/" + action
	}
	return u
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return context.Canceled
	}
	return domain.ErrLedgerTimeout
}

func statusError(status int, apiErr errorResponse) error {
	detail := apiErr.Message
	if detail == "" {
		detail = http.StatusText(status)
	}
	code := strings.ToLower(apiErr.Code)

	switch {
	case status == http.StatusConflict && code == "duplicate_reference":
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail, domain.ErrAccountNotFound)
	case code == "insufficient_funds":
		return fmt.Errorf("%s: %w", detail, domain.ErrInsufficientFunds)
	case status == http.StatusLocked || code == "account_blocked":
		return fmt.Errorf("%s: %w", detail, domain.ErrAccountBlocked)
	case code == "currency_mismatch":
		return fmt.Errorf("%s: %w", detail, domain.ErrCurrencyMismatch)
	case status == http.StatusServiceUnavailable && apiErr == (errorResponse{}):
		// A bare 503 comes from a proxy or load balancer in front of the
		// service, so the posting never reached the ledger.
		return fmt.Errorf("account service status %d: %w", status, domain.ErrLedgerUnavailable)
	case status == http.StatusRequestTimeout || status >= 500:
		// The ledger may have committed before failing to answer.
		return fmt.Errorf("account service status %d: %s: outcome unknown: %w", status, detail, domain.ErrLedgerTimeout)
	default:
		return fmt.Errorf("account service returned error status %d: %s", status, detail)
	}
}
