package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/api/problem"
	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}

// errorStatus maps an orchestrator or ledger error onto an HTTP status and problem slug.
func errorStatus(err error) (int, string) {
	kind := err
	if te, ok := domain.AsTransferError(err); ok {
		kind = te.Kind
	}
	switch {
	case errors.Is(kind, domain.ErrValidation):
		return http.StatusBadRequest, "transfer/validation-failed"
	case errors.Is(kind, domain.ErrAccountNotFound):
		return http.StatusNotFound, "account/not-found"
	case errors.Is(kind, domain.ErrTransferNotFound):
		return http.StatusNotFound, "transfer/not-found"
	case errors.Is(kind, domain.ErrAccountBlocked):
		return http.StatusUnprocessableEntity, "account/blocked"
	case errors.Is(kind, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "transfer/insufficient-funds"
	case errors.Is(kind, domain.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity, "transfer/currency-mismatch"
	case errors.Is(kind, domain.ErrReplayedFailure):
		return http.StatusUnprocessableEntity, "transfer/replayed-failure"
	case errors.Is(kind, domain.ErrDuplicateTransaction):
		return http.StatusConflict, "transfer/duplicate"
	case errors.Is(kind, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency/key-conflict"
	case errors.Is(kind, domain.ErrTransferInProgress):
		return http.StatusConflict, "idempotency/in-progress"
	case errors.Is(kind, domain.ErrCompensationFailed):
		return http.StatusInternalServerError, "transfer/compensation-failed"
	case errors.Is(kind, domain.ErrRecordNotPersisted):
		return http.StatusInternalServerError, "transfer/not-persisted"
	case errors.Is(kind, domain.ErrCreditFailed):
		return http.StatusBadGateway, "transfer/credit-failed"
	case errors.Is(kind, domain.ErrLedgerTimeout):
		return http.StatusGatewayTimeout, "ledger/timeout"
	case errors.Is(kind, domain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, "ledger/unavailable"
	case errors.Is(kind, domain.ErrCanceled):
		return http.StatusRequestTimeout, "transfer/canceled"
	default:
		return http.StatusInternalServerError, "internal-server-error"
	}
}

// writeError renders err as a problem document. Transfer errors carry the
// transaction id, status and reconciliation flag.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, slug := errorStatus(err)
	d := problem.Details{
		Type:   problem.Type(slug),
		Status: status,
		Detail: err.Error(),
	}
	if te, ok := domain.AsTransferError(err); ok {
		d.TransactionID = te.TransactionID
		d.TransferStatus = string(te.Status)
		d.ReconciliationRequired = te.ReconciliationRequired
	} else if slug == "internal-server-error" {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		d.Detail = "unexpected server error"
	}
	problem.WriteDetails(w, r, d)
}
