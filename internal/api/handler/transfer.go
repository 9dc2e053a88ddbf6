package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/transfer-orchestrator/internal/api/middleware"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
)

type TransferHandler struct {
	svc *service.TransferOrchestrator
}

func NewTransferHandler(svc *service.TransferOrchestrator) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// CreateTransfer runs a transfer to completion and returns the final record.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	// Keys are per caller; the same key from another user is a new transfer.
	key := middleware.ScopedIdempotencyKey(middleware.UserIDFromContext(r.Context()), r.Header.Get(middleware.IdempotencyKeyHeader))
	rec, err := h.svc.Execute(r.Context(), req.ToDomain(key))
	if err != nil {
		writeError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, models.TransferFromRecord(*rec))
}

func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transfer-id", "Invalid transfer ID")
		return
	}
	rec, err := h.svc.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.TransferFromRecord(*rec))
}

func (h *TransferHandler) GetTransferByTransactionID(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.FindByTransactionID(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.TransferFromRecord(*rec))
}
