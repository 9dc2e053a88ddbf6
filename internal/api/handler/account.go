package handler

import (
	"net/http"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.AccountFromDomain(account))
}

func (h *AccountHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	page := max(queryInt(r, "page"), 1)
	pageSize := queryInt(r, "page_size")
	switch {
	case pageSize < 1:
		pageSize = 20
	case pageSize > 100:
		pageSize = 100
	}

	recs, err := h.svc.GetTransfers(r.Context(), chi.URLParam(r, "id"), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.TransferPage{
		Items:    models.TransfersFromRecords(recs),
		Page:     page,
		PageSize: pageSize,
	})
}
