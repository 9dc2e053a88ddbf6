package handler

import (
	"net/http"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
)

// AdminHandler serves operator views.
type AdminHandler struct {
	reconciliation *service.ReconciliationService
}

func NewAdminHandler(reconciliation *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{reconciliation: reconciliation}
}

// ListStaleTransfers returns transfers stuck in PENDING, oldest first.
func (h *AdminHandler) ListStaleTransfers(w http.ResponseWriter, r *http.Request) {
	stale, err := h.reconciliation.ListStale(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": models.TransfersFromRecords(stale),
		"count": len(stale),
	})
}
