// Package handler serves the ledger listing.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/finance/repository"
	importrepo "github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/tenant-ledger/pkg/httpx"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

// FinanceHandler serves committed transactions.
type FinanceHandler struct {
	ledger repository.LedgerRepository
	logger *slog.Logger
}

// NewFinanceHandler constructs a new handler.
func NewFinanceHandler(ledger repository.LedgerRepository, logger *slog.Logger) *FinanceHandler {
	return &FinanceHandler{ledger: ledger, logger: logger}
}

// RegisterRoutes mounts GET /transactions on the tenant sub-router.
func (h *FinanceHandler) RegisterRoutes(r chi.Router, auth *interceptors.TenantAuth) {
	r.With(auth.Require(common.RoleViewer)).Get("/transactions", h.ListTransactions)
}

// ListTransactions returns one page of the tenant's ledger.
func (h *FinanceHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := uuid.Parse(chi.URLParam(r, "tenantID"))
	l := h.logger.With(slog.String("method", "ListTransactions"), slog.String("tenantID", tenantID.String()))

	q := common.ParsePageQuery(r.URL.Query().Get)
	items, total, err := h.ledger.ListLedger(r.Context(), tenantID, q)
	if err != nil {
		httpx.WriteError(w, r, l, err)
		return
	}
	if items == nil {
		items = []*importrepo.LedgerRecord{}
	}

	httpx.WriteJSON(w, http.StatusOK, common.Page[*importrepo.LedgerRecord]{
		Items:    items,
		Metadata: common.NewPageMetadata(q, total),
	})
}
