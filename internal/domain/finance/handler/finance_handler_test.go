package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/finance/repository"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/importtest"
	importrepo "github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

type failingLedger struct{}

func (failingLedger) ListLedger(context.Context, uuid.UUID, common.PageQuery) ([]*importrepo.LedgerRecord, int64, error) {
	return nil, 0, errors.New("pq: relation does not exist")
}

func setup(t *testing.T, ledger repository.LedgerRepository) (http.Handler, uuid.UUID, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := interceptors.NewTenantAuth([]byte("finance-secret"))
	tenant := uuid.New()

	r := chi.NewRouter()
	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		NewFinanceHandler(ledger, logger).RegisterRoutes(r, auth)
	})

	tok, err := auth.IssueToken(&common.Claims{
		Tenants:          map[string]common.Role{tenant.String(): common.RoleViewer},
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	require.NoError(t, err)
	return r, tenant, tok
}

func get(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListTransactions_ExcludesStagedRows(t *testing.T) {
	store := importtest.NewStore()
	router, tenant, tok := setup(t, store)

	day := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	store.SeedLedger(tenant,
		importrepo.LedgerRecord{Date: day, AmountMinor: -1200, Payee: "Bakery"},
		importrepo.LedgerRecord{Date: day.AddDate(0, 0, 1), AmountMinor: -5000, Payee: "Fuel"},
	)
	_, err := store.InsertStaged(context.Background(), []*importrepo.StagedRecord{{
		TenantID: tenant, Date: day, AmountMinor: -999, Payee: "Staged only",
		DuplicateStatus: importrepo.StatusNew,
	}})
	require.NoError(t, err)

	w := get(router, "/api/tenants/"+tenant.String()+"/transactions?pageSize=5000", tok)
	require.Equal(t, http.StatusOK, w.Code)

	var page common.Page[importrepo.LedgerRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Metadata.TotalCount)
	assert.Equal(t, 1000, page.Metadata.PageSize)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Fuel", page.Items[0].Payee, "newest first by default")
	for _, item := range page.Items {
		assert.NotEqual(t, "Staged only", item.Payee)
	}
}

func TestListTransactions_Search(t *testing.T) {
	store := importtest.NewStore()
	router, tenant, tok := setup(t, store)
	store.SeedLedger(tenant,
		importrepo.LedgerRecord{Date: time.Now(), AmountMinor: -100, Payee: "Coffee", Category: "Food"},
		importrepo.LedgerRecord{Date: time.Now(), AmountMinor: -200, Payee: "Train"},
	)

	w := get(router, "/api/tenants/"+tenant.String()+"/transactions?searchText=FOOD", tok)
	require.Equal(t, http.StatusOK, w.Code)

	var page common.Page[importrepo.LedgerRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Coffee", page.Items[0].Payee)
}

func TestListTransactions_PageBeyondEnd(t *testing.T) {
	store := importtest.NewStore()
	router, tenant, tok := setup(t, store)
	store.SeedLedger(tenant, importrepo.LedgerRecord{Date: time.Now(), AmountMinor: -100, Payee: "Coffee"})

	w := get(router, "/api/tenants/"+tenant.String()+"/transactions?pageNumber=9223372036854775807", tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var page common.Page[importrepo.LedgerRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(1), page.Metadata.TotalCount)
}

func TestListTransactions_Forbidden(t *testing.T) {
	router, _, tok := setup(t, importtest.NewStore())

	w := get(router, "/api/tenants/"+uuid.NewString()+"/transactions", tok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(router, "/api/tenants/bad-id/transactions", tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTransactions_HidesInternalErrors(t *testing.T) {
	router, tenant, tok := setup(t, failingLedger{})

	w := get(router, "/api/tenants/"+tenant.String()+"/transactions", tok)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "relation")
}
