package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/importtest"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/tenant-ledger/pkg/httpx"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

const maxUpload = 4096

type fixture struct {
	t      *testing.T
	router http.Handler
	store  *importtest.Store
	auth   *interceptors.TenantAuth
	tenant uuid.UUID
	editor string
	viewer string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := importtest.NewStore()
	svc := service.NewImportService(store, parser.NewRegistry(store), logger, maxUpload)
	auth := interceptors.NewTenantAuth([]byte("handler-secret"))

	r := chi.NewRouter()
	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		NewImportHandler(svc, logger, maxUpload).RegisterRoutes(r, auth)
	})

	f := &fixture{t: t, router: r, store: store, auth: auth, tenant: uuid.New()}
	f.editor = f.token(common.RoleEditor)
	f.viewer = f.token(common.RoleViewer)
	return f
}

func (f *fixture) token(role common.Role) string {
	f.t.Helper()
	tok, err := f.auth.IssueToken(&common.Claims{
		UserID:  "user-1",
		Tenants: map[string]common.Role{f.tenant.String(): role},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) path(suffix string) string {
	return "/api/tenants/" + f.tenant.String() + suffix
}

func (f *fixture) do(method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(token, fileName string, data []byte) *httptest.ResponseRecorder {
	f.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(f.t, err)
	_, err = part.Write(data)
	require.NoError(f.t, err)
	require.NoError(f.t, mw.Close())
	return f.do(http.MethodPost, f.path("/import/upload"), token, mw.FormDataContentType(), &body)
}

func (f *fixture) json(method, suffix, body string) *httptest.ResponseRecorder {
	return f.do(method, f.path(suffix), f.editor, "application/json", strings.NewReader(body))
}

func statement(n int) []byte {
	var b strings.Builder
	b.WriteString("Date,Description,Amount\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "2024-03-%02d,Vendor %d,-%d.00\n", i, i, i)
	}
	return []byte(b.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUpload_TenTransactions(t *testing.T) {
	f := newFixture(t)

	w := f.upload(f.editor, "statement.csv", statement(10))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[service.UploadResult](t, w)
	assert.Equal(t, 10, res.ImportedCount)
	assert.Equal(t, 10, res.NewCount)
	assert.NotNil(t, res.BatchID)
	assert.NotNil(t, res.Errors)
}

func TestUpload_SameFileTwice(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.upload(f.editor, "s.csv", statement(3)).Code)
	w := f.upload(f.editor, "s.csv", statement(3))
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[service.UploadResult](t, w)
	assert.Equal(t, 3, res.ExactDuplicateCount)
	assert.Zero(t, res.NewCount)
}

func TestUpload_CorruptedFileIsNotAnError(t *testing.T) {
	f := newFixture(t)

	w := f.upload(f.editor, "broken.qfx", []byte("<<<garbage>>>"))
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[service.UploadResult](t, w)
	assert.Zero(t, res.ImportedCount)
	assert.NotEmpty(t, res.Errors)
}

func TestUpload_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		w    *httptest.ResponseRecorder
	}{
		{"empty file", f.upload(f.editor, "a.csv", nil)},
		{"unsupported type", f.upload(f.editor, "a.pdf", []byte("%PDF-1.4"))},
		{"too large", f.upload(f.editor, "a.csv", bytes.Repeat([]byte("x"), maxUpload+1))},
		{"not multipart", f.do(http.MethodPost, f.path("/import/upload"), f.editor, "text/plain", strings.NewReader("hi"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, tt.w.Code, tt.w.Body.String())
			assert.Equal(t, "application/problem+json", tt.w.Header().Get("Content-Type"))
		})
	}
}

func TestUpload_NonPositiveLimitUsesDefault(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := importtest.NewStore()
	svc := service.NewImportService(store, parser.NewRegistry(store), logger, 0)
	f := newFixture(t)

	r := chi.NewRouter()
	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		NewImportHandler(svc, logger, 0).RegisterRoutes(r, f.auth)
	})
	f.router = r

	w := f.upload(f.editor, "s.csv", statement(5))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, decode[service.UploadResult](t, w).NewCount)
}

func TestUpload_MissingFileField(t *testing.T) {
	f := newFixture(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	w := f.do(http.MethodPost, f.path("/import/upload"), f.editor, mw.FormDataContentType(), &body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"viewer lists", http.MethodGet, f.path("/import/review"), f.viewer, http.StatusOK},
		{"viewer lists batches", http.MethodGet, f.path("/import/batches"), f.viewer, http.StatusOK},
		{"missing token", http.MethodGet, f.path("/import/review"), "", http.StatusForbidden},
		{"other tenant", http.MethodGet, "/api/tenants/" + other.String() + "/import/review", f.editor, http.StatusForbidden},
		{"viewer discards", http.MethodDelete, f.path("/import/review"), f.viewer, http.StatusForbidden},
		{"viewer completes", http.MethodPost, f.path("/import/review/complete"), f.viewer, http.StatusForbidden},
		{"viewer patches", http.MethodPatch, f.path("/import/review/" + uuid.NewString()), f.viewer, http.StatusForbidden},
		{"malformed tenant", http.MethodGet, "/api/tenants/nope/import/review", f.editor, http.StatusNotFound},
		{"malformed key", http.MethodPatch, f.path("/import/review/nope"), f.editor, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.token, "application/json", strings.NewReader("{}"))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestListStaged_Clamps(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "s.csv", statement(3)).Code)

	tests := []struct {
		query    string
		wantNum  int
		wantSize int
	}{
		{"?pageNumber=0", 1, 50},
		{"?pageSize=-5", 1, 50},
		{"?pageSize=5000", 1, 1000},
		{"?pageNumber=2&pageSize=2", 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(http.MethodGet, f.path("/import/review"+tt.query), f.viewer, "", nil)
			require.Equal(t, http.StatusOK, w.Code)

			page := decode[common.Page[map[string]any]](t, w)
			assert.Equal(t, tt.wantNum, page.Metadata.PageNumber)
			assert.Equal(t, tt.wantSize, page.Metadata.PageSize)
			assert.Equal(t, int64(3), page.Metadata.TotalCount)
		})
	}
}

func TestListStaged_PageBeyondEnd(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "s.csv", statement(3)).Code)

	w := f.do(http.MethodGet, f.path("/import/review?pageNumber=9223372036854775807"), f.viewer, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	page := decode[common.Page[map[string]any]](t, w)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(3), page.Metadata.TotalCount)
	assert.Positive(t, page.Metadata.PageNumber)
}

func TestListStaged_EmptyQueue(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, f.path("/import/review"), f.viewer, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"metadata":{"pageNumber":1,"pageSize":50,"totalCount":0,"totalPages":0}}`, w.Body.String())
}

func TestSetSelected(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "s.csv", statement(1)).Code)
	key := f.store.Staged(f.tenant)[0].Key

	w := f.json(http.MethodPatch, "/import/review/"+key.String(), `{"isSelected":false}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.store.Staged(f.tenant)[0].IsSelected)

	w = f.json(http.MethodPatch, "/import/review/"+uuid.NewString(), `{"isSelected":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.json(http.MethodPatch, "/import/review/"+key.String(), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.json(http.MethodPatch, "/import/review/"+key.String(), `{"isSelected":true,"extra":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "s.csv", statement(3)).Code)
	staged := f.store.Staged(f.tenant)

	body := fmt.Sprintf(`[%q, %q]`, staged[0].Key, staged[0].Key)
	w := f.json(http.MethodPost, "/import/review/complete", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"acceptedCount":1,"rejectedCount":2}`, w.Body.String())

	assert.Empty(t, f.store.Staged(f.tenant))
	assert.Len(t, f.store.Ledger(f.tenant), 1)
}

func TestComplete_BadBodies(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`[]`, `null`, `["not-a-uuid"]`, `{"keys":[]}`, ``} {
		t.Run(body, func(t *testing.T) {
			w := f.json(http.MethodPost, "/import/review/complete", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			p := decode[httpx.Problem](t, w)
			assert.Equal(t, http.StatusBadRequest, p.Status)
		})
	}
}

func TestDiscardAll_Idempotent(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.json(http.MethodDelete, "/import/review", "").Code)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "s.csv", statement(2)).Code)
	assert.Equal(t, http.StatusNoContent, f.json(http.MethodDelete, "/import/review", "").Code)
	assert.Equal(t, http.StatusNoContent, f.json(http.MethodDelete, "/import/review", "").Code)
	assert.Empty(t, f.store.Staged(f.tenant))
}

func TestSaveMapping(t *testing.T) {
	f := newFixture(t)

	w := f.json(http.MethodPost, "/import/mappings",
		`{"fingerprint":"abc","delimiter":";","dateCol":0,"payeeCol":1,"amountCol":2}`)
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = f.json(http.MethodPost, "/import/mappings", `{"fingerprint":"abc","dateCol":0,"payeeCol":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBatches(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "one.csv", statement(2)).Code)
	require.Equal(t, http.StatusOK, f.upload(f.editor, "two.csv", statement(4)).Code)

	w := f.do(http.MethodGet, f.path("/import/batches?limit=1"), f.viewer, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	batches := decode[[]map[string]any](t, w)
	require.Len(t, batches, 1)
	assert.Equal(t, "two.csv", batches[0]["fileName"])
	assert.Equal(t, "pending", batches[0]["status"])
}
