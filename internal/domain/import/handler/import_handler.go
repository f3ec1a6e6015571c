// Package handler exposes the import review workflow over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/tenant-ledger/pkg/httpx"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

const (
	// multipartOverhead is allowed on top of the file limit for the form
	// envelope; the file itself is checked against the exact limit.
	multipartOverhead = 1 << 20
	maxFormMemory     = 32 << 20
)

// ImportService is the workflow the handler drives.
type ImportService interface {
	Upload(ctx context.Context, tenantID uuid.UUID, fileName string, data []byte) (*service.UploadResult, error)
	ListStaged(ctx context.Context, tenantID uuid.UUID, q common.PageQuery) (*common.Page[*repository.StagedRecord], error)
	SetSelected(ctx context.Context, tenantID, key uuid.UUID, selected bool) error
	Complete(ctx context.Context, tenantID uuid.UUID, keys []uuid.UUID) (*service.CompletionResult, error)
	DiscardAll(ctx context.Context, tenantID uuid.UUID) error
	SaveMapping(ctx context.Context, tenantID uuid.UUID, req service.MappingRequest) error
	ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*repository.ImportBatch, error)
}

// ImportHandler serves the /import routes of a tenant.
type ImportHandler struct {
	svc            ImportService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewImportHandler constructs a new handler.
func NewImportHandler(svc ImportService, logger *slog.Logger, maxUploadBytes int64) *ImportHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = service.DefaultMaxUploadBytes
	}
	return &ImportHandler{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes mounts the import routes on r, which is expected to be the
// /api/tenants/{tenantID} sub-router.
func (h *ImportHandler) RegisterRoutes(r chi.Router, auth *interceptors.TenantAuth) {
	read := auth.Require(common.RoleViewer)
	write := auth.Require(common.RoleEditor)

	r.Route("/import", func(r chi.Router) {
		r.With(write).Post("/upload", h.Upload)
		r.With(read).Get("/review", h.ListStaged)
		r.With(write).Delete("/review", h.DiscardAll)
		r.With(write).Post("/review/complete", h.Complete)
		r.With(write).Patch("/review/{key}", h.SetSelected)
		r.With(write).Post("/mappings", h.SaveMapping)
		r.With(read).Get("/batches", h.ListBatches)
	})
}

// Upload accepts a statement file in the multipart field "file".
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromPath(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
			return
		}
		httpx.WriteProblem(w, r, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteProblem(w, r, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		httpx.WriteError(w, r, h.logger, fmt.Errorf("read upload: %w", err))
		return
	}

	result, err := h.svc.Upload(r.Context(), tenantID, header.Filename, data)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// ListStaged returns one page of the review queue.
func (h *ImportHandler) ListStaged(w http.ResponseWriter, r *http.Request) {
	q := common.ParsePageQuery(r.URL.Query().Get)
	page, err := h.svc.ListStaged(r.Context(), tenantFromPath(r), q)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

type selectionRequest struct {
	IsSelected *bool `json:"isSelected"`
}

// SetSelected toggles the advisory selection flag of one staged record.
func (h *ImportHandler) SetSelected(w http.ResponseWriter, r *http.Request) {
	key, err := uuid.Parse(chi.URLParam(r, "key"))
	if err != nil {
		httpx.WriteProblem(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var req selectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.IsSelected == nil {
		httpx.WriteProblem(w, r, http.StatusBadRequest, "isSelected is required")
		return
	}

	if err := h.svc.SetSelected(r.Context(), tenantFromPath(r), key, *req.IsSelected); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Complete accepts a JSON array of staged keys to move into the ledger.
func (h *ImportHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var keys []uuid.UUID
	if err := httpx.DecodeJSON(r, &keys); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	result, err := h.svc.Complete(r.Context(), tenantFromPath(r), keys)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// DiscardAll empties the review queue. Always 204 on success.
func (h *ImportHandler) DiscardAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DiscardAll(r.Context(), tenantFromPath(r)); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImportHandler) SaveMapping(w http.ResponseWriter, r *http.Request) {
	var req service.MappingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.svc.SaveMapping(r.Context(), tenantFromPath(r), req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImportHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := h.svc.ListBatches(r.Context(), tenantFromPath(r), limit)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, batches)
}

// tenantFromPath reads {tenantID}. The auth middleware has already rejected
// malformed values.
func tenantFromPath(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(chi.URLParam(r, "tenantID"))
	return id
}
