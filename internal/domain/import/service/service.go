// Package service provides the import orchestration logic.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/classifier"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/tenant-ledger/pkg/observability"
)

// DefaultMaxUploadBytes applies when no positive upload limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// UploadResult is returned to the uploader. Errors is never nil.
type UploadResult struct {
	ImportedCount           int        `json:"importedCount"`
	NewCount                int        `json:"newCount"`
	ExactDuplicateCount     int        `json:"exactDuplicateCount"`
	PotentialDuplicateCount int        `json:"potentialDuplicateCount"`
	Errors                  []string   `json:"errors"`
	BatchID                 *uuid.UUID `json:"batchId,omitempty"`
	Format                  string     `json:"format"`
	Fingerprint             string     `json:"fingerprint,omitempty"`
}

// CompletionResult reports a completed review.
type CompletionResult struct {
	AcceptedCount int `json:"acceptedCount"`
	RejectedCount int `json:"rejectedCount"`
}

// MappingRequest is a column mapping a tenant saves for a CSV fingerprint.
// Optional columns are omitted or null when absent.
type MappingRequest struct {
	Fingerprint      string `json:"fingerprint"`
	BankName         string `json:"bankName"`
	Delimiter        string `json:"delimiter"`
	SkipLines        int    `json:"skipLines"`
	DateFormat       string `json:"dateFormat"`
	DateCol          int    `json:"dateCol"`
	PayeeCol         int    `json:"payeeCol"`
	MemoCol          *int   `json:"memoCol"`
	CategoryCol      *int   `json:"categoryCol"`
	AmountCol        *int   `json:"amountCol"`
	DebitCol         *int   `json:"debitCol"`
	CreditCol        *int   `json:"creditCol"`
	ReferenceCol     *int   `json:"referenceCol"`
	IsEuropeanFormat bool   `json:"isEuropeanFormat"`
}

// ImportService runs the upload, review and completion workflow.
type ImportService struct {
	repo           repository.ImportRepository
	parsers        *parser.Registry
	logger         *slog.Logger
	tracer         trace.Tracer
	maxUploadBytes int64
	now            func() time.Time
}

// NewImportService creates a new import service. maxUploadBytes <= 0 means
// DefaultMaxUploadBytes.
func NewImportService(repo repository.ImportRepository, parsers *parser.Registry, logger *slog.Logger, maxUploadBytes int64) *ImportService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ImportService{
		repo:           repo,
		parsers:        parsers,
		logger:         logger,
		tracer:         otel.Tracer("ImportService"),
		maxUploadBytes: maxUploadBytes,
		now:            time.Now,
	}
}

func (s *ImportService) span(ctx context.Context, name string, tenantID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("tenant.id", tenantID.String())))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Upload parses a statement file, classifies every record against the
// tenant's ledger and pending review rows, and stages the result. Content
// problems are reported in UploadResult.Errors; a file that parses to nothing
// writes nothing.
func (s *ImportService) Upload(ctx context.Context, tenantID uuid.UUID, fileName string, data []byte) (*UploadResult, error) {
	ctx, span := s.span(ctx, "Upload", tenantID)
	defer span.End()
	l := s.logger.With(slog.String("method", "Upload"), slog.String("tenantID", tenantID.String()))

	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("file is empty: %w", common.ErrInvalidInput)
	case int64(len(data)) > s.maxUploadBytes:
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.maxUploadBytes, common.ErrInvalidInput)
	}

	parsed, err := s.parsers.Parse(ctx, parser.Input{TenantID: tenantID, FileName: fileName, Data: data})
	if err != nil {
		if !errors.Is(err, common.ErrInvalidInput) {
			fail(span, err)
			l.ErrorContext(ctx, "Failed to parse upload", slog.Any("error", err))
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("import.format", parsed.Format),
		attribute.Int("import.records", len(parsed.Records)),
		attribute.Int("import.errors", len(parsed.Errors)),
	)

	result := &UploadResult{
		ImportedCount: len(parsed.Records),
		Errors:        parsed.Errors,
		Format:        parsed.Format,
		Fingerprint:   parsed.Fingerprint,
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}

	if len(parsed.Records) == 0 {
		observability.RecordUpload(parsed.Format, 0, 0, 0, len(parsed.Errors))
		l.InfoContext(ctx, "Upload produced no records", slog.Int("errors", len(parsed.Errors)))
		return result, nil
	}

	records := make([]repository.ParsedTransaction, len(parsed.Records))
	for i, rec := range parsed.Records {
		records[i] = *rec
	}

	sum := sha256.Sum256(data)
	batch := &repository.ImportBatch{
		ID:             uuid.New(),
		TenantID:       tenantID,
		FileName:       fileName,
		FileType:       parsed.Format,
		SizeBytes:      int64(len(data)),
		ChecksumSHA256: hex.EncodeToString(sum[:]),
		Status:         repository.BatchPending,
		ErrorCount:     len(parsed.Errors),
	}
	if parsed.Fingerprint != "" {
		fp := parsed.Fingerprint
		batch.Fingerprint = &fp
	}

	var counts classifier.Counts
	err = s.repo.WithTenantLock(ctx, tenantID, func(store repository.ReviewStore) error {
		candidates, err := store.FindCandidates(ctx, tenantID, classifier.CandidateQueryFor(records))
		if err != nil {
			return err
		}

		var verdicts []classifier.Classification
		verdicts, counts = classifier.New(candidates).ClassifyAll(records)

		batch.ImportedCount = counts.Imported
		batch.NewCount = counts.New
		batch.ExactDuplicateCount = counts.Exact
		batch.PotentialDuplicateCount = counts.Potential
		if err := store.CreateBatch(ctx, batch); err != nil {
			return err
		}

		_, err = store.InsertStaged(ctx, s.stage(tenantID, batch.ID, records, verdicts))
		return err
	})
	if err != nil {
		fail(span, err)
		l.ErrorContext(ctx, "Failed to stage upload", slog.Any("error", err))
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	result.NewCount = counts.New
	result.ExactDuplicateCount = counts.Exact
	result.PotentialDuplicateCount = counts.Potential
	result.BatchID = &batch.ID

	observability.RecordUpload(parsed.Format, counts.New, counts.Exact, counts.Potential, len(parsed.Errors))
	l.InfoContext(ctx, "Upload staged",
		slog.String("batchID", batch.ID.String()),
		slog.String("format", parsed.Format),
		slog.Int("imported", counts.Imported),
		slog.Int("new", counts.New),
		slog.Int("exact", counts.Exact),
		slog.Int("potential", counts.Potential),
		slog.Int("errors", len(parsed.Errors)))
	return result, nil
}

func (s *ImportService) stage(tenantID, batchID uuid.UUID, records []repository.ParsedTransaction, verdicts []classifier.Classification) []*repository.StagedRecord {
	now := s.now().UTC()
	staged := make([]*repository.StagedRecord, len(records))
	for i, rec := range records {
		v := verdicts[i]
		sr := &repository.StagedRecord{
			Key:             uuid.New(),
			TenantID:        tenantID,
			BatchID:         batchID,
			Date:            rec.Date,
			AmountMinor:     rec.AmountMinor,
			Payee:           rec.Payee,
			Memo:            rec.Memo,
			Category:        rec.Category,
			Source:          rec.Source,
			ExternalID:      rec.ExternalID,
			DuplicateStatus: v.Status,
			IsSelected:      v.Status == repository.StatusNew,
			CreatedAt:       now,
		}
		if v.DuplicateOf != nil {
			key, origin := v.DuplicateOf.Key, v.DuplicateOf.Origin
			sr.DuplicateOfKey = &key
			sr.DuplicateOfOrigin = &origin
		}
		staged[i] = sr
	}
	return staged
}

// ListStaged returns one page of the tenant's review queue.
func (s *ImportService) ListStaged(ctx context.Context, tenantID uuid.UUID, q common.PageQuery) (*common.Page[*repository.StagedRecord], error) {
	l := s.logger.With(slog.String("method", "ListStaged"), slog.String("tenantID", tenantID.String()))

	q = q.Normalize()
	items, total, err := s.repo.ListStaged(ctx, tenantID, q)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list staged records", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list staged records: %w", err)
	}
	if items == nil {
		items = []*repository.StagedRecord{}
	}
	return &common.Page[*repository.StagedRecord]{Items: items, Metadata: common.NewPageMetadata(q, total)}, nil
}

// SetSelected updates the advisory selection flag of one staged record.
func (s *ImportService) SetSelected(ctx context.Context, tenantID, key uuid.UUID, selected bool) error {
	l := s.logger.With(slog.String("method", "SetSelected"), slog.String("tenantID", tenantID.String()))

	if err := s.repo.SetSelected(ctx, tenantID, key, selected); err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			l.ErrorContext(ctx, "Failed to update selection", slog.Any("error", err))
		}
		return err
	}
	return nil
}

// Complete moves the selected staged records into the ledger and clears the
// tenant's review queue. Keys not currently staged are ignored.
func (s *ImportService) Complete(ctx context.Context, tenantID uuid.UUID, keys []uuid.UUID) (*CompletionResult, error) {
	ctx, span := s.span(ctx, "Complete", tenantID)
	defer span.End()
	l := s.logger.With(slog.String("method", "Complete"), slog.String("tenantID", tenantID.String()))

	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one key is required: %w", common.ErrInvalidInput)
	}
	unique := dedupe(keys)
	span.SetAttributes(attribute.Int("import.selected", len(unique)))

	var res repository.CompletionResult
	err := s.repo.WithTenantLock(ctx, tenantID, func(store repository.ReviewStore) error {
		var err error
		res, err = store.CompleteReview(ctx, tenantID, unique)
		return err
	})
	if err != nil {
		fail(span, err)
		l.ErrorContext(ctx, "Failed to complete review", slog.Any("error", err))
		return nil, fmt.Errorf("failed to complete review: %w", err)
	}

	observability.RecordReview(res.Accepted, res.Rejected)
	l.InfoContext(ctx, "Review completed", slog.Int("accepted", res.Accepted), slog.Int("rejected", res.Rejected))
	return &CompletionResult{AcceptedCount: res.Accepted, RejectedCount: res.Rejected}, nil
}

// DiscardAll removes every staged record of the tenant. It is idempotent.
func (s *ImportService) DiscardAll(ctx context.Context, tenantID uuid.UUID) error {
	ctx, span := s.span(ctx, "DiscardAll", tenantID)
	defer span.End()
	l := s.logger.With(slog.String("method", "DiscardAll"), slog.String("tenantID", tenantID.String()))

	var discarded int
	err := s.repo.WithTenantLock(ctx, tenantID, func(store repository.ReviewStore) error {
		var err error
		discarded, err = store.DiscardAll(ctx, tenantID)
		return err
	})
	if err != nil {
		fail(span, err)
		l.ErrorContext(ctx, "Failed to discard review queue", slog.Any("error", err))
		return fmt.Errorf("failed to discard review queue: %w", err)
	}

	observability.RecordReview(0, discarded)
	l.InfoContext(ctx, "Review queue discarded", slog.Int("discarded", discarded))
	return nil
}

// SaveMapping stores a tenant's column mapping for a CSV fingerprint,
// replacing any earlier one.
func (s *ImportService) SaveMapping(ctx context.Context, tenantID uuid.UUID, req MappingRequest) error {
	l := s.logger.With(slog.String("method", "SaveMapping"), slog.String("tenantID", tenantID.String()))

	m, err := req.toBankMapping(tenantID)
	if err != nil {
		return err
	}
	if err := s.repo.SaveMapping(ctx, m); err != nil {
		l.ErrorContext(ctx, "Failed to save mapping", slog.Any("error", err))
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	l.InfoContext(ctx, "Mapping saved", slog.String("fingerprint", m.Fingerprint))
	return nil
}

func (req MappingRequest) toBankMapping(tenantID uuid.UUID) (*repository.BankMapping, error) {
	if req.Fingerprint == "" {
		return nil, fmt.Errorf("fingerprint is required: %w", common.ErrInvalidInput)
	}
	if req.Delimiter == "" {
		req.Delimiter = ","
	}
	if utf8.RuneCountInString(req.Delimiter) != 1 {
		return nil, fmt.Errorf("delimiter must be a single character: %w", common.ErrInvalidInput)
	}
	if req.SkipLines < 0 {
		return nil, fmt.Errorf("skipLines must not be negative: %w", common.ErrInvalidInput)
	}

	m := &repository.BankMapping{
		TenantID:         &tenantID,
		Fingerprint:      req.Fingerprint,
		Delimiter:        req.Delimiter,
		SkipLines:        req.SkipLines,
		DateFormat:       req.DateFormat,
		DateCol:          req.DateCol,
		PayeeCol:         req.PayeeCol,
		MemoCol:          req.MemoCol,
		CategoryCol:      req.CategoryCol,
		AmountCol:        req.AmountCol,
		DebitCol:         req.DebitCol,
		CreditCol:        req.CreditCol,
		ReferenceCol:     req.ReferenceCol,
		IsEuropeanFormat: req.IsEuropeanFormat,
	}
	if req.BankName != "" {
		name := req.BankName
		m.BankName = &name
	}
	if err := parser.MappingFromBank(m).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}
	return m, nil
}

// ListBatches returns the tenant's most recent uploads.
func (s *ImportService) ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*repository.ImportBatch, error) {
	l := s.logger.With(slog.String("method", "ListBatches"), slog.String("tenantID", tenantID.String()))

	if limit <= 0 || limit > common.MaxPageSize {
		limit = common.DefaultBatchListLimit
	}
	batches, err := s.repo.ListBatches(ctx, tenantID, limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list batches", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	if batches == nil {
		batches = []*repository.ImportBatch{}
	}
	return batches, nil
}

func dedupe(keys []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(keys))
	out := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
