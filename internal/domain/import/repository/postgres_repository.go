package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
)

// Querier is the statement surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

const (
	tenantLockQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

	getMappingQuery = `
		SELECT id, tenant_id, fingerprint, bank_name, delimiter, skip_lines, date_format,
		       date_col, payee_col, memo_col, category_col, amount_col, debit_col, credit_col,
		       reference_col, is_european_format, created_at, updated_at
		FROM bank_mappings
		WHERE fingerprint = $1 AND (tenant_id = $2 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1`

	saveMappingQuery = `
		INSERT INTO bank_mappings (
			id, tenant_id, fingerprint, bank_name, delimiter, skip_lines, date_format,
			date_col, payee_col, memo_col, category_col, amount_col, debit_col, credit_col,
			reference_col, is_european_format
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, fingerprint) DO UPDATE SET
			bank_name = EXCLUDED.bank_name, delimiter = EXCLUDED.delimiter,
			skip_lines = EXCLUDED.skip_lines, date_format = EXCLUDED.date_format,
			date_col = EXCLUDED.date_col, payee_col = EXCLUDED.payee_col,
			memo_col = EXCLUDED.memo_col, category_col = EXCLUDED.category_col,
			amount_col = EXCLUDED.amount_col, debit_col = EXCLUDED.debit_col,
			credit_col = EXCLUDED.credit_col, reference_col = EXCLUDED.reference_col,
			is_european_format = EXCLUDED.is_european_format, updated_at = NOW()`

	findCandidatesQuery = `
		SELECT id, 'ledger' AS origin, posted_at, amount_minor, payee, external_id, created_at
		FROM transactions
		WHERE tenant_id = $1
		  AND (external_id = ANY($2) OR (posted_at BETWEEN $3 AND $4 AND amount_minor = ANY($5)))
		UNION ALL
		SELECT id, 'review' AS origin, posted_at, amount_minor, payee, external_id, created_at
		FROM import_review_items
		WHERE tenant_id = $1
		  AND (external_id = ANY($2) OR (posted_at BETWEEN $3 AND $4 AND amount_minor = ANY($5)))`

	createBatchQuery = `
		INSERT INTO import_batches (
			id, tenant_id, file_name, file_type, size_bytes, checksum_sha256, fingerprint, status,
			imported_count, new_count, exact_duplicate_count, potential_duplicate_count, error_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`

	acceptStagedQuery = `
		INSERT INTO transactions (
			id, tenant_id, posted_at, amount_minor, payee, memo, category, source, external_id, import_batch_id
		)
		SELECT gen_random_uuid(), tenant_id, posted_at, amount_minor, payee, memo, category, source, external_id, batch_id
		FROM import_review_items
		WHERE tenant_id = $1 AND id = ANY($2)
		ORDER BY created_at, id`

	deleteStagedQuery = `DELETE FROM import_review_items WHERE tenant_id = $1`

	closeBatchesQuery = `
		UPDATE import_batches SET status = $2, finished_at = NOW()
		WHERE tenant_id = $1 AND status = 'pending'`

	setSelectedQuery = `UPDATE import_review_items SET is_selected = $3 WHERE tenant_id = $1 AND id = $2`

	stagedColumns = `id, tenant_id, batch_id, posted_at, amount_minor, payee, memo, category, source,
		       external_id, duplicate_status, duplicate_of_key, duplicate_of_origin, is_selected, created_at`

	stagedFilter = `
		FROM import_review_items
		WHERE tenant_id = $1
		  AND ($2 = '' OR payee ILIKE $3 OR memo ILIKE $3 OR category ILIKE $3)`

	countStagedQuery = `SELECT COUNT(*)` + stagedFilter

	listBatchesQuery = `
		SELECT id, tenant_id, file_name, file_type, size_bytes, checksum_sha256, fingerprint, status,
		       imported_count, new_count, exact_duplicate_count, potential_duplicate_count, error_count,
		       created_at, finished_at
		FROM import_batches
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`
)

var stagedColumnNames = []string{
	"id", "tenant_id", "batch_id", "posted_at", "amount_minor", "payee", "memo", "category", "source",
	"external_id", "duplicate_status", "duplicate_of_key", "duplicate_of_origin", "is_selected", "created_at",
}

// StagedSortColumns maps public sort fields onto review queue columns.
var StagedSortColumns = map[string]string{
	"date":    "posted_at",
	"amount":  "amount_minor",
	"payee":   "payee",
	"status":  "duplicate_status",
	"created": "created_at",
}

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool   PgxPool
	db     Querier
	tracer trace.Tracer
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pool PgxPool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool, db: pool, tracer: otel.Tracer("ImportRepo")}
}

func (r *PostgresImportRepository) span(ctx context.Context, name, table string, tenantID uuid.UUID) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", table),
		attribute.String("tenant.id", tenantID.String()),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// WithTenantLock runs fn inside a transaction serialised per tenant.
func (r *PostgresImportRepository) WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(ReviewStore) error) error {
	ctx, span := r.span(ctx, "WithTenantLock", "", tenantID)
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("database error beginning transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, tenantLockQuery, tenantID.String()); err != nil {
		fail(span, err)
		return errors.Join(fmt.Errorf("failed to acquire tenant lock: %w", err), tx.Rollback(ctx))
	}

	if err := fn(&PostgresImportRepository{pool: r.pool, db: tx, tracer: r.tracer}); err != nil {
		fail(span, err)
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		fail(span, err)
		return fmt.Errorf("database error committing transaction: %w", err)
	}
	return nil
}

// GetMappingByFingerprint looks up a bank mapping by its fingerprint
// First checks tenant-specific mappings, then falls back to global templates
func (r *PostgresImportRepository) GetMappingByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*BankMapping, error) {
	rows, err := r.db.Query(ctx, getMappingQuery, fingerprint, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping by fingerprint: %w", err)
	}

	mapping, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[BankMapping])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping by fingerprint: %w", err)
	}
	return mapping, nil
}

// SaveMapping inserts or replaces the mapping for (tenant, fingerprint).
func (r *PostgresImportRepository) SaveMapping(ctx context.Context, m *BankMapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	_, err := r.db.Exec(ctx, saveMappingQuery,
		m.ID, m.TenantID, m.Fingerprint, m.BankName, m.Delimiter, m.SkipLines, m.DateFormat,
		m.DateCol, m.PayeeCol, m.MemoCol, m.CategoryCol, m.AmountCol, m.DebitCol, m.CreditCol,
		m.ReferenceCol, m.IsEuropeanFormat,
	)
	if err != nil {
		return fmt.Errorf("failed to save bank mapping: %w", err)
	}
	return nil
}

// FindCandidates loads ledger and review rows the classifier may match.
func (r *PostgresImportRepository) FindCandidates(ctx context.Context, tenantID uuid.UUID, q CandidateQuery) ([]Candidate, error) {
	ctx, span := r.span(ctx, "FindCandidates", "transactions", tenantID)
	defer span.End()

	externalIDs := q.ExternalIDs
	if externalIDs == nil {
		externalIDs = []string{}
	}
	amounts := q.Amounts
	if amounts == nil {
		amounts = []int64{}
	}

	rows, err := r.db.Query(ctx, findCandidatesQuery, tenantID, externalIDs, q.From, q.To, amounts)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to load duplicate candidates: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, pgx.RowToStructByName[Candidate])
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("failed to scan duplicate candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	return candidates, nil
}

// CreateBatch inserts the audit row for an upload.
func (r *PostgresImportRepository) CreateBatch(ctx context.Context, b *ImportBatch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchPending
	}

	err := r.db.QueryRow(ctx, createBatchQuery,
		b.ID, b.TenantID, b.FileName, b.FileType, b.SizeBytes, b.ChecksumSHA256, b.Fingerprint, b.Status,
		b.ImportedCount, b.NewCount, b.ExactDuplicateCount, b.PotentialDuplicateCount, b.ErrorCount,
	).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

// InsertStaged bulk-copies records into the review queue.
func (r *PostgresImportRepository) InsertStaged(ctx context.Context, records []*StagedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ctx, span := r.span(ctx, "InsertStaged", "import_review_items", records[0].TenantID)
	defer span.End()

	now := time.Now().UTC()
	copyCount, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"import_review_items"},
		stagedColumnNames,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			if rec.Key == uuid.Nil {
				rec.Key = uuid.New()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
			var origin *string
			if rec.DuplicateOfOrigin != nil {
				o := string(*rec.DuplicateOfOrigin)
				origin = &o
			}
			return []any{
				rec.Key, rec.TenantID, rec.BatchID, rec.Date, rec.AmountMinor,
				rec.Payee, rec.Memo, rec.Category, rec.Source, rec.ExternalID,
				string(rec.DuplicateStatus), rec.DuplicateOfKey, origin, rec.IsSelected, rec.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("failed to stage records: %w", err)
	}
	return int(copyCount), nil
}

// CompleteReview moves the selected keys into the ledger and empties the
// tenant's review queue.
func (r *PostgresImportRepository) CompleteReview(ctx context.Context, tenantID uuid.UUID, keys []uuid.UUID) (CompletionResult, error) {
	ctx, span := r.span(ctx, "CompleteReview", "import_review_items", tenantID)
	defer span.End()

	accepted, err := r.db.Exec(ctx, acceptStagedQuery, tenantID, keys)
	if err != nil {
		fail(span, err)
		return CompletionResult{}, fmt.Errorf("failed to accept staged records: %w", err)
	}

	deleted, err := r.db.Exec(ctx, deleteStagedQuery, tenantID)
	if err != nil {
		fail(span, err)
		return CompletionResult{}, fmt.Errorf("failed to clear review queue: %w", err)
	}

	if _, err := r.db.Exec(ctx, closeBatchesQuery, tenantID, BatchCompleted); err != nil {
		fail(span, err)
		return CompletionResult{}, fmt.Errorf("failed to close import batches: %w", err)
	}

	res := CompletionResult{
		Accepted: int(accepted.RowsAffected()),
		Rejected: int(deleted.RowsAffected() - accepted.RowsAffected()),
	}
	span.SetAttributes(attribute.Int("accepted", res.Accepted), attribute.Int("rejected", res.Rejected))
	return res, nil
}

// DiscardAll empties the tenant's review queue.
func (r *PostgresImportRepository) DiscardAll(ctx context.Context, tenantID uuid.UUID) (int, error) {
	deleted, err := r.db.Exec(ctx, deleteStagedQuery, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear review queue: %w", err)
	}
	if _, err := r.db.Exec(ctx, closeBatchesQuery, tenantID, BatchDiscarded); err != nil {
		return 0, fmt.Errorf("failed to close import batches: %w", err)
	}
	return int(deleted.RowsAffected()), nil
}

// ListStaged returns one page of the tenant's review queue and the total
// number of matching rows.
func (r *PostgresImportRepository) ListStaged(ctx context.Context, tenantID uuid.UUID, q common.PageQuery) ([]*StagedRecord, int64, error) {
	ctx, span := r.span(ctx, "ListStaged", "import_review_items", tenantID)
	defer span.End()

	q = q.Normalize()
	pattern := SearchPattern(q.SearchText)

	var total int64
	if err := r.db.QueryRow(ctx, countStagedQuery, tenantID, q.SearchText, pattern).Scan(&total); err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("failed to count staged records: %w", err)
	}

	rows, err := r.db.Query(ctx, ListStagedQuery(q), tenantID, q.SearchText, pattern, q.PageSize, q.Offset())
	if err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("failed to list staged records: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[StagedRecord])
	if err != nil {
		fail(span, err)
		return nil, 0, fmt.Errorf("failed to scan staged records: %w", err)
	}
	return records, total, nil
}

// ListStagedQuery renders the page query for q. The ORDER BY column comes from
// StagedSortColumns only.
func ListStagedQuery(q common.PageQuery) string {
	return `SELECT ` + stagedColumns + stagedFilter + `
		ORDER BY ` + OrderBy(q, StagedSortColumns) + `
		LIMIT $4 OFFSET $5`
}

// OrderBy renders an ORDER BY list for q with id as the final tie-break.
func OrderBy(q common.PageQuery, columns map[string]string) string {
	col, desc := q.SortKey(columns, "date")
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return col + " " + dir + ", id ASC"
}

// SearchPattern turns free text into an ILIKE substring pattern.
func SearchPattern(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
	return "%" + escaped + "%"
}

// SetSelected toggles the advisory selection flag of one staged record.
func (r *PostgresImportRepository) SetSelected(ctx context.Context, tenantID, key uuid.UUID, selected bool) error {
	tag, err := r.db.Exec(ctx, setSelectedQuery, tenantID, key, selected)
	if err != nil {
		return fmt.Errorf("failed to update selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staged record %s: %w", key, common.ErrNotFound)
	}
	return nil
}

// ListBatches returns the tenant's most recent uploads.
func (r *PostgresImportRepository) ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*ImportBatch, error) {
	if limit < 1 || limit > common.MaxPageSize {
		limit = common.DefaultBatchListLimit
	}
	rows, err := r.db.Query(ctx, listBatchesQuery, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import batches: %w", err)
	}
	batches, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[ImportBatch])
	if err != nil {
		return nil, fmt.Errorf("failed to scan import batches: %w", err)
	}
	return batches, nil
}
