// Package repository reads committed ledger transactions.
package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	importrepo "github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
)

// LedgerRepository lists a tenant's committed transactions. It never reads
// the review queue.
type LedgerRepository interface {
	ListLedger(ctx context.Context, tenantID uuid.UUID, q common.PageQuery) ([]*importrepo.LedgerRecord, int64, error)
}

// LedgerSortColumns maps public sort fields onto ledger columns.
var LedgerSortColumns = map[string]string{
	"date":    "posted_at",
	"amount":  "amount_minor",
	"payee":   "payee",
	"created": "created_at",
}

const (
	ledgerColumns = `id, tenant_id, posted_at, amount_minor, payee, memo, category, source,
		       external_id, import_batch_id, created_at`

	ledgerFilter = `
		FROM transactions
		WHERE tenant_id = $1
		  AND ($2 = '' OR payee ILIKE $3 OR memo ILIKE $3 OR category ILIKE $3)`

	countLedgerQuery = `SELECT COUNT(*)` + ledgerFilter
)

var ledgerColumnNames = []string{
	"id", "tenant_id", "posted_at", "amount_minor", "payee", "memo", "category", "source",
	"external_id", "import_batch_id", "created_at",
}

// PostgresLedgerRepository implements LedgerRepository on the transactions table.
type PostgresLedgerRepository struct {
	db     importrepo.Querier
	tracer trace.Tracer
}

var _ LedgerRepository = (*PostgresLedgerRepository)(nil)

func NewPostgresLedgerRepository(db importrepo.Querier) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db, tracer: otel.Tracer("LedgerRepo")}
}

// ListLedgerQuery renders the page query for q.
func ListLedgerQuery(q common.PageQuery) string {
	return `SELECT ` + ledgerColumns + ledgerFilter + `
		ORDER BY ` + importrepo.OrderBy(q, LedgerSortColumns) + `
		LIMIT $4 OFFSET $5`
}

func (r *PostgresLedgerRepository) ListLedger(ctx context.Context, tenantID uuid.UUID, q common.PageQuery) ([]*importrepo.LedgerRecord, int64, error) {
	ctx, span := r.tracer.Start(ctx, "ListLedger", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "transactions"),
		attribute.String("tenant.id", tenantID.String()),
	))
	defer span.End()

	q = q.Normalize()
	pattern := importrepo.SearchPattern(q.SearchText)

	var total int64
	if err := r.db.QueryRow(ctx, countLedgerQuery, tenantID, q.SearchText, pattern).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := r.db.Query(ctx, ListLedgerQuery(q), tenantID, q.SearchText, pattern, q.PageSize, q.Offset())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[importrepo.LedgerRecord])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, 0, fmt.Errorf("failed to scan transactions: %w", err)
	}
	span.SetAttributes(attribute.Int("rows", len(records)))
	return records, total, nil
}
