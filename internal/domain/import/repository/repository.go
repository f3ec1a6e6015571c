// Package repository provides data access for import-related entities.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
)

// DuplicateStatus is the classifier's verdict for a staged record.
type DuplicateStatus string

const (
	StatusNew                DuplicateStatus = "new"
	StatusExactDuplicate     DuplicateStatus = "exact_duplicate"
	StatusPotentialDuplicate DuplicateStatus = "potential_duplicate"
)

// Origin says which table a duplicate reference points into.
type Origin string

const (
	OriginLedger Origin = "ledger"
	OriginReview Origin = "review"
)

// SyntheticIDPrefix marks external ids derived from row content rather than
// assigned by the bank.
const SyntheticIDPrefix = "row:"

// IsSyntheticID reports whether id was derived from row content.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, SyntheticIDPrefix)
}

// Batch statuses.
const (
	BatchPending   = "pending"
	BatchCompleted = "completed"
	BatchDiscarded = "discarded"
)

// BankMapping represents a learned CSV/TSV format configuration
type BankMapping struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	TenantID         *uuid.UUID `db:"tenant_id" json:"tenantId,omitempty"` // NULL = global template
	Fingerprint      string     `db:"fingerprint" json:"fingerprint"`
	BankName         *string    `db:"bank_name" json:"bankName,omitempty"`
	Delimiter        string     `db:"delimiter" json:"delimiter"`
	SkipLines        int        `db:"skip_lines" json:"skipLines"`
	DateFormat       string     `db:"date_format" json:"dateFormat"`
	DateCol          int        `db:"date_col" json:"dateCol"`
	PayeeCol         int        `db:"payee_col" json:"payeeCol"`
	MemoCol          *int       `db:"memo_col" json:"memoCol,omitempty"`
	CategoryCol      *int       `db:"category_col" json:"categoryCol,omitempty"`
	AmountCol        *int       `db:"amount_col" json:"amountCol,omitempty"`
	DebitCol         *int       `db:"debit_col" json:"debitCol,omitempty"`
	CreditCol        *int       `db:"credit_col" json:"creditCol,omitempty"`
	ReferenceCol     *int       `db:"reference_col" json:"referenceCol,omitempty"`
	IsEuropeanFormat bool       `db:"is_european_format" json:"isEuropeanFormat"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// ImportBatch records one upload that produced staged records.
type ImportBatch struct {
	ID                      uuid.UUID  `db:"id" json:"id"`
	TenantID                uuid.UUID  `db:"tenant_id" json:"tenantId"`
	FileName                string     `db:"file_name" json:"fileName"`
	FileType                string     `db:"file_type" json:"fileType"`
	SizeBytes               int64      `db:"size_bytes" json:"sizeBytes"`
	ChecksumSHA256          string     `db:"checksum_sha256" json:"checksumSha256"`
	Fingerprint             *string    `db:"fingerprint" json:"fingerprint,omitempty"`
	Status                  string     `db:"status" json:"status"`
	ImportedCount           int        `db:"imported_count" json:"importedCount"`
	NewCount                int        `db:"new_count" json:"newCount"`
	ExactDuplicateCount     int        `db:"exact_duplicate_count" json:"exactDuplicateCount"`
	PotentialDuplicateCount int        `db:"potential_duplicate_count" json:"potentialDuplicateCount"`
	ErrorCount              int        `db:"error_count" json:"errorCount"`
	CreatedAt               time.Time  `db:"created_at" json:"createdAt"`
	FinishedAt              *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
}

// ParsedTransaction represents a transaction extracted from a file
type ParsedTransaction struct {
	Line        int // 1-based source line or row, 0 when the format has none
	Date        time.Time
	Payee       string
	Memo        string
	Category    string
	AmountMinor int64 // Signed: negative for expenses, positive for income
	ExternalID  string
	Source      string
}

// StagedRecord is a parsed transaction awaiting review.
type StagedRecord struct {
	Key               uuid.UUID       `db:"id" json:"key"`
	TenantID          uuid.UUID       `db:"tenant_id" json:"-"`
	BatchID           uuid.UUID       `db:"batch_id" json:"batchId"`
	Date              time.Time       `db:"posted_at" json:"date"`
	AmountMinor       int64           `db:"amount_minor" json:"amountMinor"`
	Payee             string          `db:"payee" json:"payee"`
	Memo              string          `db:"memo" json:"memo"`
	Category          string          `db:"category" json:"category,omitempty"`
	Source            string          `db:"source" json:"source"`
	ExternalID        string          `db:"external_id" json:"externalId,omitempty"`
	DuplicateStatus   DuplicateStatus `db:"duplicate_status" json:"duplicateStatus"`
	DuplicateOfKey    *uuid.UUID      `db:"duplicate_of_key" json:"duplicateOfKey,omitempty"`
	DuplicateOfOrigin *Origin         `db:"duplicate_of_origin" json:"duplicateOfOrigin,omitempty"`
	IsSelected        bool            `db:"is_selected" json:"isSelected"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// LedgerRecord is a committed transaction.
type LedgerRecord struct {
	Key           uuid.UUID  `db:"id" json:"key"`
	TenantID      uuid.UUID  `db:"tenant_id" json:"-"`
	Date          time.Time  `db:"posted_at" json:"date"`
	AmountMinor   int64      `db:"amount_minor" json:"amountMinor"`
	Payee         string     `db:"payee" json:"payee"`
	Memo          string     `db:"memo" json:"memo"`
	Category      string     `db:"category" json:"category,omitempty"`
	Source        string     `db:"source" json:"source"`
	ExternalID    string     `db:"external_id" json:"externalId,omitempty"`
	ImportBatchID *uuid.UUID `db:"import_batch_id" json:"importBatchId,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Candidate is an existing row the classifier may match against, from
// either the ledger or the pending review queue.
type Candidate struct {
	Key         uuid.UUID `db:"id"`
	Origin      Origin    `db:"origin"`
	Date        time.Time `db:"posted_at"`
	AmountMinor int64     `db:"amount_minor"`
	Payee       string    `db:"payee"`
	ExternalID  string    `db:"external_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// CandidateQuery selects rows sharing an external id with the batch, or lying
// in the batch's date range with one of its amounts.
type CandidateQuery struct {
	ExternalIDs []string
	From        time.Time
	To          time.Time
	Amounts     []int64
}

// CompletionResult reports what a completion did to the review queue.
type CompletionResult struct {
	Accepted int
	Rejected int
}

// MappingStore reads and writes saved CSV mappings.
type MappingStore interface {
	GetMappingByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (*BankMapping, error)
	SaveMapping(ctx context.Context, mapping *BankMapping) error
}

// ReviewStore holds the operations that must run under the tenant lock.
type ReviewStore interface {
	MappingStore

	FindCandidates(ctx context.Context, tenantID uuid.UUID, q CandidateQuery) ([]Candidate, error)
	CreateBatch(ctx context.Context, batch *ImportBatch) error
	InsertStaged(ctx context.Context, records []*StagedRecord) (int, error)
	CompleteReview(ctx context.Context, tenantID uuid.UUID, keys []uuid.UUID) (CompletionResult, error)
	DiscardAll(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// ImportRepository defines data access operations for imports
type ImportRepository interface {
	ReviewStore

	// WithTenantLock runs fn in one transaction holding the tenant's advisory
	// lock. fn's error rolls the transaction back.
	WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(ReviewStore) error) error

	ListStaged(ctx context.Context, tenantID uuid.UUID, q common.PageQuery) ([]*StagedRecord, int64, error)
	SetSelected(ctx context.Context, tenantID, key uuid.UUID, selected bool) error
	ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*ImportBatch, error)
}
