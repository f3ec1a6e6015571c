// Package importtest provides an in-memory import repository for tests.
package importtest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
)

var _ repository.ImportRepository = (*Store)(nil)

var sortFields = map[string]string{
	"date":    "date",
	"amount":  "amount",
	"payee":   "payee",
	"status":  "status",
	"created": "created",
}

type mappingKey struct {
	tenant      uuid.UUID
	fingerprint string
}

// Store keeps ledger, review queue, batches and mappings in memory. Methods
// are safe for concurrent use; WithTenantLock serialises all tenants and
// restores the previous state when fn fails.
type Store struct {
	lock sync.Mutex
	mu   sync.Mutex

	staged   []*repository.StagedRecord
	ledger   []*repository.LedgerRecord
	batches  []*repository.ImportBatch
	mappings map[mappingKey]*repository.BankMapping

	clock time.Time

	// FindCandidatesErr makes FindCandidates fail when set.
	FindCandidatesErr error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		mappings: make(map[mappingKey]*repository.BankMapping),
		clock:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp. Callers hold mu.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

// SeedLedger appends committed transactions for a tenant. Zero keys and
// creation times are filled in.
func (s *Store) SeedLedger(tenantID uuid.UUID, records ...repository.LedgerRecord) []repository.LedgerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]repository.LedgerRecord, len(records))
	for i, rec := range records {
		rec.TenantID = tenantID
		if rec.Key == uuid.Nil {
			rec.Key = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.tick()
		}
		rec.Date = normalizer.Day(rec.Date)
		stored := rec
		s.ledger = append(s.ledger, &stored)
		out[i] = rec
	}
	return out
}

// Staged returns copies of the tenant's staged records in insertion order.
func (s *Store) Staged(tenantID uuid.UUID) []repository.StagedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.StagedRecord
	for _, rec := range s.staged {
		if rec.TenantID == tenantID {
			out = append(out, *rec)
		}
	}
	return out
}

// Ledger returns copies of the tenant's ledger rows in insertion order.
func (s *Store) Ledger(tenantID uuid.UUID) []repository.LedgerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.LedgerRecord
	for _, rec := range s.ledger {
		if rec.TenantID == tenantID {
			out = append(out, *rec)
		}
	}
	return out
}

func (s *Store) WithTenantLock(ctx context.Context, _ uuid.UUID, fn func(repository.ReviewStore) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	staged   []*repository.StagedRecord
	ledger   []*repository.LedgerRecord
	batches  []*repository.ImportBatch
	mappings map[mappingKey]*repository.BankMapping
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{mappings: make(map[mappingKey]*repository.BankMapping, len(s.mappings))}
	for _, r := range s.staged {
		c := *r
		snap.staged = append(snap.staged, &c)
	}
	for _, r := range s.ledger {
		c := *r
		snap.ledger = append(snap.ledger, &c)
	}
	for _, b := range s.batches {
		c := *b
		snap.batches = append(snap.batches, &c)
	}
	for k, m := range s.mappings {
		c := *m
		snap.mappings[k] = &c
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged, s.ledger, s.batches, s.mappings = snap.staged, snap.ledger, snap.batches, snap.mappings
}

func (s *Store) GetMappingByFingerprint(_ context.Context, tenantID uuid.UUID, fingerprint string) (*repository.BankMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mappings[mappingKey{tenant: tenantID, fingerprint: fingerprint}]; ok {
		c := *m
		return &c, nil
	}
	if m, ok := s.mappings[mappingKey{fingerprint: fingerprint}]; ok {
		c := *m
		return &c, nil
	}
	return nil, nil
}

func (s *Store) SaveMapping(_ context.Context, m *repository.BankMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := mappingKey{fingerprint: m.Fingerprint}
	if m.TenantID != nil {
		k.tenant = *m.TenantID
	}
	now := s.tick()
	if prev, ok := s.mappings[k]; ok {
		m.ID, m.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	c := *m
	s.mappings[k] = &c
	return nil
}

func (s *Store) FindCandidates(_ context.Context, tenantID uuid.UUID, q repository.CandidateQuery) ([]repository.Candidate, error) {
	if s.FindCandidatesErr != nil {
		return nil, s.FindCandidatesErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]bool, len(q.ExternalIDs))
	for _, id := range q.ExternalIDs {
		ids[id] = true
	}
	amounts := make(map[int64]bool, len(q.Amounts))
	for _, a := range q.Amounts {
		amounts[a] = true
	}
	match := func(extID string, date time.Time, amount int64) bool {
		if extID != "" && ids[extID] {
			return true
		}
		return amounts[amount] && !date.Before(q.From) && !date.After(q.To)
	}

	var out []repository.Candidate
	for _, r := range s.ledger {
		if r.TenantID == tenantID && match(r.ExternalID, r.Date, r.AmountMinor) {
			out = append(out, repository.Candidate{
				Key: r.Key, Origin: repository.OriginLedger, Date: r.Date, AmountMinor: r.AmountMinor,
				Payee: r.Payee, ExternalID: r.ExternalID, CreatedAt: r.CreatedAt,
			})
		}
	}
	for _, r := range s.staged {
		if r.TenantID == tenantID && match(r.ExternalID, r.Date, r.AmountMinor) {
			out = append(out, repository.Candidate{
				Key: r.Key, Origin: repository.OriginReview, Date: r.Date, AmountMinor: r.AmountMinor,
				Payee: r.Payee, ExternalID: r.ExternalID, CreatedAt: r.CreatedAt,
			})
		}
	}
	return out, nil
}

func (s *Store) CreateBatch(_ context.Context, b *repository.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = s.tick()
	c := *b
	s.batches = append(s.batches, &c)
	return nil
}

func (s *Store) InsertStaged(_ context.Context, records []*repository.StagedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec.DuplicateStatus == repository.StatusNew && rec.DuplicateOfKey != nil {
			return 0, fmt.Errorf("staged record %s: new record with duplicate reference", rec.Key)
		}
		if rec.DuplicateStatus != repository.StatusNew && rec.DuplicateOfKey == nil {
			return 0, fmt.Errorf("staged record %s: duplicate without reference", rec.Key)
		}
		if rec.Key == uuid.Nil {
			rec.Key = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.tick()
		}
		c := *rec
		s.staged = append(s.staged, &c)
	}
	return len(records), nil
}

func (s *Store) CompleteReview(_ context.Context, tenantID uuid.UUID, keys []uuid.UUID) (repository.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := make(map[uuid.UUID]bool, len(keys))
	for _, k := range keys {
		selected[k] = true
	}

	var res repository.CompletionResult
	kept := s.staged[:0]
	for _, r := range s.staged {
		if r.TenantID != tenantID {
			kept = append(kept, r)
			continue
		}
		if selected[r.Key] {
			batchID := r.BatchID
			s.ledger = append(s.ledger, &repository.LedgerRecord{
				Key: uuid.New(), TenantID: tenantID, Date: r.Date, AmountMinor: r.AmountMinor,
				Payee: r.Payee, Memo: r.Memo, Category: r.Category, Source: r.Source,
				ExternalID: r.ExternalID, ImportBatchID: &batchID, CreatedAt: s.tick(),
			})
			res.Accepted++
		} else {
			res.Rejected++
		}
	}
	s.staged = kept
	s.closeBatches(tenantID, repository.BatchCompleted)
	return res, nil
}

func (s *Store) DiscardAll(_ context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.staged[:0]
	for _, r := range s.staged {
		if r.TenantID == tenantID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.staged = kept
	s.closeBatches(tenantID, repository.BatchDiscarded)
	return removed, nil
}

func (s *Store) closeBatches(tenantID uuid.UUID, status string) {
	for _, b := range s.batches {
		if b.TenantID == tenantID && b.Status == repository.BatchPending {
			finished := s.tick()
			b.Status = status
			b.FinishedAt = &finished
		}
	}
}

func (s *Store) ListStaged(_ context.Context, tenantID uuid.UUID, q common.PageQuery) ([]*repository.StagedRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q = q.Normalize()
	var rows []*repository.StagedRecord
	for _, r := range s.staged {
		if r.TenantID == tenantID && matches(q.SearchText, r.Payee, r.Memo, r.Category) {
			c := *r
			rows = append(rows, &c)
		}
	}

	field, desc := q.SortKey(sortFields, "date")
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := compareFields(field, a.Date, b.Date, a.AmountMinor, b.AmountMinor, a.Payee, b.Payee,
			string(a.DuplicateStatus), string(b.DuplicateStatus), a.CreatedAt, b.CreatedAt); c != 0 {
			return (c < 0) != desc
		}
		return bytes.Compare(a.Key[:], b.Key[:]) < 0
	})
	return page(rows, q), int64(len(rows)), nil
}

// ListLedger pages the tenant's committed transactions with the same rules as
// the review queue.
func (s *Store) ListLedger(_ context.Context, tenantID uuid.UUID, q common.PageQuery) ([]*repository.LedgerRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q = q.Normalize()
	var rows []*repository.LedgerRecord
	for _, r := range s.ledger {
		if r.TenantID == tenantID && matches(q.SearchText, r.Payee, r.Memo, r.Category) {
			c := *r
			rows = append(rows, &c)
		}
	}

	field, desc := q.SortKey(sortFields, "date")
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := compareFields(field, a.Date, b.Date, a.AmountMinor, b.AmountMinor, a.Payee, b.Payee,
			"", "", a.CreatedAt, b.CreatedAt); c != 0 {
			return (c < 0) != desc
		}
		return bytes.Compare(a.Key[:], b.Key[:]) < 0
	})
	return page(rows, q), int64(len(rows)), nil
}

func (s *Store) SetSelected(_ context.Context, tenantID, key uuid.UUID, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.staged {
		if r.TenantID == tenantID && r.Key == key {
			r.IsSelected = selected
			return nil
		}
	}
	return fmt.Errorf("staged record %s: %w", key, common.ErrNotFound)
}

func (s *Store) ListBatches(_ context.Context, tenantID uuid.UUID, limit int) ([]*repository.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.ImportBatch
	for i := len(s.batches) - 1; i >= 0 && len(out) < limit; i-- {
		if b := s.batches[i]; b.TenantID == tenantID {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

func matches(text string, fields ...string) bool {
	if text == "" {
		return true
	}
	text = strings.ToLower(text)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), text) {
			return true
		}
	}
	return false
}

func compareFields(field string, da, db time.Time, aa, ab int64, pa, pb, sa, sb string, ca, cb time.Time) int {
	switch field {
	case "amount":
		return cmpInt(aa, ab)
	case "payee":
		return strings.Compare(pa, pb)
	case "status":
		return strings.Compare(sa, sb)
	case "created":
		return ca.Compare(cb)
	default:
		return da.Compare(db)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func page[T any](rows []T, q common.PageQuery) []T {
	start := q.Offset()
	if start >= len(rows) {
		return []T{}
	}
	end := start + q.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
