package classifier

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
)

var (
	jan10 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	jan12 = time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	jan20 = time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	t0    = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
)

func ledger(extID string, date time.Time, amount int64, payee string, created time.Time) repository.Candidate {
	return repository.Candidate{
		Key:         uuid.New(),
		Origin:      repository.OriginLedger,
		Date:        date,
		AmountMinor: amount,
		Payee:       payee,
		ExternalID:  extID,
		CreatedAt:   created,
	}
}

func record(extID string, date time.Time, amount int64, payee string) repository.ParsedTransaction {
	return repository.ParsedTransaction{Date: date, AmountMinor: amount, Payee: payee, ExternalID: extID}
}

func TestClassify_NoCandidatesIsNew(t *testing.T) {
	c := New(nil)
	got := c.Classify(record("FIT1", jan10, -1000, "Coffee"))
	assert.Equal(t, repository.StatusNew, got.Status)
	assert.Nil(t, got.DuplicateOf)
}

func TestClassify_ExactDuplicate(t *testing.T) {
	cand := ledger("FIT1", jan10, -1000, "Coffee", t0)
	c := New([]repository.Candidate{cand})

	got := c.Classify(record("FIT1", jan10.Add(15*time.Hour), -1000, "Coffee"))
	require.Equal(t, repository.StatusExactDuplicate, got.Status)
	require.NotNil(t, got.DuplicateOf)
	assert.Equal(t, cand.Key, got.DuplicateOf.Key)
}

func TestClassify_SameIDDifferentAmountIsPotential(t *testing.T) {
	far := ledger("FIT1", jan20, -1000, "Coffee", t0)
	near := ledger("FIT1", jan12, -999, "Coffee", t0.Add(time.Hour))
	c := New([]repository.Candidate{far, near})

	got := c.Classify(record("FIT1", jan10, -1000, "Coffee"))
	require.Equal(t, repository.StatusPotentialDuplicate, got.Status)
	assert.Equal(t, near.Key, got.DuplicateOf.Key)
}

func TestClassify_SharedExternalIDAndDate(t *testing.T) {
	// Two ledger rows with the same external id on the same day must not
	// break classification.
	first := ledger("FIT1", jan10, -1000, "Coffee", t0)
	second := ledger("FIT1", jan10, -1000, "Coffee", t0.Add(time.Minute))
	c := New([]repository.Candidate{second, first})

	results, counts := c.ClassifyAll([]repository.ParsedTransaction{
		record("FIT1", jan10, -1000, "Coffee"),
		record("FIT1", jan10, -2500, "Coffee"),
		record("FIT2", jan10, -300, "Bakery"),
	})
	require.Len(t, results, 3)
	assert.Equal(t, repository.StatusExactDuplicate, results[0].Status)
	assert.Equal(t, first.Key, results[0].DuplicateOf.Key)
	assert.Equal(t, repository.StatusPotentialDuplicate, results[1].Status)
	assert.Equal(t, repository.StatusNew, results[2].Status)
	assert.Equal(t, Counts{Imported: 3, New: 1, Exact: 1, Potential: 1}, counts)
}

func TestClassify_PrefersLedgerOverReview(t *testing.T) {
	staged := ledger("FIT1", jan10, -1000, "Coffee", t0.Add(-time.Hour))
	staged.Origin = repository.OriginReview
	committed := ledger("FIT1", jan10, -1000, "Coffee", t0)
	c := New([]repository.Candidate{staged, committed})

	got := c.Classify(record("FIT1", jan10, -1000, "Coffee"))
	require.Equal(t, repository.StatusExactDuplicate, got.Status)
	assert.Equal(t, committed.Key, got.DuplicateOf.Key)
	assert.Equal(t, repository.OriginLedger, got.DuplicateOf.Origin)
}

func TestClassify_ReviewOriginOnly(t *testing.T) {
	staged := ledger("FIT1", jan10, -1000, "Coffee", t0)
	staged.Origin = repository.OriginReview
	c := New([]repository.Candidate{staged})

	got := c.Classify(record("FIT1", jan10, -1000, "Coffee"))
	require.Equal(t, repository.StatusExactDuplicate, got.Status)
	assert.Equal(t, repository.OriginReview, got.DuplicateOf.Origin)
}

func TestClassify_KeyBreaksCreatedAtTie(t *testing.T) {
	a := ledger("FIT1", jan10, -1000, "Coffee", t0)
	b := ledger("FIT1", jan10, -1000, "Coffee", t0)
	a.Key = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b.Key = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	c := New([]repository.Candidate{a, b})

	got := c.Classify(record("FIT1", jan10, -1000, "Coffee"))
	assert.Equal(t, b.Key, got.DuplicateOf.Key)
}

func TestClassify_AmountDayFallbackUsesPayeeSimilarity(t *testing.T) {
	grocer := ledger("", jan10, -4599, "CONTINENTE LISBOA", t0)
	fuel := ledger("", jan10, -4599, "GALP ENERGIA", t0.Add(-time.Hour))
	c := New([]repository.Candidate{fuel, grocer})

	got := c.Classify(record("", jan10, -4599, "Continente  Lisboa"))
	require.Equal(t, repository.StatusPotentialDuplicate, got.Status)
	assert.Equal(t, grocer.Key, got.DuplicateOf.Key)
}

func TestClassify_DifferentBankIDsAreNotMatched(t *testing.T) {
	c := New([]repository.Candidate{ledger("FIT9", jan10, -1000, "Coffee", t0)})

	got := c.Classify(record("FIT1", jan10, -1000, "Coffee"))
	assert.Equal(t, repository.StatusNew, got.Status)
}

func TestClassify_SyntheticIDFallsBackToAmountDay(t *testing.T) {
	// An OFX row already in the ledger, re-imported from a CSV export without
	// a reference column.
	cand := ledger("FIT1", jan10, -1000, "Coffee Shop", t0)
	c := New([]repository.Candidate{cand})

	got := c.Classify(record(repository.SyntheticIDPrefix+"abcd", jan10, -1000, "COFFEE SHOP"))
	require.Equal(t, repository.StatusPotentialDuplicate, got.Status)
	assert.Equal(t, cand.Key, got.DuplicateOf.Key)
}

func TestClassify_SameSyntheticIDIsExact(t *testing.T) {
	id := repository.SyntheticIDPrefix + "0011"
	cand := ledger(id, jan10, -1000, "Coffee", t0)
	cand.Origin = repository.OriginReview
	c := New([]repository.Candidate{cand})

	got := c.Classify(record(id, jan10, -1000, "Coffee"))
	assert.Equal(t, repository.StatusExactDuplicate, got.Status)
}

func TestCandidateQueryFor(t *testing.T) {
	q := CandidateQueryFor([]repository.ParsedTransaction{
		record("B", jan12, -500, "x"),
		record("", jan20.Add(10*time.Hour), 700, "y"),
		record("A", jan10, -500, "z"),
		record("B", jan12, 700, "w"),
	})

	assert.Equal(t, []string{"A", "B"}, q.ExternalIDs)
	assert.Equal(t, []int64{-500, 700}, q.Amounts)
	assert.Equal(t, jan10, q.From)
	assert.Equal(t, jan20, q.To)
}

func TestCandidateQueryFor_Empty(t *testing.T) {
	q := CandidateQueryFor(nil)
	assert.Empty(t, q.ExternalIDs)
	assert.Empty(t, q.Amounts)
	assert.True(t, q.From.IsZero())
}
