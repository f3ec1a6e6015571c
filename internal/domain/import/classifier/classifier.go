// Package classifier labels parsed transactions as new, exact duplicates or
// potential duplicates of rows already held for the tenant.
package classifier

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
)

// Classification is the verdict for one parsed transaction.
type Classification struct {
	Status      repository.DuplicateStatus
	DuplicateOf *repository.Candidate
}

// Counts summarises a classified batch.
type Counts struct {
	Imported  int
	New       int
	Exact     int
	Potential int
}

type amountDay struct {
	amount int64
	day    int64
}

// Classifier holds the candidate indices for one upload.
type Classifier struct {
	byExternalID map[string][]*repository.Candidate
	byAmountDay  map[amountDay][]*repository.Candidate
}

// New indexes candidates. Both indices are one-to-many: external ids are not
// unique in the ledger.
func New(candidates []repository.Candidate) *Classifier {
	c := &Classifier{
		byExternalID: make(map[string][]*repository.Candidate),
		byAmountDay:  make(map[amountDay][]*repository.Candidate),
	}
	for i := range candidates {
		cand := &candidates[i]
		if cand.ExternalID != "" {
			c.byExternalID[cand.ExternalID] = append(c.byExternalID[cand.ExternalID], cand)
		}
		k := amountDay{amount: cand.AmountMinor, day: civilDay(cand.Date)}
		c.byAmountDay[k] = append(c.byAmountDay[k], cand)
	}
	return c
}

// Classify labels a single record.
func (c *Classifier) Classify(rec repository.ParsedTransaction) Classification {
	day := civilDay(rec.Date)

	if rec.ExternalID != "" {
		if sameID := c.byExternalID[rec.ExternalID]; len(sameID) > 0 {
			var exact []*repository.Candidate
			for _, cand := range sameID {
				if cand.AmountMinor == rec.AmountMinor && civilDay(cand.Date) == day {
					exact = append(exact, cand)
				}
			}
			if len(exact) > 0 {
				return Classification{Status: repository.StatusExactDuplicate, DuplicateOf: preferred(exact)}
			}
			return Classification{Status: repository.StatusPotentialDuplicate, DuplicateOf: closest(sameID, day)}
		}
	}

	var pool []*repository.Candidate
	for _, cand := range c.byAmountDay[amountDay{amount: rec.AmountMinor, day: day}] {
		if conflictingIDs(rec.ExternalID, cand.ExternalID) {
			continue
		}
		pool = append(pool, cand)
	}
	if len(pool) == 0 {
		return Classification{Status: repository.StatusNew}
	}
	return Classification{Status: repository.StatusPotentialDuplicate, DuplicateOf: mostSimilar(pool, rec.Payee)}
}

// ClassifyAll labels every record, preserving order.
func (c *Classifier) ClassifyAll(records []repository.ParsedTransaction) ([]Classification, Counts) {
	out := make([]Classification, len(records))
	counts := Counts{Imported: len(records)}
	for i, rec := range records {
		out[i] = c.Classify(rec)
		switch out[i].Status {
		case repository.StatusExactDuplicate:
			counts.Exact++
		case repository.StatusPotentialDuplicate:
			counts.Potential++
		default:
			counts.New++
		}
	}
	return out, counts
}

// CandidateQueryFor returns the query that loads every row the classifier
// could match for records.
func CandidateQueryFor(records []repository.ParsedTransaction) repository.CandidateQuery {
	q := repository.CandidateQuery{ExternalIDs: []string{}, Amounts: []int64{}}
	seenIDs := make(map[string]struct{})
	seenAmounts := make(map[int64]struct{})
	for i, rec := range records {
		d := normalizer.Day(rec.Date)
		if i == 0 || d.Before(q.From) {
			q.From = d
		}
		if i == 0 || d.After(q.To) {
			q.To = d
		}
		if rec.ExternalID != "" {
			if _, ok := seenIDs[rec.ExternalID]; !ok {
				seenIDs[rec.ExternalID] = struct{}{}
				q.ExternalIDs = append(q.ExternalIDs, rec.ExternalID)
			}
		}
		if _, ok := seenAmounts[rec.AmountMinor]; !ok {
			seenAmounts[rec.AmountMinor] = struct{}{}
			q.Amounts = append(q.Amounts, rec.AmountMinor)
		}
	}
	sort.Strings(q.ExternalIDs)
	sort.Slice(q.Amounts, func(i, j int) bool { return q.Amounts[i] < q.Amounts[j] })
	return q
}

func civilDay(t time.Time) int64 {
	return normalizer.Day(t).Unix() / 86400
}

// conflictingIDs reports whether two bank-assigned ids prove the rows are
// different transactions. Synthetic ids only encode row content.
func conflictingIDs(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	return !repository.IsSyntheticID(a) && !repository.IsSyntheticID(b)
}

// before orders candidates: ledger first, then earliest created, then key.
func before(a, b *repository.Candidate) bool {
	if a.Origin != b.Origin {
		return a.Origin == repository.OriginLedger
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.Key[:], b.Key[:]) < 0
}

func preferred(cands []*repository.Candidate) *repository.Candidate {
	best := cands[0]
	for _, cand := range cands[1:] {
		if before(cand, best) {
			best = cand
		}
	}
	return best
}

func closest(cands []*repository.Candidate, day int64) *repository.Candidate {
	best := cands[0]
	bestDist := absDays(civilDay(best.Date) - day)
	for _, cand := range cands[1:] {
		dist := absDays(civilDay(cand.Date) - day)
		if dist < bestDist || (dist == bestDist && before(cand, best)) {
			best, bestDist = cand, dist
		}
	}
	return best
}

func mostSimilar(cands []*repository.Candidate, payee string) *repository.Candidate {
	target := []rune(normalizePayee(payee))
	best := cands[0]
	bestScore := similarity(target, best.Payee)
	for _, cand := range cands[1:] {
		score := similarity(target, cand.Payee)
		if score > bestScore || (score == bestScore && before(cand, best)) {
			best, bestScore = cand, score
		}
	}
	return best
}

func similarity(target []rune, payee string) float64 {
	other := []rune(normalizePayee(payee))
	if len(target) == 0 && len(other) == 0 {
		return 1
	}
	return levenshtein.RatioForStrings(target, other, levenshtein.DefaultOptions)
}

func normalizePayee(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func absDays(d int64) int64 {
	if d < 0 {
		return -d
	}
	return d
}
