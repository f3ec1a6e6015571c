package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/sniffer"
)

// sampleSize bounds how many rows feed date and decimal format detection.
const sampleSize = 50

// ColumnMapping defines how to map CSV columns to transaction fields.
// Optional columns are -1 when absent.
type ColumnMapping struct {
	DateCol          int
	PayeeCol         int
	MemoCol          int
	CategoryCol      int
	AmountCol        int  // For single amount column
	DebitCol         int  // For separate debit/credit
	CreditCol        int  // For separate debit/credit
	ReferenceCol     int  // Bank-assigned transaction id
	IsDoubleEntry    bool // True if using separate debit/credit columns
	IsEuropeanFormat bool // True for European number format (1.234,56)
	DateFormat       string
}

// MappingFromBank converts a saved mapping into a ColumnMapping.
func MappingFromBank(m *repository.BankMapping) ColumnMapping {
	opt := func(p *int) int {
		if p == nil {
			return -1
		}
		return *p
	}
	cm := ColumnMapping{
		DateCol:          m.DateCol,
		PayeeCol:         m.PayeeCol,
		MemoCol:          opt(m.MemoCol),
		CategoryCol:      opt(m.CategoryCol),
		AmountCol:        opt(m.AmountCol),
		DebitCol:         opt(m.DebitCol),
		CreditCol:        opt(m.CreditCol),
		ReferenceCol:     opt(m.ReferenceCol),
		IsEuropeanFormat: m.IsEuropeanFormat,
		DateFormat:       m.DateFormat,
	}
	cm.IsDoubleEntry = cm.AmountCol == -1 && cm.DebitCol != -1 && cm.CreditCol != -1
	return cm
}

// Validate checks that the mapping can produce a transaction.
func (m ColumnMapping) Validate() error {
	if m.DateCol < 0 || m.PayeeCol < 0 {
		return fmt.Errorf("date and payee columns are required")
	}
	if m.IsDoubleEntry {
		if m.DebitCol < 0 || m.CreditCol < 0 {
			return fmt.Errorf("debit and credit columns are required for double-entry files")
		}
	} else if m.AmountCol < 0 {
		return fmt.Errorf("an amount column is required")
	}
	return nil
}

// CSVParser reads delimited statements (.csv, .tsv, .txt).
type CSVParser struct {
	mappings repository.MappingStore
	workers  int
}

// NewCSVParser creates a parser that consults saved mappings before falling
// back to header detection.
func NewCSVParser(mappings repository.MappingStore) *CSVParser {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return &CSVParser{mappings: mappings, workers: workers}
}

func (p *CSVParser) Parse(ctx context.Context, in Input) (Result, error) {
	return p.parse(ctx, in, FormatCSV)
}

func (p *CSVParser) parse(ctx context.Context, in Input, format string) (Result, error) {
	res := Result{Format: format}

	cfg, err := sniffer.DetectConfig(in.Data)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("could not detect file layout: %v", err))
		return res, nil
	}
	res.Fingerprint = cfg.Fingerprint

	rows := sniffer.DataRows(in.Data, cfg)
	mapping, found, err := p.resolveMapping(ctx, in, cfg, rows)
	if err != nil {
		return res, err
	}
	if !found {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"could not identify date, payee and amount columns in %v; save a mapping for fingerprint %s",
			cfg.Headers, cfg.Fingerprint))
		return res, nil
	}

	results, err := p.parseRows(ctx, rows, mapping, format)
	if err != nil {
		return res, err
	}

	seen := make(map[string]int)
	for _, r := range results {
		if r.err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", r.lineNum, r.err))
			continue
		}
		if r.tx.ExternalID == "" {
			r.tx.ExternalID = syntheticExternalID(r.tx, seen)
		}
		res.Records = append(res.Records, r.tx)
	}
	return res, nil
}

func (p *CSVParser) resolveMapping(ctx context.Context, in Input, cfg *sniffer.FileConfig, rows []sniffer.Row) (ColumnMapping, bool, error) {
	if p.mappings != nil {
		saved, err := p.mappings.GetMappingByFingerprint(ctx, in.TenantID, cfg.Fingerprint)
		if err != nil {
			return ColumnMapping{}, false, fmt.Errorf("failed to lookup mapping: %w", err)
		}
		if saved != nil {
			m := MappingFromBank(saved)
			return m, m.Validate() == nil, nil
		}
	}

	s := sniffer.SuggestColumns(cfg.Headers)
	if !s.Usable() {
		return ColumnMapping{}, false, nil
	}

	m := ColumnMapping{
		DateCol:       s.DateCol,
		PayeeCol:      s.PayeeCol,
		MemoCol:       s.MemoCol,
		CategoryCol:   s.CategoryCol,
		AmountCol:     s.AmountCol,
		DebitCol:      s.DebitCol,
		CreditCol:     s.CreditCol,
		ReferenceCol:  s.ReferenceCol,
		IsDoubleEntry: s.AmountCol == -1 && s.IsDoubleEntry,
	}

	var dates, amounts []string
	for _, row := range rows {
		if len(dates) >= sampleSize {
			break
		}
		dates = append(dates, field(row.Fields, m.DateCol))
		if m.IsDoubleEntry {
			amounts = append(amounts, field(row.Fields, m.DebitCol), field(row.Fields, m.CreditCol))
		} else {
			amounts = append(amounts, field(row.Fields, m.AmountCol))
		}
	}
	m.DateFormat = normalizer.DetectDateFormat(dates)
	m.IsEuropeanFormat = normalizer.DetectEuropean(amounts)
	return m, true, nil
}

type parseJob struct {
	lineNum int
	record  []string
	err     error
}

type parseResult struct {
	lineNum int
	tx      *repository.ParsedTransaction
	err     error
}

// parseRows converts rows on a bounded worker pool and returns the results in
// line order.
func (p *CSVParser) parseRows(ctx context.Context, rows []sniffer.Row, mapping ColumnMapping, source string) ([]parseResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan parseJob, p.workers*4)
	results := make(chan parseResult, p.workers*4)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if job.err != nil {
					select {
					case results <- parseResult{lineNum: job.lineNum, err: job.err}:
						continue
					case <-ctx.Done():
						return
					}
				}
				tx, err := parseRow(job.record, mapping, source)
				if tx != nil {
					tx.Line = job.lineNum
				}
				select {
				case results <- parseResult{lineNum: job.lineNum, tx: tx, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Only workers send on results, so closing it after wg.Wait is safe.
	go func() {
		defer close(jobs)
		for _, row := range rows {
			select {
			case jobs <- parseJob{lineNum: row.Line, record: row.Fields, err: row.Err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]parseResult, 0, len(rows))
	for r := range results {
		collected = append(collected, r)
	}
	if err := ctx.Err(); err != nil && len(collected) < len(rows) {
		return nil, err
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].lineNum < collected[j].lineNum
	})
	return collected, nil
}

// parseRow converts a CSV row into a ParsedTransaction
func parseRow(record []string, mapping ColumnMapping, source string) (*repository.ParsedTransaction, error) {
	maxCol := len(record) - 1
	if mapping.DateCol > maxCol || mapping.PayeeCol > maxCol {
		return nil, fmt.Errorf("expected at least %d columns, got %d", max(mapping.DateCol, mapping.PayeeCol)+1, len(record))
	}

	dateStr := record[mapping.DateCol]
	date, err := normalizer.ParseFlexibleDate(dateStr, mapping.DateFormat, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}

	payee := normalizer.CleanPayee(record[mapping.PayeeCol])
	if payee == "" {
		return nil, fmt.Errorf("empty payee")
	}

	var amount int64
	if mapping.IsDoubleEntry {
		amount, err = normalizer.NormalizeDebitCredit(field(record, mapping.DebitCol), field(record, mapping.CreditCol), mapping.IsEuropeanFormat)
	} else {
		if mapping.AmountCol > maxCol {
			return nil, fmt.Errorf("missing amount column %d", mapping.AmountCol+1)
		}
		amount, err = normalizer.ParseAmount(record[mapping.AmountCol], mapping.IsEuropeanFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	return &repository.ParsedTransaction{
		Date:        date,
		Payee:       payee,
		Memo:        normalizer.CleanPayee(field(record, mapping.MemoCol)),
		Category:    normalizer.CleanPayee(field(record, mapping.CategoryCol)),
		AmountMinor: amount,
		ExternalID:  strings.TrimSpace(field(record, mapping.ReferenceCol)),
		Source:      source,
	}, nil
}

func field(record []string, col int) string {
	if col < 0 || col >= len(record) {
		return ""
	}
	return record[col]
}

// syntheticExternalID derives a stable id for rows without a bank reference.
// The occurrence counter keeps identical rows within one file distinct while
// re-uploading the same file reproduces the same ids.
func syntheticExternalID(tx *repository.ParsedTransaction, seen map[string]int) string {
	key := tx.Date.Format(time.DateOnly) + "|" + tx.Payee + "|" + strconv.FormatInt(tx.AmountMinor, 10)
	n := seen[key]
	seen[key] = n + 1

	hash := sha256.Sum256([]byte(key + "|" + strconv.Itoa(n)))
	return repository.SyntheticIDPrefix + hex.EncodeToString(hash[:16])
}
