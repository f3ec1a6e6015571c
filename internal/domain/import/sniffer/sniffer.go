// Package sniffer provides automatic detection of delimited statement formats.
// It identifies delimiters, header rows, and generates fingerprints for bank recognition.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Common bank statement header keywords (multi-language)
var headerKeywords = []string{
	// Portuguese
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito",
	"data valor", "saldo", "categoria", "montante",
	// English
	"date", "description", "amount", "debit", "credit", "balance", "category", "merchant",
	"payee", "memo", "reference",
	// Spanish
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
	// German
	"buchungstag", "betrag", "verwendungszweck", "empfänger",
	// French
	"libellé", "libelle", "montant",
}

// maxHeaderSearch bounds how far into a file the header row may appear.
const maxHeaderSearch = 20

// FileConfig holds the detected configuration for a delimited file
type FileConfig struct {
	Delimiter   rune       // The field delimiter (';', ',', '\t', '|')
	SkipLines   int        // Number of metadata lines before headers
	Headers     []string   // Detected header names
	Fingerprint string     // SHA256 hash of normalized headers
	SampleRows  [][]string // First few data rows for preview
}

// ColumnSuggestions provides auto-detected column indices. -1 means not found.
type ColumnSuggestions struct {
	DateCol       int
	PayeeCol      int
	MemoCol       int
	AmountCol     int // -1 if separate debit/credit
	DebitCol      int
	CreditCol     int
	CategoryCol   int
	ReferenceCol  int
	IsDoubleEntry bool // True if separate debit/credit columns detected
}

// Row is one data record with its 1-based source line.
type Row struct {
	Line   int
	Fields []string
	Err    error
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// DetectConfig analyzes a delimited file and returns its configuration
func DetectConfig(data []byte) (*FileConfig, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")

	delimiter, skipLines, err := findHeaderRow(lines)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimRight(lines[skipLines], "\r")))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	cfg := &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
	}
	cfg.SampleRows = getSampleRows(data, cfg, 5)
	return cfg, nil
}

// DataRows returns every record after the header row. Records the csv reader
// rejects are returned with Err set so callers can report them by line.
func DataRows(data []byte, cfg *FileConfig) []Row {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = cfg.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headerLine := cfg.SkipLines + 1
	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && pe.StartLine > headerLine {
				rows = append(rows, Row{Line: pe.StartLine, Err: pe.Err})
				continue
			}
			if errors.As(err, &pe) {
				continue
			}
			break
		}

		line, _ := reader.FieldPos(0)
		if line <= headerLine || isBlank(record) {
			continue
		}
		rows = append(rows, Row{Line: line, Fields: record})
	}
	return rows
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// SuggestColumns attempts to auto-match columns based on header names
func SuggestColumns(headers []string) *ColumnSuggestions {
	s := &ColumnSuggestions{
		DateCol:      -1,
		PayeeCol:     -1,
		MemoCol:      -1,
		AmountCol:    -1,
		DebitCol:     -1,
		CreditCol:    -1,
		CategoryCol:  -1,
		ReferenceCol: -1,
	}

	for i, header := range headers {
		h := strings.ToLower(strings.TrimSpace(header))

		switch {
		case s.DateCol == -1 && (strings.Contains(h, "data mov") || strings.Contains(h, "date") ||
			strings.Contains(h, "fecha") || h == "data" || h == "datum" || h == "buchungstag"):
			s.DateCol = i

		case s.ReferenceCol == -1 && (strings.Contains(h, "reference") || h == "ref" || h == "id" ||
			strings.Contains(h, "transaction id") || h == "fitid" || h == "referência" || h == "referencia"):
			s.ReferenceCol = i

		case s.PayeeCol == -1 && (strings.Contains(h, "descri") || strings.Contains(h, "merchant") ||
			strings.Contains(h, "payee") || h == "nome" || h == "name" || strings.Contains(h, "libell") ||
			strings.Contains(h, "empfänger")):
			s.PayeeCol = i

		case s.MemoCol == -1 && (strings.Contains(h, "memo") || strings.Contains(h, "note") ||
			strings.Contains(h, "verwendungszweck") || h == "details"):
			s.MemoCol = i

		case s.DebitCol == -1 && (strings.Contains(h, "débito") || strings.Contains(h, "debito") ||
			strings.Contains(h, "debit") || strings.Contains(h, "cargo")):
			s.DebitCol = i

		case s.CreditCol == -1 && (strings.Contains(h, "crédito") || strings.Contains(h, "credito") ||
			strings.Contains(h, "credit") || strings.Contains(h, "abono")):
			s.CreditCol = i

		case s.AmountCol == -1 && (h == "amount" || h == "valor" || h == "importe" || h == "montante" ||
			h == "montant" || h == "betrag" || h == "value"):
			s.AmountCol = i

		case s.CategoryCol == -1 && (strings.Contains(h, "categ") || strings.Contains(h, "tipo") ||
			strings.Contains(h, "type")):
			s.CategoryCol = i
		}
	}

	s.IsDoubleEntry = s.DebitCol != -1 && s.CreditCol != -1
	return s
}

// Usable reports whether the suggestions are enough to read transactions.
func (s *ColumnSuggestions) Usable() bool {
	return s.DateCol != -1 && s.PayeeCol != -1 && (s.AmountCol != -1 || s.IsDoubleEntry)
}

// findHeaderRow locates the header row and its delimiter. The delimiter is the
// candidate occurring most often on that row, and at least twice.
func findHeaderRow(lines []string) (rune, int, error) {
	delimiters := []rune{';', '\t', ',', '|'}

	for i, line := range lines {
		if i > maxHeaderSearch {
			break
		}

		lineLower := strings.ToLower(line)
		hasKeyword := false
		for _, kw := range headerKeywords {
			if strings.Contains(lineLower, kw) {
				hasKeyword = true
				break
			}
		}
		if !hasKeyword {
			continue
		}

		var best rune
		bestCount := 1
		for _, d := range delimiters {
			if count := strings.Count(line, string(d)); count > bestCount {
				best, bestCount = d, count
			}
		}
		if best != 0 {
			return best, i, nil
		}
	}

	return 0, 0, ErrNoHeadersFound
}

// generateFingerprint creates a unique hash from header names
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

// getSampleRows returns the first maxRows readable data rows after the header
func getSampleRows(data []byte, cfg *FileConfig, maxRows int) [][]string {
	var rows [][]string
	for _, r := range DataRows(data, cfg) {
		if r.Err != nil {
			continue
		}
		rows = append(rows, r.Fields)
		if len(rows) >= maxRows {
			break
		}
	}
	return rows
}
